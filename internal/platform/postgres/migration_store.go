package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/scanwell/taskledger/internal/store"
)

// PostgresMigrationStore implements store.MigrationStore using PostgreSQL.
type PostgresMigrationStore struct {
	db store.DBTX
}

// NewPostgresMigrationStore creates a new PostgresMigrationStore.
func NewPostgresMigrationStore(db store.DBTX) *PostgresMigrationStore {
	return &PostgresMigrationStore{db: db}
}

// WithTx returns a new MigrationStore bound to the provided transaction.
func (s *PostgresMigrationStore) WithTx(tx *sql.Tx) store.MigrationStore {
	return &PostgresMigrationStore{db: tx}
}

// IsCompleted reports whether the one-time migration has run.
func (s *PostgresMigrationStore) IsCompleted(ctx context.Context, migrationID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM completed_migrations WHERE id = $1)`, migrationID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check migration gate: %w", MapError(err))
	}
	return exists, nil
}

// MarkCompleted records the migration as done. The primary key turns a
// double application into ErrDuplicate, which one-shot steps treat as fatal.
func (s *PostgresMigrationStore) MarkCompleted(ctx context.Context, migrationID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO completed_migrations (id, completed_at) VALUES ($1, $2)`,
		migrationID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark migration completed: %w", MapError(err))
	}
	return nil
}

// GetPhase returns the recorded phase of an online column migration.
func (s *PostgresMigrationStore) GetPhase(ctx context.Context, migrationID string) (string, error) {
	var phase string
	err := s.db.QueryRowContext(ctx,
		`SELECT phase FROM migration_phases WHERE migration_id = $1`, migrationID,
	).Scan(&phase)
	if err != nil {
		return "", fmt.Errorf("failed to get migration phase: %w", MapError(err))
	}
	return phase, nil
}

// SetPhase upserts the recorded phase.
func (s *PostgresMigrationStore) SetPhase(ctx context.Context, migrationID, phase string) error {
	query := `
		INSERT INTO migration_phases (migration_id, phase, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (migration_id) DO UPDATE SET phase = EXCLUDED.phase, updated_at = EXCLUDED.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, migrationID, phase, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to set migration phase: %w", MapError(err))
	}
	return nil
}
