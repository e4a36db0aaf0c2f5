package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/scanwell/taskledger/internal/store"
)

// PostgresPayloadStore implements store.PayloadStore using PostgreSQL.
// task_inputs and scanner_contexts hold the write-once side payloads.
type PostgresPayloadStore struct {
	db store.DBTX
}

// NewPostgresPayloadStore creates a new PostgresPayloadStore.
func NewPostgresPayloadStore(db store.DBTX) *PostgresPayloadStore {
	return &PostgresPayloadStore{db: db}
}

// WithTx returns a new PayloadStore bound to the provided transaction.
func (s *PostgresPayloadStore) WithTx(tx *sql.Tx) store.PayloadStore {
	return &PostgresPayloadStore{db: tx}
}

// SaveInput stores the task input. The primary key enforces write-once.
func (s *PostgresPayloadStore) SaveInput(ctx context.Context, taskID uuid.UUID, payload []byte) error {
	query := `INSERT INTO task_inputs (task_id, payload, created_at) VALUES ($1, $2, $3)`

	if _, err := s.db.ExecContext(ctx, query, taskID, payload, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save task input: %w", MapError(err))
	}
	return nil
}

// GetInput returns the task input.
func (s *PostgresPayloadStore) GetInput(ctx context.Context, taskID uuid.UUID) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM task_inputs WHERE task_id = $1`, taskID,
	).Scan(&payload)
	if err != nil {
		return nil, fmt.Errorf("failed to get task input: %w", MapError(err))
	}
	return payload, nil
}

// SaveScannerContext stores the scanner context captured during execution.
func (s *PostgresPayloadStore) SaveScannerContext(ctx context.Context, taskID uuid.UUID, content string) error {
	query := `INSERT INTO scanner_contexts (task_id, context, created_at) VALUES ($1, $2, $3)`

	if _, err := s.db.ExecContext(ctx, query, taskID, content, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save scanner context: %w", MapError(err))
	}
	return nil
}

// GetScannerContext returns the scanner context.
func (s *PostgresPayloadStore) GetScannerContext(ctx context.Context, taskID uuid.UUID) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx,
		`SELECT context FROM scanner_contexts WHERE task_id = $1`, taskID,
	).Scan(&content)
	if err != nil {
		return "", fmt.Errorf("failed to get scanner context: %w", MapError(err))
	}
	return content, nil
}

// DeleteByTasks removes payload rows for the given task ids.
func (s *PostgresPayloadStore) DeleteByTasks(ctx context.Context, taskIDs []uuid.UUID) (int64, error) {
	if len(taskIDs) == 0 {
		return 0, nil
	}

	var total int64
	for _, table := range []string{"task_inputs", "scanner_contexts"} {
		res, err := s.db.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE task_id = ANY($1::uuid[])`, table),
			uuidStrings(taskIDs))
		if err != nil {
			return total, fmt.Errorf("failed to delete payload rows from %s: %w", table, MapError(err))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("failed to get rows affected: %w", MapError(err))
		}
		total += n
	}
	return total, nil
}

// DeleteOrphaned removes payload rows whose task UUID matches neither a
// queued task nor an activity record.
func (s *PostgresPayloadStore) DeleteOrphaned(ctx context.Context, limit int) (int64, error) {
	var total int64
	for _, table := range []string{"task_inputs", "scanner_contexts"} {
		query := fmt.Sprintf(`
			DELETE FROM %s
			WHERE task_id IN (
				SELECT p.task_id FROM %s p
				WHERE NOT EXISTS (SELECT 1 FROM tasks t WHERE t.id = p.task_id)
				  AND NOT EXISTS (SELECT 1 FROM activity_records ar WHERE ar.id = p.task_id)
				LIMIT $1
			)
		`, table, table)

		res, err := s.db.ExecContext(ctx, query, limit)
		if err != nil {
			return total, fmt.Errorf("failed to delete orphaned rows from %s: %w", table, MapError(err))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("failed to get rows affected: %w", MapError(err))
		}
		total += n
	}
	return total, nil
}
