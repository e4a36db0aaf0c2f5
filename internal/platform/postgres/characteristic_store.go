package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/scanwell/taskledger/internal/domain"
	"github.com/scanwell/taskledger/internal/store"
)

// PostgresCharacteristicStore implements store.CharacteristicStore using
// PostgreSQL. Pending tags live in task_characteristics, historical ones
// in activity_characteristics; both share the (task_id, key) identity.
type PostgresCharacteristicStore struct {
	db store.DBTX
}

// NewPostgresCharacteristicStore creates a new PostgresCharacteristicStore.
func NewPostgresCharacteristicStore(db store.DBTX) *PostgresCharacteristicStore {
	return &PostgresCharacteristicStore{db: db}
}

// WithTx returns a new CharacteristicStore bound to the provided transaction.
func (s *PostgresCharacteristicStore) WithTx(tx *sql.Tx) store.CharacteristicStore {
	return &PostgresCharacteristicStore{db: tx}
}

// SaveAll stores the pending characteristics of a task verbatim.
func (s *PostgresCharacteristicStore) SaveAll(ctx context.Context, cs domain.Characteristics) error {
	query := `INSERT INTO task_characteristics (task_id, key, value) VALUES ($1, $2, $3)`

	for _, c := range cs {
		if _, err := s.db.ExecContext(ctx, query, c.TaskID, c.Key, c.Value); err != nil {
			return fmt.Errorf("failed to save characteristic %q: %w", c.Key, MapError(err))
		}
	}
	return nil
}

// ListByTask returns the pending characteristics of a task.
func (s *PostgresCharacteristicStore) ListByTask(ctx context.Context, taskID uuid.UUID) (domain.Characteristics, error) {
	return s.list(ctx, "task_characteristics", taskID)
}

// ListHistorical returns the characteristics carried by a finished task.
func (s *PostgresCharacteristicStore) ListHistorical(ctx context.Context, taskID uuid.UUID) (domain.Characteristics, error) {
	return s.list(ctx, "activity_characteristics", taskID)
}

func (s *PostgresCharacteristicStore) list(ctx context.Context, table string, taskID uuid.UUID) (domain.Characteristics, error) {
	query := fmt.Sprintf(`SELECT task_id, key, value FROM %s WHERE task_id = $1 ORDER BY key`, table)

	rows, err := s.db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query characteristics: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var cs domain.Characteristics
	for rows.Next() {
		var c domain.Characteristic
		if err := rows.Scan(&c.TaskID, &c.Key, &c.Value); err != nil {
			return nil, fmt.Errorf("failed to scan characteristic: %w", MapError(err))
		}
		cs = append(cs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating characteristics: %w", MapError(err))
	}
	return cs, nil
}

// MoveToHistory carries a task's pending characteristics into the
// historical table and removes the pending rows. Runs inside the
// completion transaction so a crash leaves either both tables intact or
// neither changed.
func (s *PostgresCharacteristicStore) MoveToHistory(ctx context.Context, taskID uuid.UUID) error {
	insert := `
		INSERT INTO activity_characteristics (task_id, key, value)
		SELECT task_id, key, value FROM task_characteristics WHERE task_id = $1
		ON CONFLICT (task_id, key) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, insert, taskID); err != nil {
		return fmt.Errorf("failed to copy characteristics to history: %w", MapError(err))
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM task_characteristics WHERE task_id = $1`, taskID); err != nil {
		return fmt.Errorf("failed to delete pending characteristics: %w", MapError(err))
	}
	return nil
}

// DeleteByTasks removes historical characteristic rows for the given task ids.
func (s *PostgresCharacteristicStore) DeleteByTasks(ctx context.Context, taskIDs []uuid.UUID) (int64, error) {
	if len(taskIDs) == 0 {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM activity_characteristics WHERE task_id = ANY($1::uuid[])`,
		uuidStrings(taskIDs))
	if err != nil {
		return 0, fmt.Errorf("failed to delete characteristics: %w", MapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", MapError(err))
	}
	return n, nil
}

// DeleteOrphaned removes characteristic rows whose task UUID matches
// neither a queued task nor an activity record. The selection is
// monotonic: a row only becomes more orphaned over time, so concurrent
// ingestion can never make a listed row referenced again.
func (s *PostgresCharacteristicStore) DeleteOrphaned(ctx context.Context, limit int) (int64, error) {
	var total int64
	for _, table := range []string{"task_characteristics", "activity_characteristics"} {
		query := fmt.Sprintf(`
			DELETE FROM %s
			WHERE task_id IN (
				SELECT c.task_id FROM %s c
				WHERE NOT EXISTS (SELECT 1 FROM tasks t WHERE t.id = c.task_id)
				  AND NOT EXISTS (SELECT 1 FROM activity_records ar WHERE ar.id = c.task_id)
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
