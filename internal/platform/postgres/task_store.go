package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/scanwell/taskledger/internal/domain"
	"github.com/scanwell/taskledger/internal/platform/logger"
	"github.com/scanwell/taskledger/internal/store"
)

// taskColumns is the scan order shared by every task query.
const taskColumns = `id, type, component_ref, target_id, main_target_id,
	status, submitted_at, started_at, worker_id, execution_count`

// PostgresTaskStore implements the store.TaskStore interface using PostgreSQL.
type PostgresTaskStore struct {
	db store.DBTX
}

// NewPostgresTaskStore creates a new PostgresTaskStore.
func NewPostgresTaskStore(db store.DBTX) *PostgresTaskStore {
	return &PostgresTaskStore{db: db}
}

// WithTx returns a new TaskStore bound to the provided transaction.
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return &PostgresTaskStore{db: tx}
}

// Save persists a new pending task.
func (s *PostgresTaskStore) Save(ctx context.Context, task *domain.Task) error {
	log := logger.FromContext(ctx)

	query := `
		INSERT INTO tasks (id, type, component_ref, target_id, main_target_id,
			status, submitted_at, execution_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.db.ExecContext(ctx, query,
		task.ID,
		task.Type,
		task.ComponentRef,
		nullString(task.TargetID),
		nullString(task.MainTargetID),
		task.Status,
		task.SubmittedAt,
		task.ExecutionCount,
	)
	if err != nil {
		log.Error("failed to save task",
			"task_id", task.ID,
			"task_type", task.Type,
			"error", err)
		return fmt.Errorf("failed to save task: %w", MapError(err))
	}

	return nil
}

// GetByID retrieves a task by its identifier.
func (s *PostgresTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if store.IsNotFoundError(MapError(err)) {
			return nil, store.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", MapError(err))
	}
	return task, nil
}

// Claim atomically hands the oldest claimable task to the worker. The
// subquery locks the candidate row with SKIP LOCKED so N concurrent
// claimers never block each other and exactly one wins a given task.
// Stale IN_PROGRESS rows past staleAfter are claimable again; their
// execution count keeps growing so repeated failures stay detectable.
func (s *PostgresTaskStore) Claim(ctx context.Context, workerID string, staleAfter time.Duration) (*domain.Task, error) {
	query := `
		UPDATE tasks
		SET status = $1,
		    started_at = NOW(),
		    worker_id = $2,
		    execution_count = execution_count + 1
		WHERE id = (
			SELECT id FROM tasks
			WHERE status = $3
			   OR (status = $1 AND started_at < NOW() - make_interval(secs => $4))
			ORDER BY submitted_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + taskColumns

	task, err := scanTask(s.db.QueryRowContext(ctx, query,
		domain.TaskStatusInProgress,
		workerID,
		domain.TaskStatusPending,
		staleAfter.Seconds(),
	))
	if err != nil {
		mapped := MapError(err)
		if store.IsNotFoundError(mapped) {
			return nil, store.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to claim task: %w", mapped)
	}
	return task, nil
}

// DeleteInProgress removes the task row guarded on it still being
// IN_PROGRESS. Zero rows means another worker reclaimed and finished it.
func (s *PostgresTaskStore) DeleteInProgress(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `DELETE FROM tasks WHERE id = $1 AND status = $2 RETURNING ` + taskColumns

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id, domain.TaskStatusInProgress))
	if err != nil {
		mapped := MapError(err)
		if store.IsNotFoundError(mapped) {
			return nil, store.ErrAlreadyCompleted
		}
		return nil, fmt.Errorf("failed to delete in-progress task: %w", mapped)
	}
	return task, nil
}

// DeletePending removes the task row guarded on it still being PENDING.
func (s *PostgresTaskStore) DeletePending(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `DELETE FROM tasks WHERE id = $1 AND status = $2 RETURNING ` + taskColumns

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id, domain.TaskStatusPending))
	if err != nil {
		mapped := MapError(err)
		if !store.IsNotFoundError(mapped) {
			return nil, fmt.Errorf("failed to delete pending task: %w", mapped)
		}
		// Distinguish a claimed task from a missing one.
		if _, getErr := s.GetByID(ctx, id); getErr == nil {
			return nil, store.ErrNotPending
		}
		return nil, store.ErrTaskNotFound
	}
	return task, nil
}

// UpdateTargets stores the best-effort resolution result on a task.
func (s *PostgresTaskStore) UpdateTargets(ctx context.Context, id uuid.UUID, targetID, mainTargetID string) error {
	query := `UPDATE tasks SET target_id = $1, main_target_id = $2 WHERE id = $3`

	_, err := s.db.ExecContext(ctx, query, nullString(targetID), nullString(mainTargetID), id)
	if err != nil {
		return fmt.Errorf("failed to update task targets: %w", MapError(err))
	}
	return nil
}

// CountPending returns the number of PENDING tasks.
func (s *PostgresTaskStore) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE status = $1`, domain.TaskStatusPending,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending tasks: %w", MapError(err))
	}
	return n, nil
}

// rowScanner lets scanTask work with both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		t            domain.Task
		targetID     sql.NullString
		mainTargetID sql.NullString
		startedAt    sql.NullTime
		workerID     sql.NullString
	)

	err := row.Scan(
		&t.ID,
		&t.Type,
		&t.ComponentRef,
		&targetID,
		&mainTargetID,
		&t.Status,
		&t.SubmittedAt,
		&startedAt,
		&workerID,
		&t.ExecutionCount,
	)
	if err != nil {
		return nil, err
	}

	t.TargetID = targetID.String
	t.MainTargetID = mainTargetID.String
	t.StartedAt = startedAt.Time
	t.WorkerID = workerID.String
	return &t, nil
}

// nullString maps the empty string to SQL NULL so unresolved targets
// stay NULL in the store rather than becoming empty text.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullTime maps the zero time to SQL NULL.
func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// uuidStrings converts ids for use with = ANY($1); the stdlib driver
// does not convert []uuid.UUID itself.
func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
