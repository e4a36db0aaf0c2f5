package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/scanwell/taskledger/internal/domain"
)

// TaskStore defines the interface for persisting queued tasks.
type TaskStore interface {
	// Save persists a new pending task.
	Save(ctx context.Context, task *domain.Task) error

	// GetByID retrieves a task by its identifier.
	// Returns ErrTaskNotFound if no such task exists.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// Claim atomically selects the oldest claimable task and transitions
	// it to IN_PROGRESS for the given worker, recording the start time
	// and incrementing the execution count. A task is claimable when it
	// is PENDING, or when it has been IN_PROGRESS longer than staleAfter
	// (abandoned by a crashed worker; its execution count is preserved
	// so repeated failures stay visible downstream).
	// Returns ErrTaskNotFound when nothing is claimable.
	Claim(ctx context.Context, workerID string, staleAfter time.Duration) (*domain.Task, error)

	// DeleteInProgress removes the task row, guarded on it still being
	// IN_PROGRESS, and returns the deleted row. Returns
	// ErrAlreadyCompleted when the guard matches nothing: the task was
	// reclaimed and finished by another worker.
	DeleteInProgress(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// DeletePending removes the task row, guarded on it still being
	// PENDING, and returns the deleted row. Returns ErrNotPending when
	// the task exists but has been claimed, ErrTaskNotFound otherwise.
	DeletePending(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// UpdateTargets stores the best-effort resolution result on a task.
	UpdateTargets(ctx context.Context, id uuid.UUID, targetID, mainTargetID string) error

	// CountPending returns the number of PENDING tasks.
	CountPending(ctx context.Context) (int, error)

	// WithTx returns a new TaskStore instance that uses the provided transaction.
	// The transaction is created and managed by the caller (typically a service).
	WithTx(tx *sql.Tx) TaskStore
}
