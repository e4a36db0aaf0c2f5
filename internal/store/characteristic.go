package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/scanwell/taskledger/internal/domain"
)

// CharacteristicStore persists the key/value tags attached to tasks.
// Two table variants exist: pending characteristics live alongside the
// task queue row, historical ones alongside the activity record. Both
// are keyed by task UUID with no enforced foreign key; the orphan reaper
// restores consistency after partial failures.
type CharacteristicStore interface {
	// SaveAll stores the pending characteristics of a task verbatim.
	SaveAll(ctx context.Context, cs domain.Characteristics) error

	// ListByTask returns the pending characteristics of a task.
	ListByTask(ctx context.Context, taskID uuid.UUID) (domain.Characteristics, error)

	// MoveToHistory copies a task's pending characteristics into the
	// historical table and removes the pending rows, as part of the
	// completion transaction.
	MoveToHistory(ctx context.Context, taskID uuid.UUID) error

	// ListHistorical returns the characteristics carried by a finished task.
	ListHistorical(ctx context.Context, taskID uuid.UUID) (domain.Characteristics, error)

	// DeleteByTasks removes historical characteristic rows for the given
	// task ids. Reaper use only.
	DeleteByTasks(ctx context.Context, taskIDs []uuid.UUID) (int64, error)

	// DeleteOrphaned removes characteristic rows (both variants) whose
	// task UUID matches neither a queued task nor an activity record.
	DeleteOrphaned(ctx context.Context, limit int) (int64, error)

	// WithTx returns a new CharacteristicStore bound to the provided transaction.
	WithTx(tx *sql.Tx) CharacteristicStore
}
