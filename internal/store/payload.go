package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

// PayloadStore persists the write-once side payloads of a task: the
// submitted task input and the scanner context captured at execution
// time. Rows are keyed by task UUID and written exactly once; there is
// no referential integrity constraint back to the owning row, so true
// orphans from a crash between payload write and task finalization are
// cleaned up by the orphan reaper.
type PayloadStore interface {
	// SaveInput stores the task input. Returns ErrDuplicate when an
	// input already exists for the task.
	SaveInput(ctx context.Context, taskID uuid.UUID, payload []byte) error

	// GetInput returns the task input, or ErrNotFound.
	GetInput(ctx context.Context, taskID uuid.UUID) ([]byte, error)

	// SaveScannerContext stores the scanner context captured during
	// execution. Returns ErrDuplicate when one already exists.
	SaveScannerContext(ctx context.Context, taskID uuid.UUID, content string) error

	// GetScannerContext returns the scanner context, or ErrNotFound.
	GetScannerContext(ctx context.Context, taskID uuid.UUID) (string, error)

	// DeleteByTasks removes payload rows for the given task ids. Reaper use only.
	DeleteByTasks(ctx context.Context, taskIDs []uuid.UUID) (int64, error)

	// DeleteOrphaned removes payload rows whose task UUID matches
	// neither a queued task nor an activity record.
	DeleteOrphaned(ctx context.Context, limit int) (int64, error)

	// WithTx returns a new PayloadStore bound to the provided transaction.
	WithTx(tx *sql.Tx) PayloadStore
}
