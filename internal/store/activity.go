package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/scanwell/taskledger/internal/domain"
)

// HistoryPage describes pagination for history scans.
type HistoryPage struct {
	Offset int
	Limit  int
}

// ActivityStore defines the interface for the append-only activity ledger.
// Records are never mutated after insertion except for the four is-last
// fields, and never deleted except by the orphan reaper.
type ActivityStore interface {
	// Insert appends a new activity record.
	Insert(ctx context.Context, rec *domain.ActivityRecord) error

	// ClearIsLast unsets is_last on the record currently holding the key.
	// Affects zero or one row by invariant.
	ClearIsLast(ctx context.Context, isLastKey string) error

	// ClearMainIsLast unsets main_is_last on the record currently holding the key.
	ClearMainIsLast(ctx context.Context, mainIsLastKey string) error

	// GetByID retrieves an activity record by its identifier.
	// Returns ErrActivityNotFound if no such record exists.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ActivityRecord, error)

	// Latest returns the record holding is_last for (taskType, targetID).
	// An O(1) indexed point lookup regardless of history depth. Returns
	// ErrActivityNotFound when the target has no completed task, and
	// ErrInvariantViolation when more than one holder is found.
	Latest(ctx context.Context, taskType, targetID string) (*domain.ActivityRecord, error)

	// LatestForMain is Latest computed against the main-target pointer.
	LatestForMain(ctx context.Context, taskType, mainTargetID string) (*domain.ActivityRecord, error)

	// History returns records for a target in descending finish time,
	// unaffected by the is-last pointers.
	History(ctx context.Context, targetID string, page HistoryPage) ([]*domain.ActivityRecord, error)

	// ListMistargeted returns ids of records whose target is unresolved
	// or equal to their main target while carrying at least one branch or
	// pull request characteristic. These are leftovers from the schema
	// migration transition period, due for reaping.
	ListMistargeted(ctx context.Context, limit int) ([]uuid.UUID, error)

	// DeleteByIDs removes the given records. Reaper use only.
	DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error)

	// WithTx returns a new ActivityStore bound to the provided transaction.
	WithTx(tx *sql.Tx) ActivityStore
}
