// Package ledger maintains the append-only history of finished tasks and
// the is-last pointer invariant: for every (task type, target) that has
// ever completed a task, exactly one record is flagged as the latest
// outcome, and independently one per (task type, main target).
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/scanwell/taskledger/internal/domain"
	"github.com/scanwell/taskledger/internal/metrics"
	"github.com/scanwell/taskledger/internal/platform/logger"
	"github.com/scanwell/taskledger/internal/store"
)

// Ledger provides the write and read operations of the activity ledger.
type Ledger struct {
	activities store.ActivityStore
}

// New creates a Ledger over the given activity store.
func New(activities store.ActivityStore) *Ledger {
	return &Ledger{activities: activities}
}

// Record appends the history row for a finished task and atomically
// flips both is-last pointers, all on the caller's transaction:
//
//  1. clear is_last on the existing holder of the key (at most one row),
//  2. clear main_is_last on the existing holder of the main key,
//  3. insert the new record with both flags set.
//
// Concurrent Record calls for the same keys conflict at the store level
// and the caller retries the whole transaction; calls for different keys
// never contend. Recency is defined by ledger insertion order, not
// submission order: the call that commits last wins the pointers.
func (l *Ledger) Record(ctx context.Context, tx *sql.Tx, task *domain.Task, status domain.TaskStatus, targetID, mainTargetID string, finishedAt time.Time) (*domain.ActivityRecord, error) {
	rec := domain.NewActivityRecord(task, status, targetID, mainTargetID, finishedAt)
	activities := l.activities.WithTx(tx)

	if err := activities.ClearIsLast(ctx, rec.IsLastKey); err != nil {
		return nil, fmt.Errorf("failed to clear previous is_last holder: %w", err)
	}
	if err := activities.ClearMainIsLast(ctx, rec.MainIsLastKey); err != nil {
		return nil, fmt.Errorf("failed to clear previous main_is_last holder: %w", err)
	}
	if err := activities.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to insert activity record: %w", err)
	}

	return rec, nil
}

// Latest returns the current outcome for (taskType, targetID), or nil
// when the target has no completed task. An invariant violation on the
// key is logged and counted but never surfaced: the reader still gets
// the most recently finished holder, and the next Record for the key
// heals the state.
func (l *Ledger) Latest(ctx context.Context, taskType, targetID string) (*domain.ActivityRecord, error) {
	rec, err := l.activities.Latest(ctx, taskType, targetID)
	return l.sanitize(ctx, rec, err)
}

// LatestForMain returns the current outcome for the owning main target,
// regardless of which branch produced it.
func (l *Ledger) LatestForMain(ctx context.Context, taskType, mainTargetID string) (*domain.ActivityRecord, error) {
	rec, err := l.activities.LatestForMain(ctx, taskType, mainTargetID)
	return l.sanitize(ctx, rec, err)
}

// History returns the target's records in descending finish time.
func (l *Ledger) History(ctx context.Context, targetID string, page store.HistoryPage) ([]*domain.ActivityRecord, error) {
	return l.activities.History(ctx, targetID, page)
}

func (l *Ledger) sanitize(ctx context.Context, rec *domain.ActivityRecord, err error) (*domain.ActivityRecord, error) {
	if err == nil {
		return rec, nil
	}
	if errors.Is(err, store.ErrActivityNotFound) {
		return nil, nil
	}
	if errors.Is(err, store.ErrInvariantViolation) && rec != nil {
		logger.FromContext(ctx).Error("is-last invariant violation observed on read",
			"error", err)
		metrics.InvariantViolations.Inc()
		return rec, nil
	}
	return nil, err
}
