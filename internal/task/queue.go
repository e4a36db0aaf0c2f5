package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/scanwell/taskledger/internal/domain"
	"github.com/scanwell/taskledger/internal/ledger"
	"github.com/scanwell/taskledger/internal/metrics"
	"github.com/scanwell/taskledger/internal/platform/logger"
	"github.com/scanwell/taskledger/internal/resolver"
	"github.com/scanwell/taskledger/internal/store"
)

// completeMaxAttempts bounds the retry loop around the completion
// transaction when concurrent completions for the same keys collide.
const completeMaxAttempts = 3

// Queue coordinates the task lifecycle against the shared store.
type Queue struct {
	txr        store.TxRunner
	tasks      store.TaskStore
	chars      store.CharacteristicStore
	payloads   store.PayloadStore
	resolver   *resolver.Resolver
	ledger     *ledger.Ledger
	staleAfter time.Duration
}

// NewQueue creates a Queue. staleAfter is the claim timeout after which
// an IN_PROGRESS task is treated as abandoned and becomes claimable again.
func NewQueue(
	txr store.TxRunner,
	tasks store.TaskStore,
	chars store.CharacteristicStore,
	payloads store.PayloadStore,
	res *resolver.Resolver,
	led *ledger.Ledger,
	staleAfter time.Duration,
) *Queue {
	return &Queue{
		txr:        txr,
		tasks:      tasks,
		chars:      chars,
		payloads:   payloads,
		resolver:   res,
		ledger:     led,
		staleAfter: staleAfter,
	}
}

// Submit creates a pending task with its characteristics stored verbatim
// and an optional input payload. Target resolution is best-effort: a
// component that does not exist yet leaves the task unresolved, and the
// authoritative attempt happens at completion time. Submit never blocks
// on resolution.
func (q *Queue) Submit(ctx context.Context, taskType, componentRef string, characteristics map[string]string, input []byte) (*domain.Task, error) {
	log := logger.FromContext(ctx)

	t, err := domain.NewTask(taskType, componentRef)
	if err != nil {
		return nil, err
	}

	cs := make(domain.Characteristics, 0, len(characteristics))
	for k, v := range characteristics {
		c, err := domain.NewCharacteristic(t.ID, k, v)
		if err != nil {
			return nil, err
		}
		cs = append(cs, *c)
	}

	if res, err := q.resolver.Resolve(ctx, componentRef, cs); err == nil {
		t.TargetID = res.TargetID
		t.MainTargetID = res.MainTargetID
	} else {
		log.Debug("submission-time resolution failed, deferring to completion",
			"task_id", t.ID,
			"component_ref", componentRef,
			"error", err)
	}

	err = q.txr.RunInTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := q.tasks.WithTx(tx).Save(ctx, t); err != nil {
			return err
		}
		if err := q.chars.WithTx(tx).SaveAll(ctx, cs); err != nil {
			return err
		}
		if input != nil {
			if err := q.payloads.WithTx(tx).SaveInput(ctx, t.ID, input); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit task: %w", err)
	}

	metrics.TasksSubmitted.WithLabelValues(taskType).Inc()
	log.Info("task submitted",
		"task_id", t.ID,
		"task_type", taskType,
		"component_ref", componentRef)
	return t, nil
}

// Claim hands the oldest claimable task to the worker, or nil when the
// queue is empty. Claim conflicts between workers are resolved inside
// the store (exactly one wins); an empty queue returns immediately and
// the caller owns the poll interval.
func (q *Queue) Claim(ctx context.Context, workerID string) (*domain.Task, error) {
	t, err := q.tasks.Claim(ctx, workerID, q.staleAfter)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim task: %w", err)
	}

	if t.TargetID == "" {
		q.refreshTargets(ctx, t)
	}

	metrics.TasksClaimed.WithLabelValues(t.Type).Inc()
	return t, nil
}

// refreshTargets retries resolution for a task claimed while still
// unresolved and persists the result, so status reads show the target as
// soon as the component exists. Best effort: the authoritative
// resolution still happens at completion.
func (q *Queue) refreshTargets(ctx context.Context, t *domain.Task) {
	cs, err := q.chars.ListByTask(ctx, t.ID)
	if err != nil {
		return
	}
	res, err := q.resolver.Resolve(ctx, t.ComponentRef, cs)
	if err != nil {
		return
	}
	if err := q.tasks.UpdateTargets(ctx, t.ID, res.TargetID, res.MainTargetID); err != nil {
		logger.FromContext(ctx).Debug("failed to persist claim-time resolution",
			"task_id", t.ID,
			"error", err)
		return
	}
	t.TargetID = res.TargetID
	t.MainTargetID = res.MainTargetID
}

// GetTask returns a queued task by id.
func (q *Queue) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return q.tasks.GetByID(ctx, id)
}

// GetInput returns the input payload submitted with a task, or nil when
// the task was submitted without one.
func (q *Queue) GetInput(ctx context.Context, id uuid.UUID) ([]byte, error) {
	input, err := q.payloads.GetInput(ctx, id)
	if err != nil {
		if store.IsNotFoundError(err) {
			return nil, nil
		}
		return nil, err
	}
	return input, nil
}

// SaveScannerContext stores the execution context captured by a worker.
func (q *Queue) SaveScannerContext(ctx context.Context, id uuid.UUID, content string) error {
	return q.payloads.SaveScannerContext(ctx, id, content)
}

// Complete transitions an IN_PROGRESS task to its terminal status and
// hands it to the activity ledger as one logical step: the queue row
// removal and the ledger insertion commit or roll back together. The
// target is re-resolved authoritatively here because the component may
// have been provisioned while the task was queued.
//
// Returns store.ErrAlreadyCompleted when the task is no longer in
// progress — the benign outcome of the double-execution race inherent
// in timeout-based reclaiming. Conflicts on the is-last keys are
// retried transparently.
func (q *Queue) Complete(ctx context.Context, taskID uuid.UUID, outcome domain.Outcome) error {
	log := logger.FromContext(ctx)

	var taskType string
	for attempt := 1; ; attempt++ {
		err := q.txr.RunInTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
			t, err := q.tasks.WithTx(tx).DeleteInProgress(ctx, taskID)
			if err != nil {
				return err
			}
			taskType = t.Type

			chars := q.chars.WithTx(tx)
			cs, err := chars.ListByTask(ctx, taskID)
			if err != nil {
				return err
			}

			var targetID, mainTargetID string
			res, err := q.resolver.Resolve(ctx, t.ComponentRef, cs)
			switch {
			case err == nil:
				targetID, mainTargetID = res.TargetID, res.MainTargetID
			case errors.Is(err, resolver.ErrUnresolved):
				// Recorded unresolved; the reaper prunes it later.
				log.Info("completing task with unresolved target",
					"task_id", taskID,
					"component_ref", t.ComponentRef)
			default:
				return err
			}

			if err := chars.MoveToHistory(ctx, taskID); err != nil {
				return err
			}

			_, err = q.ledger.Record(ctx, tx, t, outcome.Status(), targetID, mainTargetID, time.Now().UTC())
			return err
		})

		if err == nil {
			break
		}
		if errors.Is(err, store.ErrAlreadyCompleted) {
			log.Info("task already completed by another worker",
				"task_id", taskID)
			return store.ErrAlreadyCompleted
		}
		if store.IsRetryable(err) && attempt < completeMaxAttempts {
			metrics.CompletionConflicts.Inc()
			log.Debug("retrying completion after conflict",
				"task_id", taskID,
				"attempt", attempt)
			sleepWithJitter(ctx, attempt)
			continue
		}
		return fmt.Errorf("failed to complete task: %w", err)
	}

	metrics.TasksCompleted.WithLabelValues(taskType, string(outcome.Status())).Inc()
	log.Info("task completed",
		"task_id", taskID,
		"outcome", outcome)
	return nil
}

// Cancel moves a PENDING task directly to CANCELED, recording it as a
// terminal activity record without it ever having been claimed. Claimed
// tasks cannot be cancelled; they can only age out via the claim timeout.
func (q *Queue) Cancel(ctx context.Context, taskID uuid.UUID) error {
	log := logger.FromContext(ctx)

	err := q.txr.RunInTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		t, err := q.tasks.WithTx(tx).DeletePending(ctx, taskID)
		if err != nil {
			return err
		}

		chars := q.chars.WithTx(tx)
		cs, err := chars.ListByTask(ctx, taskID)
		if err != nil {
			return err
		}

		var targetID, mainTargetID string
		res, err := q.resolver.Resolve(ctx, t.ComponentRef, cs)
		switch {
		case err == nil:
			targetID, mainTargetID = res.TargetID, res.MainTargetID
		case errors.Is(err, resolver.ErrUnresolved):
			log.Info("canceling task with unresolved target",
				"task_id", taskID,
				"component_ref", t.ComponentRef)
		default:
			return err
		}

		if err := chars.MoveToHistory(ctx, taskID); err != nil {
			return err
		}

		_, err = q.ledger.Record(ctx, tx, t, domain.TaskStatusCanceled, targetID, mainTargetID, time.Now().UTC())
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrNotPending) || errors.Is(err, store.ErrTaskNotFound) {
			return err
		}
		return fmt.Errorf("failed to cancel task: %w", err)
	}

	log.Info("task canceled", "task_id", taskID)
	return nil
}

// sleepWithJitter backs off between completion retries. The jitter keeps
// two workers colliding on the same key from retrying in lockstep.
func sleepWithJitter(ctx context.Context, attempt int) {
	base := time.Duration(attempt) * 50 * time.Millisecond
	jitter := time.Duration(rand.Int63n(int64(50 * time.Millisecond)))
	select {
	case <-time.After(base + jitter):
	case <-ctx.Done():
	}
}
