// Package reaper prunes activity records whose target never resolved
// (or collapsed onto the main target) despite carrying branch or pull
// request characteristics, and garbage-collects side-table rows that no
// task or record references anymore. Characteristic-free records are
// legacy main-branch history and are never touched.
package reaper

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/scanwell/taskledger/internal/metrics"
	"github.com/scanwell/taskledger/internal/store"
)

// Reaper runs the periodic cleanup sweeps.
type Reaper struct {
	txr        store.TxRunner
	activities store.ActivityStore
	chars      store.CharacteristicStore
	payloads   store.PayloadStore
	batchSize  int
	logger     *slog.Logger
	cron       *cron.Cron
}

// New creates a Reaper. batchSize bounds how many records one sweep
// iteration deletes in a single transaction.
func New(
	txr store.TxRunner,
	activities store.ActivityStore,
	chars store.CharacteristicStore,
	payloads store.PayloadStore,
	batchSize int,
	logger *slog.Logger,
) *Reaper {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Reaper{
		txr:        txr,
		activities: activities,
		chars:      chars,
		payloads:   payloads,
		batchSize:  batchSize,
		logger:     logger,
	}
}

// Start schedules recurring sweeps. The schedule accepts standard cron
// expressions and descriptors like "@hourly".
func (r *Reaper) Start(schedule string) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if err := r.Sweep(context.Background()); err != nil {
			r.logger.Error("reaper sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid reaper schedule %q: %w", schedule, err)
	}
	c.Start()
	r.cron = c
	r.logger.Info("reaper scheduled", "schedule", schedule)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (r *Reaper) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// Sweep runs both cleanup rules once. Each rule is idempotent, so a
// sweep interrupted between batches leaves nothing inconsistent; the
// next sweep picks up where it stopped.
func (r *Reaper) Sweep(ctx context.Context) error {
	mistargeted, err := r.sweepMistargeted(ctx)
	if err != nil {
		return fmt.Errorf("mistargeted sweep failed: %w", err)
	}

	orphaned, err := r.sweepOrphaned(ctx)
	if err != nil {
		return fmt.Errorf("orphan sweep failed: %w", err)
	}

	if mistargeted > 0 || orphaned > 0 {
		r.logger.Info("reaper sweep finished",
			"mistargeted_records", mistargeted,
			"orphaned_rows", orphaned)
	}
	return nil
}

// sweepMistargeted deletes records with no usable target that carry a
// branch or pull request characteristic, together with their side-table
// rows, batch by batch.
func (r *Reaper) sweepMistargeted(ctx context.Context) (int64, error) {
	var total int64
	for {
		ids, err := r.activities.ListMistargeted(ctx, r.batchSize)
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			return total, nil
		}

		err = r.txr.RunInTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
			deleted, err := r.activities.WithTx(tx).DeleteByIDs(ctx, ids)
			if err != nil {
				return err
			}
			if _, err := r.chars.WithTx(tx).DeleteByTasks(ctx, ids); err != nil {
				return err
			}
			if _, err := r.payloads.WithTx(tx).DeleteByTasks(ctx, ids); err != nil {
				return err
			}
			total += deleted
			return nil
		})
		if err != nil {
			return total, err
		}
		metrics.ReapedRows.WithLabelValues("mistargeted").Add(float64(len(ids)))

		if len(ids) < r.batchSize {
			return total, nil
		}
	}
}

// sweepOrphaned deletes side-table rows whose task UUID matches neither
// a queued task nor an activity record.
func (r *Reaper) sweepOrphaned(ctx context.Context) (int64, error) {
	chars, err := r.chars.DeleteOrphaned(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}
	payloads, err := r.payloads.DeleteOrphaned(ctx, r.batchSize)
	if err != nil {
		return chars, err
	}

	total := chars + payloads
	if total > 0 {
		metrics.ReapedRows.WithLabelValues("orphaned").Add(float64(total))
	}
	return total, nil
}
