// Package migrate runs data migrations that cannot be expressed as a
// plain goose SQL file: one-time backfills gated against re-execution,
// and the online column migration that moves a live table to a new
// schema in phases without pausing ingestion.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/scanwell/taskledger/internal/store"
)

// ErrAlreadyApplied indicates a non-idempotent migration was asked to
// run a second time. Callers must treat this as a deployment fault, not
// skip it silently.
var ErrAlreadyApplied = errors.New("migration already applied")

// Phase names the stages of an online column migration. Each phase is
// idempotent so a crashed run resumes at the recorded phase.
type Phase string

const (
	// PhaseAdd creates the new columns alongside the old ones.
	PhaseAdd Phase = "ADD"
	// PhaseBackfill copies existing rows over in batches while writes
	// continue against the old columns.
	PhaseBackfill Phase = "BACKFILL"
	// PhaseSwitch flips readers and writers to the new columns.
	PhaseSwitch Phase = "SWITCH"
	// PhaseFinalize drops the old columns and tightens constraints.
	PhaseFinalize Phase = "FINALIZE"
	// PhaseDone marks the migration finished.
	PhaseDone Phase = "DONE"
)

// Steps is the schema work of one online migration. Every method must
// be safe to call again after a crash mid-phase.
type Steps interface {
	// ID uniquely identifies the migration in the completion gate.
	ID() string
	// Add creates the new columns.
	Add(ctx context.Context) error
	// Backfill copies one batch and reports whether everything is copied.
	Backfill(ctx context.Context) (done bool, err error)
	// Switch moves readers and writers over.
	Switch(ctx context.Context) error
	// Finalize removes the old columns.
	Finalize(ctx context.Context) error
}

// Migrator drives online migrations and the one-time gate.
type Migrator struct {
	txr        store.TxRunner
	migrations store.MigrationStore
	logger     *slog.Logger
}

// New creates a Migrator.
func New(txr store.TxRunner, migrations store.MigrationStore, logger *slog.Logger) *Migrator {
	return &Migrator{txr: txr, migrations: migrations, logger: logger}
}

// RunOnce executes fn exactly once across all deployments of this
// migration ID. A completed ID returns ErrAlreadyApplied without
// invoking fn.
func (m *Migrator) RunOnce(ctx context.Context, migrationID string, fn func(ctx context.Context) error) error {
	completed, err := m.migrations.IsCompleted(ctx, migrationID)
	if err != nil {
		return fmt.Errorf("failed to check migration gate: %w", err)
	}
	if completed {
		return fmt.Errorf("%w: %s", ErrAlreadyApplied, migrationID)
	}

	if err := fn(ctx); err != nil {
		return fmt.Errorf("migration %s failed: %w", migrationID, err)
	}

	if err := m.migrations.MarkCompleted(ctx, migrationID); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return fmt.Errorf("%w: %s", ErrAlreadyApplied, migrationID)
		}
		return fmt.Errorf("failed to mark migration %s completed: %w", migrationID, err)
	}

	m.logger.Info("migration applied", "migration_id", migrationID)
	return nil
}

// Run drives the online migration from its recorded phase through DONE.
// Ingestion keeps running throughout; only Switch changes what live
// code reads and writes, and it does so atomically.
func (m *Migrator) Run(ctx context.Context, steps Steps) error {
	id := steps.ID()

	completed, err := m.migrations.IsCompleted(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to check migration gate: %w", err)
	}
	if completed {
		return fmt.Errorf("%w: %s", ErrAlreadyApplied, id)
	}

	phase, err := m.currentPhase(ctx, id)
	if err != nil {
		return err
	}
	m.logger.Info("online migration starting",
		"migration_id", id,
		"phase", phase)

	for phase != PhaseDone {
		if err := m.runPhase(ctx, steps, phase); err != nil {
			return fmt.Errorf("migration %s failed in phase %s: %w", id, phase, err)
		}

		next := nextPhase(phase)
		if next == PhaseDone {
			// Completion gate and final phase commit together so a crash
			// between them cannot leave a finished migration re-runnable.
			err = m.txr.RunInTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
				migrations := m.migrations.WithTx(tx)
				if err := migrations.MarkCompleted(ctx, id); err != nil {
					return err
				}
				return migrations.SetPhase(ctx, id, string(PhaseDone))
			})
		} else {
			err = m.migrations.SetPhase(ctx, id, string(next))
		}
		if err != nil {
			return fmt.Errorf("failed to advance migration %s to phase %s: %w", id, next, err)
		}

		m.logger.Info("migration phase finished",
			"migration_id", id,
			"phase", phase,
			"next", next)
		phase = next
	}

	return nil
}

func (m *Migrator) currentPhase(ctx context.Context, id string) (Phase, error) {
	recorded, err := m.migrations.GetPhase(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return PhaseAdd, nil
		}
		return "", fmt.Errorf("failed to read migration phase: %w", err)
	}

	switch p := Phase(recorded); p {
	case PhaseAdd, PhaseBackfill, PhaseSwitch, PhaseFinalize, PhaseDone:
		return p, nil
	default:
		return "", fmt.Errorf("unknown recorded phase %q for migration %s", recorded, id)
	}
}

func (m *Migrator) runPhase(ctx context.Context, steps Steps, phase Phase) error {
	switch phase {
	case PhaseAdd:
		return steps.Add(ctx)
	case PhaseBackfill:
		for {
			done, err := steps.Backfill(ctx)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
	case PhaseSwitch:
		return steps.Switch(ctx)
	case PhaseFinalize:
		return steps.Finalize(ctx)
	default:
		return fmt.Errorf("unexpected phase %q", phase)
	}
}

func nextPhase(p Phase) Phase {
	switch p {
	case PhaseAdd:
		return PhaseBackfill
	case PhaseBackfill:
		return PhaseSwitch
	case PhaseSwitch:
		return PhaseFinalize
	default:
		return PhaseDone
	}
}
