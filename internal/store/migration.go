package store

import (
	"context"
	"database/sql"
)

// MigrationStore tracks one-time migration gates and the phase progress
// of online column migrations. Distinct from the goose version table,
// which only covers the base DDL.
type MigrationStore interface {
	// IsCompleted reports whether the one-time migration has run.
	IsCompleted(ctx context.Context, migrationID string) (bool, error)

	// MarkCompleted records the migration as done with an
	// insert-if-absent. Returns ErrDuplicate when it was already
	// recorded, which callers of non-idempotent steps must treat as
	// fatal rather than silently re-applying.
	MarkCompleted(ctx context.Context, migrationID string) error

	// GetPhase returns the recorded phase of an online column migration,
	// or ErrNotFound when the migration has never started.
	GetPhase(ctx context.Context, migrationID string) (string, error)

	// SetPhase upserts the recorded phase.
	SetPhase(ctx context.Context, migrationID, phase string) error

	// WithTx returns a new MigrationStore bound to the provided transaction.
	WithTx(tx *sql.Tx) MigrationStore
}
