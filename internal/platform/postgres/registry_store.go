package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/scanwell/taskledger/internal/resolver"
	"github.com/scanwell/taskledger/internal/store"
)

// PostgresComponentRegistry implements resolver.ComponentRegistry over
// the components table, a read-only snapshot of the durable component
// registry maintained by the provisioning system.
type PostgresComponentRegistry struct {
	db store.DBTX
}

// NewPostgresComponentRegistry creates a new PostgresComponentRegistry.
func NewPostgresComponentRegistry(db store.DBTX) *PostgresComponentRegistry {
	return &PostgresComponentRegistry{db: db}
}

// LookupByKey returns the component registered under key, or
// resolver.ErrUnresolved when none is.
func (r *PostgresComponentRegistry) LookupByKey(ctx context.Context, key string) (*resolver.Component, error) {
	query := `SELECT id, root_id FROM components WHERE registry_key = $1`

	var comp resolver.Component
	err := r.db.QueryRowContext(ctx, query, key).Scan(&comp.ID, &comp.RootID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, resolver.ErrUnresolved
		}
		return nil, fmt.Errorf("failed to look up component: %w", MapError(err))
	}
	return &comp, nil
}
