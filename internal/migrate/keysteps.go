package migrate

import (
	"context"
	"database/sql"
	"fmt"
)

// LedgerKeySteps is the online migration that introduced the
// precomputed is-last key columns on activity_records. Older rows
// carry only type and target columns; the keys are derived in place,
// batch by batch, while completions keep writing.
type LedgerKeySteps struct {
	db        *sql.DB
	batchSize int
}

// NewLedgerKeySteps creates the steps. batchSize bounds how many rows
// one Backfill call touches.
func NewLedgerKeySteps(db *sql.DB, batchSize int) *LedgerKeySteps {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &LedgerKeySteps{db: db, batchSize: batchSize}
}

// ID implements Steps.
func (s *LedgerKeySteps) ID() string { return "20260215_activity_record_is_last_keys" }

// Add creates the key columns as nullable so concurrent inserts from
// completions are unaffected.
func (s *LedgerKeySteps) Add(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		ALTER TABLE activity_records
			ADD COLUMN IF NOT EXISTS is_last_key TEXT,
			ADD COLUMN IF NOT EXISTS main_is_last_key TEXT
	`)
	if err != nil {
		return fmt.Errorf("failed to add key columns: %w", err)
	}
	return nil
}

// Backfill derives the keys for one batch of old rows. The expressions
// mirror domain.LastKey and domain.MainLastKey, including the doubled
// type fallback for records whose main target never resolved.
func (s *LedgerKeySteps) Backfill(ctx context.Context) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE activity_records SET
			is_last_key = type || COALESCE(target_id, ''),
			main_is_last_key = CASE
				WHEN COALESCE(main_target_id, '') = '' THEN type || type
				ELSE type || main_target_id
			END
		WHERE id IN (
			SELECT id FROM activity_records
			WHERE is_last_key IS NULL
			LIMIT $1
		)
	`, s.batchSize)
	if err != nil {
		return false, fmt.Errorf("failed to backfill key columns: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 0, nil
}

// Switch builds the partial unique indexes the point lookups and the
// one-holder-per-key guarantee depend on. Rows written before the keys
// existed may hold duplicate pointers for a key; all but the newest are
// cleared first so the unique indexes can build.
func (s *LedgerKeySteps) Switch(ctx context.Context) error {
	for _, stmt := range []string{
		`UPDATE activity_records ar SET is_last = FALSE
			WHERE ar.is_last AND EXISTS (
				SELECT 1 FROM activity_records newer
				WHERE newer.is_last_key = ar.is_last_key
				  AND newer.is_last AND newer.finished_at > ar.finished_at
			)`,
		`UPDATE activity_records ar SET main_is_last = FALSE
			WHERE ar.main_is_last AND EXISTS (
				SELECT 1 FROM activity_records newer
				WHERE newer.main_is_last_key = ar.main_is_last_key
				  AND newer.main_is_last AND newer.finished_at > ar.finished_at
			)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_activity_records_is_last_key
			ON activity_records (is_last_key) WHERE is_last`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_activity_records_main_is_last_key
			ON activity_records (main_is_last_key) WHERE main_is_last`,
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to switch to key indexes: %w", err)
		}
	}
	return nil
}

// Finalize tightens the columns now that every row has a key.
func (s *LedgerKeySteps) Finalize(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		ALTER TABLE activity_records
			ALTER COLUMN is_last_key SET NOT NULL,
			ALTER COLUMN main_is_last_key SET NOT NULL
	`)
	if err != nil {
		return fmt.Errorf("failed to finalize key columns: %w", err)
	}
	return nil
}
