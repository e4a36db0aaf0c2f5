package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/scanwell/taskledger/internal/domain"
	"github.com/scanwell/taskledger/internal/platform/logger"
	"github.com/scanwell/taskledger/internal/store"
)

const activityColumns = `id, type, component_ref, target_id, main_target_id,
	status, submitted_at, started_at, finished_at, execution_count,
	is_last, is_last_key, main_is_last, main_is_last_key`

// Partial unique indexes guaranteeing at most one is-last holder per key.
// A violation means a concurrent completion committed between our clear
// and insert; it maps to ErrConflict so the caller retries the whole
// transaction instead of surfacing a duplicate.
const (
	isLastKeyIndex     = "idx_activity_records_is_last_key"
	mainIsLastKeyIndex = "idx_activity_records_main_is_last_key"
)

// PostgresActivityStore implements store.ActivityStore using PostgreSQL.
type PostgresActivityStore struct {
	db store.DBTX
}

// NewPostgresActivityStore creates a new PostgresActivityStore.
func NewPostgresActivityStore(db store.DBTX) *PostgresActivityStore {
	return &PostgresActivityStore{db: db}
}

// WithTx returns a new ActivityStore bound to the provided transaction.
func (s *PostgresActivityStore) WithTx(tx *sql.Tx) store.ActivityStore {
	return &PostgresActivityStore{db: tx}
}

// Insert appends a new activity record.
func (s *PostgresActivityStore) Insert(ctx context.Context, rec *domain.ActivityRecord) error {
	query := `
		INSERT INTO activity_records (id, type, component_ref, target_id, main_target_id,
			status, submitted_at, started_at, finished_at, execution_count,
			is_last, is_last_key, main_is_last, main_is_last_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Type,
		rec.ComponentRef,
		nullString(rec.TargetID),
		nullString(rec.MainTargetID),
		rec.Status,
		rec.SubmittedAt,
		nullTime(rec.StartedAt),
		rec.FinishedAt,
		rec.ExecutionCount,
		rec.IsLast,
		rec.IsLastKey,
		rec.MainIsLast,
		rec.MainIsLastKey,
	)
	if err != nil {
		if IsConstraintViolation(err, isLastKeyIndex) || IsConstraintViolation(err, mainIsLastKeyIndex) {
			return fmt.Errorf("%w: concurrent completion already holds an is-last pointer: %v",
				store.ErrConflict, err)
		}
		return fmt.Errorf("failed to insert activity record: %w", MapError(err))
	}
	return nil
}

// ClearIsLast unsets is_last on the current holder of the key.
// Affects zero or one row by invariant.
func (s *PostgresActivityStore) ClearIsLast(ctx context.Context, isLastKey string) error {
	query := `UPDATE activity_records SET is_last = FALSE WHERE is_last_key = $1 AND is_last = TRUE`

	if _, err := s.db.ExecContext(ctx, query, isLastKey); err != nil {
		return fmt.Errorf("failed to clear is_last: %w", MapError(err))
	}
	return nil
}

// ClearMainIsLast unsets main_is_last on the current holder of the key.
func (s *PostgresActivityStore) ClearMainIsLast(ctx context.Context, mainIsLastKey string) error {
	query := `UPDATE activity_records SET main_is_last = FALSE WHERE main_is_last_key = $1 AND main_is_last = TRUE`

	if _, err := s.db.ExecContext(ctx, query, mainIsLastKey); err != nil {
		return fmt.Errorf("failed to clear main_is_last: %w", MapError(err))
	}
	return nil
}

// GetByID retrieves an activity record by its identifier.
func (s *PostgresActivityStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.ActivityRecord, error) {
	query := `SELECT ` + activityColumns + ` FROM activity_records WHERE id = $1`

	rec, err := scanActivity(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if store.IsNotFoundError(MapError(err)) {
			return nil, store.ErrActivityNotFound
		}
		return nil, fmt.Errorf("failed to get activity record: %w", MapError(err))
	}
	return rec, nil
}

// Latest returns the record holding is_last for (taskType, targetID).
// The point lookup goes through the is_last_key index; history depth is
// irrelevant. Finding a second holder is an invariant violation: it is
// logged, the newest row is still usable, and the next completion for
// the key heals it.
func (s *PostgresActivityStore) Latest(ctx context.Context, taskType, targetID string) (*domain.ActivityRecord, error) {
	return s.latestByKey(ctx,
		`SELECT `+activityColumns+`
		 FROM activity_records
		 WHERE is_last_key = $1 AND is_last = TRUE
		 ORDER BY finished_at DESC`,
		domain.LastKey(taskType, targetID))
}

// LatestForMain is Latest computed against the main-target pointer.
func (s *PostgresActivityStore) LatestForMain(ctx context.Context, taskType, mainTargetID string) (*domain.ActivityRecord, error) {
	return s.latestByKey(ctx,
		`SELECT `+activityColumns+`
		 FROM activity_records
		 WHERE main_is_last_key = $1 AND main_is_last = TRUE
		 ORDER BY finished_at DESC`,
		domain.MainLastKey(taskType, mainTargetID))
}

func (s *PostgresActivityStore) latestByKey(ctx context.Context, query, key string) (*domain.ActivityRecord, error) {
	log := logger.FromContext(ctx)

	rows, err := s.db.QueryContext(ctx, query, key)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest activity record: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var recs []*domain.ActivityRecord
	for rows.Next() {
		rec, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity record: %w", MapError(err))
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity records: %w", MapError(err))
	}

	switch len(recs) {
	case 0:
		return nil, store.ErrActivityNotFound
	case 1:
		return recs[0], nil
	default:
		log.Error("multiple is-last holders found for key",
			"key", key,
			"count", len(recs))
		return recs[0], fmt.Errorf("%w: key %q held by %d records",
			store.ErrInvariantViolation, key, len(recs))
	}
}

// History returns records for a target in descending finish time.
func (s *PostgresActivityStore) History(ctx context.Context, targetID string, page store.HistoryPage) ([]*domain.ActivityRecord, error) {
	if page.Limit <= 0 {
		page.Limit = 50
	}

	query := `
		SELECT ` + activityColumns + `
		FROM activity_records
		WHERE target_id = $1
		ORDER BY finished_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := s.db.QueryContext(ctx, query, targetID, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity history: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var recs []*domain.ActivityRecord
	for rows.Next() {
		rec, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity record: %w", MapError(err))
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity records: %w", MapError(err))
	}
	return recs, nil
}

// ListMistargeted returns ids of records left behind by the schema
// migration transition period: the target never resolved or collapsed
// onto the main target, while the record still carries a branch or pull
// request characteristic. Records without such characteristics are
// legitimate main-branch history and are never listed.
func (s *PostgresActivityStore) ListMistargeted(ctx context.Context, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT ar.id
		FROM activity_records ar
		WHERE (ar.target_id IS NULL OR ar.target_id = ar.main_target_id)
		  AND EXISTS (
			SELECT 1 FROM activity_characteristics ac
			WHERE ac.task_id = ar.id AND ac.key = ANY($1)
		  )
		LIMIT $2
	`

	branchKeys := []string{
		domain.CharacteristicBranch,
		domain.CharacteristicBranchType,
		domain.CharacteristicPullRequest,
	}

	rows, err := s.db.QueryContext(ctx, query, branchKeys, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list mistargeted records: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan record id: %w", MapError(err))
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating record ids: %w", MapError(err))
	}
	return ids, nil
}

// DeleteByIDs removes the given records.
func (s *PostgresActivityStore) DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM activity_records WHERE id = ANY($1::uuid[])`, uuidStrings(ids))
	if err != nil {
		return 0, fmt.Errorf("failed to delete activity records: %w", MapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", MapError(err))
	}
	return n, nil
}

func scanActivity(row rowScanner) (*domain.ActivityRecord, error) {
	var (
		rec          domain.ActivityRecord
		targetID     sql.NullString
		mainTargetID sql.NullString
		startedAt    sql.NullTime
	)

	err := row.Scan(
		&rec.ID,
		&rec.Type,
		&rec.ComponentRef,
		&targetID,
		&mainTargetID,
		&rec.Status,
		&rec.SubmittedAt,
		&startedAt,
		&rec.FinishedAt,
		&rec.ExecutionCount,
		&rec.IsLast,
		&rec.IsLastKey,
		&rec.MainIsLast,
		&rec.MainIsLastKey,
	)
	if err != nil {
		return nil, err
	}

	rec.TargetID = targetID.String
	rec.MainTargetID = mainTargetID.String
	rec.StartedAt = startedAt.Time
	return &rec, nil
}
