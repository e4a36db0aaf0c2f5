package reaper

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanwell/taskledger/internal/domain"
	"github.com/scanwell/taskledger/internal/mocks"
)

func newTestReaper(world *mocks.InMemory, batchSize int) *Reaper {
	return New(
		world.TxRunner(),
		world.ActivityStore(),
		world.CharacteristicStore(),
		world.PayloadStore(),
		batchSize,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
}

// seedRecord inserts a finished record with the given targets and
// characteristic keys, mimicking the state a completed task leaves
// behind: record in the ledger, characteristics in history.
func seedRecord(t *testing.T, world *mocks.InMemory, targetID, mainTargetID string, charKeys ...string) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	task, err := domain.NewTask("SCAN", "svc-payments")
	require.NoError(t, err)

	var cs domain.Characteristics
	for _, key := range charKeys {
		c, err := domain.NewCharacteristic(task.ID, key, "v")
		require.NoError(t, err)
		cs = append(cs, *c)
	}
	require.NoError(t, world.CharacteristicStore().SaveAll(ctx, cs))
	require.NoError(t, world.CharacteristicStore().MoveToHistory(ctx, task.ID))

	rec := domain.NewActivityRecord(task, domain.TaskStatusSuccess, targetID, mainTargetID, time.Now().UTC())
	require.NoError(t, world.ActivityStore().Insert(ctx, rec))
	return task.ID
}

func recordIDs(world *mocks.InMemory) map[uuid.UUID]bool {
	out := make(map[uuid.UUID]bool)
	for _, r := range world.Records() {
		out[r.ID] = true
	}
	return out
}

func TestReaper_Sweep_Mistargeted(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes unresolved branch records", func(t *testing.T) {
		world := mocks.NewInMemory()
		unresolved := seedRecord(t, world, "", "", domain.CharacteristicBranch)
		resolved := seedRecord(t, world, "comp-1-fx", "comp-1", domain.CharacteristicBranch)

		require.NoError(t, newTestReaper(world, 500).Sweep(ctx))

		ids := recordIDs(world)
		assert.False(t, ids[unresolved])
		assert.True(t, ids[resolved])
	})

	t.Run("deletes branch records that collapsed onto the main target", func(t *testing.T) {
		world := mocks.NewInMemory()
		collapsed := seedRecord(t, world, "comp-1", "comp-1", domain.CharacteristicPullRequest)

		require.NoError(t, newTestReaper(world, 500).Sweep(ctx))

		assert.False(t, recordIDs(world)[collapsed])
	})

	t.Run("never deletes characteristic-free records", func(t *testing.T) {
		world := mocks.NewInMemory()
		// Legacy main-branch history: no characteristics, even when the
		// target equals the main target or never resolved.
		legacy := seedRecord(t, world, "svc-payments", "svc-payments")
		unresolvedLegacy := seedRecord(t, world, "", "")

		require.NoError(t, newTestReaper(world, 500).Sweep(ctx))

		ids := recordIDs(world)
		assert.True(t, ids[legacy])
		assert.True(t, ids[unresolvedLegacy])
	})

	t.Run("branchType alone does not protect a record", func(t *testing.T) {
		world := mocks.NewInMemory()
		// branchType without branch still marks the record as branch work.
		id := seedRecord(t, world, "", "", domain.CharacteristicBranchType)

		require.NoError(t, newTestReaper(world, 500).Sweep(ctx))

		assert.False(t, recordIDs(world)[id])
	})

	t.Run("deletes the record's side-table rows with it", func(t *testing.T) {
		world := mocks.NewInMemory()
		id := seedRecord(t, world, "", "", domain.CharacteristicBranch)
		require.NoError(t, world.PayloadStore().SaveInput(ctx, id, []byte(`{}`)))

		require.NoError(t, newTestReaper(world, 500).Sweep(ctx))

		chars, err := world.CharacteristicStore().ListHistorical(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, chars)

		_, err = world.PayloadStore().GetInput(ctx, id)
		assert.Error(t, err)
	})

	t.Run("drains across batches", func(t *testing.T) {
		world := mocks.NewInMemory()
		for i := 0; i < 7; i++ {
			seedRecord(t, world, "", "", domain.CharacteristicBranch)
		}

		require.NoError(t, newTestReaper(world, 2).Sweep(ctx))

		assert.Empty(t, world.Records())
	})
}

func TestReaper_Sweep_Orphans(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes side rows referencing no task or record", func(t *testing.T) {
		world := mocks.NewInMemory()

		orphanID := uuid.New()
		c, err := domain.NewCharacteristic(orphanID, domain.CharacteristicBranch, "main")
		require.NoError(t, err)
		require.NoError(t, world.CharacteristicStore().SaveAll(ctx, domain.Characteristics{*c}))
		require.NoError(t, world.PayloadStore().SaveInput(ctx, orphanID, []byte(`{}`)))
		require.NoError(t, world.PayloadStore().SaveScannerContext(ctx, orphanID, "ruleset=v4"))

		require.NoError(t, newTestReaper(world, 500).Sweep(ctx))

		cs, err := world.CharacteristicStore().ListByTask(ctx, orphanID)
		require.NoError(t, err)
		assert.Empty(t, cs)
		_, err = world.PayloadStore().GetInput(ctx, orphanID)
		assert.Error(t, err)
		_, err = world.PayloadStore().GetScannerContext(ctx, orphanID)
		assert.Error(t, err)
	})

	t.Run("keeps side rows of live tasks and records", func(t *testing.T) {
		world := mocks.NewInMemory()

		task, err := domain.NewTask("SCAN", "svc-payments")
		require.NoError(t, err)
		require.NoError(t, world.TaskStore().Save(ctx, task))
		require.NoError(t, world.PayloadStore().SaveInput(ctx, task.ID, []byte(`{}`)))

		recID := seedRecord(t, world, "comp-1-fx", "comp-1", domain.CharacteristicBranch)
		require.NoError(t, world.PayloadStore().SaveScannerContext(ctx, recID, "ruleset=v4"))

		require.NoError(t, newTestReaper(world, 500).Sweep(ctx))

		_, err = world.PayloadStore().GetInput(ctx, task.ID)
		assert.NoError(t, err)
		_, err = world.PayloadStore().GetScannerContext(ctx, recID)
		assert.NoError(t, err)
		chars, err := world.CharacteristicStore().ListHistorical(ctx, recID)
		require.NoError(t, err)
		assert.Len(t, chars, 1)
	})
}

func TestReaper_Sweep_Idempotent(t *testing.T) {
	ctx := context.Background()
	world := mocks.NewInMemory()

	seedRecord(t, world, "", "", domain.CharacteristicBranch)
	keep := seedRecord(t, world, "comp-1-fx", "comp-1", domain.CharacteristicBranch)

	r := newTestReaper(world, 500)
	require.NoError(t, r.Sweep(ctx))
	after := recordIDs(world)

	require.NoError(t, r.Sweep(ctx))
	assert.Equal(t, after, recordIDs(world))
	assert.True(t, after[keep])
}

func TestReaper_Start(t *testing.T) {
	world := mocks.NewInMemory()
	r := newTestReaper(world, 500)

	t.Run("rejects an invalid schedule", func(t *testing.T) {
		assert.Error(t, r.Start("not a schedule"))
	})

	t.Run("accepts a cron descriptor", func(t *testing.T) {
		require.NoError(t, r.Start("@hourly"))
		r.Stop()
	})
}
