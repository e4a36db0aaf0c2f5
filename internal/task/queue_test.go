package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanwell/taskledger/internal/domain"
	"github.com/scanwell/taskledger/internal/ledger"
	"github.com/scanwell/taskledger/internal/mocks"
	"github.com/scanwell/taskledger/internal/resolver"
	"github.com/scanwell/taskledger/internal/store"
)

// stubRegistry resolves keys from a fixed map; unknown keys are
// unresolved, which is the common case for branch components that have
// not been provisioned yet.
type stubRegistry struct {
	mu         sync.Mutex
	components map[string]resolver.Component
}

func (r *stubRegistry) LookupByKey(ctx context.Context, key string) (*resolver.Component, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.components[key]
	if !ok {
		return nil, resolver.ErrUnresolved
	}
	cp := c
	return &cp, nil
}

func (r *stubRegistry) add(key string, c resolver.Component) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components[key] = c
}

// failingRegistry simulates a registry outage: every lookup fails with
// an error that is not ErrUnresolved.
type failingRegistry struct{ err error }

func (r *failingRegistry) LookupByKey(ctx context.Context, key string) (*resolver.Component, error) {
	return nil, r.err
}

func newTestQueue(registry resolver.ComponentRegistry) (*Queue, *mocks.InMemory) {
	world := mocks.NewInMemory()
	led := ledger.New(world.ActivityStore())
	res := resolver.New(registry)
	q := NewQueue(
		world.TxRunner(),
		world.TaskStore(),
		world.CharacteristicStore(),
		world.PayloadStore(),
		res,
		led,
		30*time.Minute,
	)
	return q, world
}

func mainRegistry() *stubRegistry {
	return &stubRegistry{components: map[string]resolver.Component{
		"svc-payments": {ID: "comp-1", RootID: "comp-1"},
	}}
}

func TestQueue_Submit(t *testing.T) {
	ctx := context.Background()

	t.Run("resolves main-branch target at submission", func(t *testing.T) {
		q, _ := newTestQueue(mainRegistry())

		task, err := q.Submit(ctx, "SCAN", "svc-payments", nil, nil)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusPending, task.Status)
		assert.Equal(t, "comp-1", task.TargetID)
		assert.Equal(t, "comp-1", task.MainTargetID)

		stored, err := q.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, "comp-1", stored.TargetID)
	})

	t.Run("unresolved branch target is deferred", func(t *testing.T) {
		q, _ := newTestQueue(mainRegistry())

		task, err := q.Submit(ctx, "SCAN", "svc-payments",
			map[string]string{domain.CharacteristicBranch: "feature/x"}, nil)
		require.NoError(t, err)
		assert.Empty(t, task.TargetID)
		assert.Empty(t, task.MainTargetID)
	})

	t.Run("stores characteristics and input", func(t *testing.T) {
		q, _ := newTestQueue(mainRegistry())

		task, err := q.Submit(ctx, "SCAN", "svc-payments",
			map[string]string{domain.CharacteristicBranch: "main"},
			[]byte(`{"depth":3}`))
		require.NoError(t, err)

		input, err := q.GetInput(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, []byte(`{"depth":3}`), input)
	})

	t.Run("rejects empty task type", func(t *testing.T) {
		q, _ := newTestQueue(mainRegistry())

		_, err := q.Submit(ctx, "", "svc-payments", nil, nil)
		assert.ErrorIs(t, err, domain.ErrTaskTypeEmpty)
	})

	t.Run("rejects empty characteristic key", func(t *testing.T) {
		q, _ := newTestQueue(mainRegistry())

		_, err := q.Submit(ctx, "SCAN", "svc-payments",
			map[string]string{"": "v"}, nil)
		assert.ErrorIs(t, err, domain.ErrCharacteristicKeyEmpty)
	})
}

func TestQueue_Claim(t *testing.T) {
	ctx := context.Background()

	t.Run("empty queue returns nil without error", func(t *testing.T) {
		q, _ := newTestQueue(mainRegistry())

		task, err := q.Claim(ctx, "worker-0")
		require.NoError(t, err)
		assert.Nil(t, task)
	})

	t.Run("claims oldest pending first", func(t *testing.T) {
		q, _ := newTestQueue(mainRegistry())

		first, err := q.Submit(ctx, "SCAN", "svc-payments", nil, nil)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
		_, err = q.Submit(ctx, "SCAN", "svc-payments", nil, nil)
		require.NoError(t, err)

		claimed, err := q.Claim(ctx, "worker-0")
		require.NoError(t, err)
		require.NotNil(t, claimed)
		assert.Equal(t, first.ID, claimed.ID)
		assert.Equal(t, domain.TaskStatusInProgress, claimed.Status)
		assert.Equal(t, "worker-0", claimed.WorkerID)
		assert.Equal(t, 1, claimed.ExecutionCount)
	})

	t.Run("claim persists a target provisioned after submission", func(t *testing.T) {
		registry := mainRegistry()
		q, _ := newTestQueue(registry)

		submitted, err := q.Submit(ctx, "SCAN", "svc-payments",
			map[string]string{domain.CharacteristicBranch: "feature/x"}, nil)
		require.NoError(t, err)
		require.Empty(t, submitted.TargetID)

		registry.add("svc-payments:BRANCH:feature/x",
			resolver.Component{ID: "comp-1-fx", RootID: "comp-1"})

		claimed, err := q.Claim(ctx, "worker-0")
		require.NoError(t, err)
		require.NotNil(t, claimed)
		assert.Equal(t, "comp-1-fx", claimed.TargetID)
		assert.Equal(t, "comp-1", claimed.MainTargetID)

		stored, err := q.GetTask(ctx, submitted.ID)
		require.NoError(t, err)
		assert.Equal(t, "comp-1-fx", stored.TargetID)
		assert.Equal(t, "comp-1", stored.MainTargetID)
	})

	t.Run("claim of an unresolvable task stays unresolved", func(t *testing.T) {
		q, _ := newTestQueue(mainRegistry())

		_, err := q.Submit(ctx, "SCAN", "svc-payments",
			map[string]string{domain.CharacteristicBranch: "gone"}, nil)
		require.NoError(t, err)

		claimed, err := q.Claim(ctx, "worker-0")
		require.NoError(t, err)
		require.NotNil(t, claimed)
		assert.Empty(t, claimed.TargetID)
	})

	t.Run("each task goes to exactly one worker", func(t *testing.T) {
		q, _ := newTestQueue(mainRegistry())

		submitted, err := q.Submit(ctx, "SCAN", "svc-payments", nil, nil)
		require.NoError(t, err)

		const workers = 16
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins []string
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				claimed, err := q.Claim(ctx, uuid.NewString())
				assert.NoError(t, err)
				if claimed != nil {
					mu.Lock()
					wins = append(wins, claimed.WorkerID)
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		require.Len(t, wins, 1)

		stored, err := q.GetTask(ctx, submitted.ID)
		require.NoError(t, err)
		assert.Equal(t, wins[0], stored.WorkerID)
	})
}

func TestQueue_Complete(t *testing.T) {
	ctx := context.Background()

	submitAndClaim := func(t *testing.T, q *Queue, characteristics map[string]string) *domain.Task {
		t.Helper()
		_, err := q.Submit(ctx, "SCAN", "svc-payments", characteristics, nil)
		require.NoError(t, err)
		claimed, err := q.Claim(ctx, "worker-0")
		require.NoError(t, err)
		require.NotNil(t, claimed)
		return claimed
	}

	t.Run("removes the task and appends the ledger record atomically", func(t *testing.T) {
		q, world := newTestQueue(mainRegistry())
		claimed := submitAndClaim(t, q, nil)

		require.NoError(t, q.Complete(ctx, claimed.ID, domain.OutcomeSuccess))

		_, err := q.GetTask(ctx, claimed.ID)
		assert.ErrorIs(t, err, store.ErrTaskNotFound)

		records := world.Records()
		require.Len(t, records, 1)
		rec := records[0]
		assert.Equal(t, claimed.ID, rec.ID)
		assert.Equal(t, domain.TaskStatusSuccess, rec.Status)
		assert.Equal(t, "comp-1", rec.TargetID)
		assert.Equal(t, "comp-1", rec.MainTargetID)
		assert.True(t, rec.IsLast)
		assert.True(t, rec.MainIsLast)
		assert.Equal(t, 1, rec.ExecutionCount)
	})

	t.Run("re-resolves a target provisioned after submission", func(t *testing.T) {
		registry := mainRegistry()
		q, world := newTestQueue(registry)
		claimed := submitAndClaim(t, q,
			map[string]string{domain.CharacteristicBranch: "feature/x"})
		assert.Empty(t, claimed.TargetID)

		registry.add("svc-payments:BRANCH:feature/x",
			resolver.Component{ID: "comp-1-fx", RootID: "comp-1"})

		require.NoError(t, q.Complete(ctx, claimed.ID, domain.OutcomeSuccess))

		records := world.Records()
		require.Len(t, records, 1)
		assert.Equal(t, "comp-1-fx", records[0].TargetID)
		assert.Equal(t, "comp-1", records[0].MainTargetID)
	})

	t.Run("records an unresolved branch task with empty targets", func(t *testing.T) {
		q, world := newTestQueue(mainRegistry())
		claimed := submitAndClaim(t, q,
			map[string]string{domain.CharacteristicBranch: "gone"})

		require.NoError(t, q.Complete(ctx, claimed.ID, domain.OutcomeFailed))

		records := world.Records()
		require.Len(t, records, 1)
		assert.Empty(t, records[0].TargetID)
		assert.Empty(t, records[0].MainTargetID)
		assert.Equal(t, domain.TaskStatusFailed, records[0].Status)
	})

	t.Run("unresolved characteristic-free task keeps its reference verbatim", func(t *testing.T) {
		q, world := newTestQueue(&stubRegistry{components: map[string]resolver.Component{}})
		claimed := submitAndClaim(t, q, nil)

		require.NoError(t, q.Complete(ctx, claimed.ID, domain.OutcomeSuccess))

		records := world.Records()
		require.Len(t, records, 1)
		assert.Equal(t, "svc-payments", records[0].TargetID)
		assert.Equal(t, "svc-payments", records[0].MainTargetID)
	})

	t.Run("second completion flips the is-last pointers", func(t *testing.T) {
		q, world := newTestQueue(mainRegistry())

		first := submitAndClaim(t, q, nil)
		require.NoError(t, q.Complete(ctx, first.ID, domain.OutcomeFailed))

		second := submitAndClaim(t, q, nil)
		require.NoError(t, q.Complete(ctx, second.ID, domain.OutcomeSuccess))

		byID := make(map[uuid.UUID]domain.ActivityRecord)
		for _, r := range world.Records() {
			byID[r.ID] = r
		}
		require.Len(t, byID, 2)
		assert.False(t, byID[first.ID].IsLast)
		assert.False(t, byID[first.ID].MainIsLast)
		assert.True(t, byID[second.ID].IsLast)
		assert.True(t, byID[second.ID].MainIsLast)
	})

	t.Run("branch completion flips main pointer but not the branch one", func(t *testing.T) {
		registry := mainRegistry()
		registry.add("svc-payments:BRANCH:feature/x",
			resolver.Component{ID: "comp-1-fx", RootID: "comp-1"})
		q, world := newTestQueue(registry)

		onMain := submitAndClaim(t, q, nil)
		require.NoError(t, q.Complete(ctx, onMain.ID, domain.OutcomeSuccess))

		onBranch := submitAndClaim(t, q,
			map[string]string{domain.CharacteristicBranch: "feature/x"})
		require.NoError(t, q.Complete(ctx, onBranch.ID, domain.OutcomeFailed))

		byID := make(map[uuid.UUID]domain.ActivityRecord)
		for _, r := range world.Records() {
			byID[r.ID] = r
		}
		// Different targets, so both keep their per-target pointer.
		assert.True(t, byID[onMain.ID].IsLast)
		assert.True(t, byID[onBranch.ID].IsLast)
		// Same main target, so only the branch record holds the main pointer.
		assert.False(t, byID[onMain.ID].MainIsLast)
		assert.True(t, byID[onBranch.ID].MainIsLast)
	})

	t.Run("moves characteristics to history", func(t *testing.T) {
		q, world := newTestQueue(mainRegistry())
		claimed := submitAndClaim(t, q,
			map[string]string{domain.CharacteristicBranch: "main"})

		require.NoError(t, q.Complete(ctx, claimed.ID, domain.OutcomeSuccess))

		pending, err := world.CharacteristicStore().ListByTask(ctx, claimed.ID)
		require.NoError(t, err)
		assert.Empty(t, pending)

		historical, err := world.CharacteristicStore().ListHistorical(ctx, claimed.ID)
		require.NoError(t, err)
		require.Len(t, historical, 1)
		assert.Equal(t, domain.CharacteristicBranch, historical[0].Key)
	})

	t.Run("retries after an is-last pointer conflict", func(t *testing.T) {
		q, world := newTestQueue(mainRegistry())
		claimed := submitAndClaim(t, q, nil)

		// A concurrent completion committed a holder between our clear
		// and insert; the store surfaces it as a conflict.
		world.FailNextInsert(fmt.Errorf("insert activity record: %w", store.ErrConflict))

		require.NoError(t, q.Complete(ctx, claimed.ID, domain.OutcomeSuccess))

		records := world.Records()
		require.Len(t, records, 1)
		assert.True(t, records[0].IsLast)
		assert.True(t, records[0].MainIsLast)
		assert.Equal(t, 0, world.TaskCount())
	})

	t.Run("duplicate completion is benign", func(t *testing.T) {
		q, _ := newTestQueue(mainRegistry())
		claimed := submitAndClaim(t, q, nil)

		require.NoError(t, q.Complete(ctx, claimed.ID, domain.OutcomeSuccess))
		err := q.Complete(ctx, claimed.ID, domain.OutcomeFailed)
		assert.ErrorIs(t, err, store.ErrAlreadyCompleted)
	})

	t.Run("pending task cannot be completed", func(t *testing.T) {
		q, _ := newTestQueue(mainRegistry())
		submitted, err := q.Submit(ctx, "SCAN", "svc-payments", nil, nil)
		require.NoError(t, err)

		err = q.Complete(ctx, submitted.ID, domain.OutcomeSuccess)
		assert.ErrorIs(t, err, store.ErrAlreadyCompleted)
	})
}

func TestQueue_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("cancels a pending task into the ledger", func(t *testing.T) {
		q, world := newTestQueue(mainRegistry())
		submitted, err := q.Submit(ctx, "SCAN", "svc-payments", nil, nil)
		require.NoError(t, err)

		require.NoError(t, q.Cancel(ctx, submitted.ID))

		_, err = q.GetTask(ctx, submitted.ID)
		assert.ErrorIs(t, err, store.ErrTaskNotFound)

		records := world.Records()
		require.Len(t, records, 1)
		assert.Equal(t, domain.TaskStatusCanceled, records[0].Status)
		assert.True(t, records[0].IsLast)
		assert.True(t, records[0].StartedAt.IsZero(), "canceled tasks never started")
	})

	t.Run("claimed task cannot be canceled", func(t *testing.T) {
		q, _ := newTestQueue(mainRegistry())
		_, err := q.Submit(ctx, "SCAN", "svc-payments", nil, nil)
		require.NoError(t, err)
		claimed, err := q.Claim(ctx, "worker-0")
		require.NoError(t, err)

		err = q.Cancel(ctx, claimed.ID)
		assert.ErrorIs(t, err, store.ErrNotPending)
	})

	t.Run("unknown task", func(t *testing.T) {
		q, _ := newTestQueue(mainRegistry())

		err := q.Cancel(ctx, uuid.New())
		assert.ErrorIs(t, err, store.ErrTaskNotFound)
	})

	t.Run("registry outage rolls the cancel back", func(t *testing.T) {
		outage := errors.New("registry unavailable")
		q, world := newTestQueue(&failingRegistry{err: outage})

		submitted, err := q.Submit(ctx, "SCAN", "svc-payments", nil, nil)
		require.NoError(t, err)

		err = q.Cancel(ctx, submitted.ID)
		require.ErrorIs(t, err, outage)

		// Nothing recorded, task still pending and cancelable later.
		assert.Empty(t, world.Records())
		stored, err := q.GetTask(ctx, submitted.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusPending, stored.Status)
	})
}

func TestQueue_StaleClaimIsReclaimable(t *testing.T) {
	ctx := context.Background()
	world := mocks.NewInMemory()
	led := ledger.New(world.ActivityStore())
	res := resolver.New(mainRegistry())
	// Claim timeout of zero: any in-progress task is immediately stale.
	q := NewQueue(world.TxRunner(), world.TaskStore(), world.CharacteristicStore(),
		world.PayloadStore(), res, led, 0)

	_, err := q.Submit(ctx, "SCAN", "svc-payments", nil, nil)
	require.NoError(t, err)

	first, err := q.Claim(ctx, "worker-0")
	require.NoError(t, err)
	require.NotNil(t, first)

	time.Sleep(2 * time.Millisecond)
	second, err := q.Claim(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "worker-1", second.WorkerID)
	assert.Equal(t, 2, second.ExecutionCount)
}
