package mocks

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/scanwell/taskledger/internal/domain"
	"github.com/scanwell/taskledger/internal/store"
)

// InMemory is the shared state behind all fake stores. All views are
// safe for concurrent use.
type InMemory struct {
	mu sync.Mutex

	// txMu serializes whole transactions so multi-statement units like
	// the completion clear+insert commit one at a time, matching the
	// one-holder-per-key guarantee the real store's unique indexes give.
	txMu sync.Mutex

	failNextInsert error

	tasks           map[uuid.UUID]domain.Task
	records         []domain.ActivityRecord
	pendingChars    map[uuid.UUID]domain.Characteristics
	historicalChars map[uuid.UUID]domain.Characteristics
	inputs          map[uuid.UUID][]byte
	contexts        map[uuid.UUID]string
	completed       map[string]bool
	phases          map[string]string
}

// NewInMemory creates an empty in-memory store world.
func NewInMemory() *InMemory {
	return &InMemory{
		tasks:           make(map[uuid.UUID]domain.Task),
		pendingChars:    make(map[uuid.UUID]domain.Characteristics),
		historicalChars: make(map[uuid.UUID]domain.Characteristics),
		inputs:          make(map[uuid.UUID][]byte),
		contexts:        make(map[uuid.UUID]string),
		completed:       make(map[string]bool),
		phases:          make(map[string]string),
	}
}

// TxRunner returns a TxRunner that invokes the function with a nil
// transaction; the fakes ignore WithTx. Transactions run one at a time.
func (m *InMemory) TxRunner() store.TxRunner { return fakeTxRunner{m} }

// FailNextInsert makes the next activity record insert return err, once.
// Used to drive the completion retry path.
func (m *InMemory) FailNextInsert(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNextInsert = err
}

// TaskStore returns the fake task store view.
func (m *InMemory) TaskStore() store.TaskStore { return &fakeTaskStore{m} }

// ActivityStore returns the fake activity store view.
func (m *InMemory) ActivityStore() store.ActivityStore { return &fakeActivityStore{m} }

// CharacteristicStore returns the fake characteristic store view.
func (m *InMemory) CharacteristicStore() store.CharacteristicStore { return &fakeCharacteristicStore{m} }

// PayloadStore returns the fake payload store view.
func (m *InMemory) PayloadStore() store.PayloadStore { return &fakePayloadStore{m} }

// MigrationStore returns the fake migration store view.
func (m *InMemory) MigrationStore() store.MigrationStore { return &fakeMigrationStore{m} }

// Records returns a snapshot of all activity records.
func (m *InMemory) Records() []domain.ActivityRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ActivityRecord, len(m.records))
	copy(out, m.records)
	return out
}

// TaskCount returns the number of queued tasks.
func (m *InMemory) TaskCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

type fakeTxRunner struct{ m *InMemory }

// RunInTransaction runs fn against the shared state, restoring the
// pre-transaction snapshot when fn fails so a failed unit of work leaves
// no partial writes behind, like a real rollback.
func (r fakeTxRunner) RunInTransaction(ctx context.Context, fn store.TxFn) error {
	r.m.txMu.Lock()
	defer r.m.txMu.Unlock()

	snap := r.m.snapshot()
	if err := fn(ctx, nil); err != nil {
		r.m.restore(snap)
		return err
	}
	return nil
}

type memState struct {
	tasks           map[uuid.UUID]domain.Task
	records         []domain.ActivityRecord
	pendingChars    map[uuid.UUID]domain.Characteristics
	historicalChars map[uuid.UUID]domain.Characteristics
	inputs          map[uuid.UUID][]byte
	contexts        map[uuid.UUID]string
	completed       map[string]bool
	phases          map[string]string
}

func (m *InMemory) snapshot() memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memState{
		tasks:           maps.Clone(m.tasks),
		records:         append([]domain.ActivityRecord(nil), m.records...),
		pendingChars:    maps.Clone(m.pendingChars),
		historicalChars: maps.Clone(m.historicalChars),
		inputs:          maps.Clone(m.inputs),
		contexts:        maps.Clone(m.contexts),
		completed:       maps.Clone(m.completed),
		phases:          maps.Clone(m.phases),
	}
}

func (m *InMemory) restore(s memState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = s.tasks
	m.records = s.records
	m.pendingChars = s.pendingChars
	m.historicalChars = s.historicalChars
	m.inputs = s.inputs
	m.contexts = s.contexts
	m.completed = s.completed
	m.phases = s.phases
}

type fakeTaskStore struct{ m *InMemory }

func (s *fakeTaskStore) WithTx(tx *sql.Tx) store.TaskStore { return s }

func (s *fakeTaskStore) Save(ctx context.Context, t *domain.Task) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, exists := s.m.tasks[t.ID]; exists {
		return store.ErrDuplicate
	}
	s.m.tasks[t.ID] = *t
	return nil
}

func (s *fakeTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	t, ok := s.m.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	cp := t
	return &cp, nil
}

func (s *fakeTaskStore) Claim(ctx context.Context, workerID string, staleAfter time.Duration) (*domain.Task, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	now := time.Now().UTC()
	var candidates []domain.Task
	for _, t := range s.m.tasks {
		claimable := t.Status == domain.TaskStatusPending ||
			(t.Status == domain.TaskStatusInProgress && now.Sub(t.StartedAt) > staleAfter)
		if claimable {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil, store.ErrTaskNotFound
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].SubmittedAt.Before(candidates[j].SubmittedAt)
	})

	t := candidates[0]
	t.Status = domain.TaskStatusInProgress
	t.StartedAt = now
	t.WorkerID = workerID
	t.ExecutionCount++
	s.m.tasks[t.ID] = t

	cp := t
	return &cp, nil
}

func (s *fakeTaskStore) DeleteInProgress(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	t, ok := s.m.tasks[id]
	if !ok || t.Status != domain.TaskStatusInProgress {
		return nil, store.ErrAlreadyCompleted
	}
	delete(s.m.tasks, id)
	cp := t
	return &cp, nil
}

func (s *fakeTaskStore) DeletePending(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	t, ok := s.m.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	if t.Status != domain.TaskStatusPending {
		return nil, store.ErrNotPending
	}
	delete(s.m.tasks, id)
	cp := t
	return &cp, nil
}

func (s *fakeTaskStore) UpdateTargets(ctx context.Context, id uuid.UUID, targetID, mainTargetID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	t, ok := s.m.tasks[id]
	if !ok {
		return store.ErrTaskNotFound
	}
	t.TargetID = targetID
	t.MainTargetID = mainTargetID
	s.m.tasks[id] = t
	return nil
}

func (s *fakeTaskStore) CountPending(ctx context.Context) (int, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	n := 0
	for _, t := range s.m.tasks {
		if t.Status == domain.TaskStatusPending {
			n++
		}
	}
	return n, nil
}

type fakeActivityStore struct{ m *InMemory }

func (s *fakeActivityStore) WithTx(tx *sql.Tx) store.ActivityStore { return s }

func (s *fakeActivityStore) Insert(ctx context.Context, rec *domain.ActivityRecord) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if err := s.m.failNextInsert; err != nil {
		s.m.failNextInsert = nil
		return err
	}
	for _, r := range s.m.records {
		if r.ID == rec.ID {
			return store.ErrDuplicate
		}
	}
	s.m.records = append(s.m.records, *rec)
	return nil
}

func (s *fakeActivityStore) ClearIsLast(ctx context.Context, isLastKey string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for i := range s.m.records {
		if s.m.records[i].IsLastKey == isLastKey && s.m.records[i].IsLast {
			s.m.records[i].IsLast = false
		}
	}
	return nil
}

func (s *fakeActivityStore) ClearMainIsLast(ctx context.Context, mainIsLastKey string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for i := range s.m.records {
		if s.m.records[i].MainIsLastKey == mainIsLastKey && s.m.records[i].MainIsLast {
			s.m.records[i].MainIsLast = false
		}
	}
	return nil
}

func (s *fakeActivityStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.ActivityRecord, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, r := range s.m.records {
		if r.ID == id {
			cp := r
			return &cp, nil
		}
	}
	return nil, store.ErrActivityNotFound
}

func (s *fakeActivityStore) Latest(ctx context.Context, taskType, targetID string) (*domain.ActivityRecord, error) {
	return s.latest(func(r domain.ActivityRecord) bool {
		return r.IsLast && r.IsLastKey == domain.LastKey(taskType, targetID)
	})
}

func (s *fakeActivityStore) LatestForMain(ctx context.Context, taskType, mainTargetID string) (*domain.ActivityRecord, error) {
	return s.latest(func(r domain.ActivityRecord) bool {
		return r.MainIsLast && r.MainIsLastKey == domain.MainLastKey(taskType, mainTargetID)
	})
}

func (s *fakeActivityStore) latest(match func(domain.ActivityRecord) bool) (*domain.ActivityRecord, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var hits []domain.ActivityRecord
	for _, r := range s.m.records {
		if match(r) {
			hits = append(hits, r)
		}
	}
	switch len(hits) {
	case 0:
		return nil, store.ErrActivityNotFound
	case 1:
		cp := hits[0]
		return &cp, nil
	default:
		sort.Slice(hits, func(i, j int) bool { return hits[i].FinishedAt.After(hits[j].FinishedAt) })
		cp := hits[0]
		return &cp, fmt.Errorf("%w: %d holders", store.ErrInvariantViolation, len(hits))
	}
}

func (s *fakeActivityStore) History(ctx context.Context, targetID string, page store.HistoryPage) ([]*domain.ActivityRecord, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if page.Limit <= 0 {
		page.Limit = 50
	}
	var hits []domain.ActivityRecord
	for _, r := range s.m.records {
		if r.TargetID == targetID {
			hits = append(hits, r)
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].FinishedAt.After(hits[j].FinishedAt) })

	var out []*domain.ActivityRecord
	for i := page.Offset; i < len(hits) && len(out) < page.Limit; i++ {
		cp := hits[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeActivityStore) ListMistargeted(ctx context.Context, limit int) ([]uuid.UUID, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var ids []uuid.UUID
	for _, r := range s.m.records {
		if len(ids) >= limit {
			break
		}
		mistargeted := r.TargetID == "" || r.TargetID == r.MainTargetID
		if mistargeted && s.m.historicalChars[r.ID].HasBranchOrPull() {
			ids = append(ids, r.ID)
		}
	}
	return ids, nil
}

func (s *fakeActivityStore) DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	drop := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	var kept []domain.ActivityRecord
	var n int64
	for _, r := range s.m.records {
		if drop[r.ID] {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.m.records = kept
	return n, nil
}

type fakeCharacteristicStore struct{ m *InMemory }

func (s *fakeCharacteristicStore) WithTx(tx *sql.Tx) store.CharacteristicStore { return s }

func (s *fakeCharacteristicStore) SaveAll(ctx context.Context, cs domain.Characteristics) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, c := range cs {
		s.m.pendingChars[c.TaskID] = append(s.m.pendingChars[c.TaskID], c)
	}
	return nil
}

func (s *fakeCharacteristicStore) ListByTask(ctx context.Context, taskID uuid.UUID) (domain.Characteristics, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return append(domain.Characteristics(nil), s.m.pendingChars[taskID]...), nil
}

func (s *fakeCharacteristicStore) ListHistorical(ctx context.Context, taskID uuid.UUID) (domain.Characteristics, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return append(domain.Characteristics(nil), s.m.historicalChars[taskID]...), nil
}

func (s *fakeCharacteristicStore) MoveToHistory(ctx context.Context, taskID uuid.UUID) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if cs, ok := s.m.pendingChars[taskID]; ok {
		s.m.historicalChars[taskID] = append(s.m.historicalChars[taskID], cs...)
		delete(s.m.pendingChars, taskID)
	}
	return nil
}

func (s *fakeCharacteristicStore) DeleteByTasks(ctx context.Context, taskIDs []uuid.UUID) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var n int64
	for _, id := range taskIDs {
		n += int64(len(s.m.historicalChars[id]))
		delete(s.m.historicalChars, id)
	}
	return n, nil
}

func (s *fakeCharacteristicStore) DeleteOrphaned(ctx context.Context, limit int) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var n int64
	for id, cs := range s.m.pendingChars {
		if !s.m.referencedLocked(id) {
			n += int64(len(cs))
			delete(s.m.pendingChars, id)
		}
	}
	for id, cs := range s.m.historicalChars {
		if !s.m.referencedLocked(id) {
			n += int64(len(cs))
			delete(s.m.historicalChars, id)
		}
	}
	return n, nil
}

type fakePayloadStore struct{ m *InMemory }

func (s *fakePayloadStore) WithTx(tx *sql.Tx) store.PayloadStore { return s }

func (s *fakePayloadStore) SaveInput(ctx context.Context, taskID uuid.UUID, payload []byte) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.inputs[taskID]; ok {
		return store.ErrDuplicate
	}
	s.m.inputs[taskID] = append([]byte(nil), payload...)
	return nil
}

func (s *fakePayloadStore) GetInput(ctx context.Context, taskID uuid.UUID) ([]byte, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	p, ok := s.m.inputs[taskID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]byte(nil), p...), nil
}

func (s *fakePayloadStore) SaveScannerContext(ctx context.Context, taskID uuid.UUID, content string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.contexts[taskID]; ok {
		return store.ErrDuplicate
	}
	s.m.contexts[taskID] = content
	return nil
}

func (s *fakePayloadStore) GetScannerContext(ctx context.Context, taskID uuid.UUID) (string, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	c, ok := s.m.contexts[taskID]
	if !ok {
		return "", store.ErrNotFound
	}
	return c, nil
}

func (s *fakePayloadStore) DeleteByTasks(ctx context.Context, taskIDs []uuid.UUID) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var n int64
	for _, id := range taskIDs {
		if _, ok := s.m.inputs[id]; ok {
			delete(s.m.inputs, id)
			n++
		}
		if _, ok := s.m.contexts[id]; ok {
			delete(s.m.contexts, id)
			n++
		}
	}
	return n, nil
}

func (s *fakePayloadStore) DeleteOrphaned(ctx context.Context, limit int) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var n int64
	for id := range s.m.inputs {
		if !s.m.referencedLocked(id) {
			delete(s.m.inputs, id)
			n++
		}
	}
	for id := range s.m.contexts {
		if !s.m.referencedLocked(id) {
			delete(s.m.contexts, id)
			n++
		}
	}
	return n, nil
}

type fakeMigrationStore struct{ m *InMemory }

func (s *fakeMigrationStore) WithTx(tx *sql.Tx) store.MigrationStore { return s }

func (s *fakeMigrationStore) IsCompleted(ctx context.Context, migrationID string) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.m.completed[migrationID], nil
}

func (s *fakeMigrationStore) MarkCompleted(ctx context.Context, migrationID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.m.completed[migrationID] {
		return store.ErrDuplicate
	}
	s.m.completed[migrationID] = true
	return nil
}

func (s *fakeMigrationStore) GetPhase(ctx context.Context, migrationID string) (string, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	phase, ok := s.m.phases[migrationID]
	if !ok {
		return "", store.ErrNotFound
	}
	return phase, nil
}

func (s *fakeMigrationStore) SetPhase(ctx context.Context, migrationID, phase string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.phases[migrationID] = phase
	return nil
}

// referencedLocked reports whether a task UUID is still referenced by a
// queued task or an activity record. Callers hold the lock.
func (m *InMemory) referencedLocked(id uuid.UUID) bool {
	if _, ok := m.tasks[id]; ok {
		return true
	}
	for _, r := range m.records {
		if r.ID == id {
			return true
		}
	}
	return false
}
