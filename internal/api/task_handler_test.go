package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanwell/taskledger/internal/domain"
	"github.com/scanwell/taskledger/internal/ledger"
	"github.com/scanwell/taskledger/internal/mocks"
	"github.com/scanwell/taskledger/internal/resolver"
	"github.com/scanwell/taskledger/internal/task"
)

// staticRegistry resolves a fixed set of keys.
type staticRegistry map[string]resolver.Component

func (r staticRegistry) LookupByKey(ctx context.Context, key string) (*resolver.Component, error) {
	c, ok := r[key]
	if !ok {
		return nil, resolver.ErrUnresolved
	}
	cp := c
	return &cp, nil
}

type testServer struct {
	router *chi.Mux
	queue  *task.Queue
	world  *mocks.InMemory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	world := mocks.NewInMemory()
	led := ledger.New(world.ActivityStore())
	registry := staticRegistry{
		"svc-payments":                  {ID: "comp-1", RootID: "comp-1"},
		"svc-payments:BRANCH:feature/x": {ID: "comp-1-fx", RootID: "comp-1"},
	}
	queue := task.NewQueue(world.TxRunner(), world.TaskStore(),
		world.CharacteristicStore(), world.PayloadStore(),
		resolver.New(registry), led, 30*time.Minute)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	taskHandler := NewTaskHandler(queue, log)
	activityHandler := NewActivityHandler(led, log)

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Post("/tasks", taskHandler.Submit)
		r.Get("/tasks/{id}", taskHandler.Get)
		r.Delete("/tasks/{id}", taskHandler.Cancel)
		r.Get("/activity", activityHandler.History)
		r.Get("/activity/latest", activityHandler.Latest)
		r.Get("/activity/latest/main", activityHandler.LatestForMain)
	})

	return &testServer{router: r, queue: queue, world: world}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestTaskHandler_Submit(t *testing.T) {
	t.Run("accepts a valid submission", func(t *testing.T) {
		s := newTestServer(t)

		rec := s.do(t, http.MethodPost, "/api/tasks", SubmitTaskRequest{
			Type:         "SCAN",
			ComponentRef: "svc-payments",
			Characteristics: map[string]string{
				domain.CharacteristicBranch: "feature/x",
			},
			Input: json.RawMessage(`{"depth":3}`),
		})

		require.Equal(t, http.StatusAccepted, rec.Code)
		resp := decodeBody[SubmitTaskResponse](t, rec)
		assert.Equal(t, string(domain.TaskStatusPending), resp.Status)

		id, err := uuid.Parse(resp.ID)
		require.NoError(t, err)

		input, err := s.world.PayloadStore().GetInput(context.Background(), id)
		require.NoError(t, err)
		assert.JSONEq(t, `{"depth":3}`, string(input))
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		s := newTestServer(t)

		req := httptest.NewRequest(http.MethodPost, "/api/tasks",
			bytes.NewReader([]byte(`{not json`)))
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects a missing type", func(t *testing.T) {
		s := newTestServer(t)

		rec := s.do(t, http.MethodPost, "/api/tasks", SubmitTaskRequest{
			ComponentRef: "svc-payments",
		})

		require.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decodeBody[map[string]interface{}](t, rec)
		assert.Contains(t, resp["error"], "Type")
	})

	t.Run("rejects a missing component ref", func(t *testing.T) {
		s := newTestServer(t)

		rec := s.do(t, http.MethodPost, "/api/tasks", SubmitTaskRequest{Type: "SCAN"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestTaskHandler_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("returns a queued task", func(t *testing.T) {
		s := newTestServer(t)
		submitted, err := s.queue.Submit(ctx, "SCAN", "svc-payments", nil, nil)
		require.NoError(t, err)

		rec := s.do(t, http.MethodGet, "/api/tasks/"+submitted.ID.String(), nil)

		require.Equal(t, http.StatusOK, rec.Code)
		resp := decodeBody[TaskResponse](t, rec)
		assert.Equal(t, submitted.ID.String(), resp.ID)
		assert.Equal(t, "comp-1", resp.TargetID)
		assert.Equal(t, string(domain.TaskStatusPending), resp.Status)
	})

	t.Run("unknown task is 404", func(t *testing.T) {
		s := newTestServer(t)

		rec := s.do(t, http.MethodGet, "/api/tasks/"+uuid.NewString(), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("invalid uuid is 400", func(t *testing.T) {
		s := newTestServer(t)

		rec := s.do(t, http.MethodGet, "/api/tasks/not-a-uuid", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestTaskHandler_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("cancels a pending task", func(t *testing.T) {
		s := newTestServer(t)
		submitted, err := s.queue.Submit(ctx, "SCAN", "svc-payments", nil, nil)
		require.NoError(t, err)

		rec := s.do(t, http.MethodDelete, "/api/tasks/"+submitted.ID.String(), nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		records := s.world.Records()
		require.Len(t, records, 1)
		assert.Equal(t, domain.TaskStatusCanceled, records[0].Status)
	})

	t.Run("claimed task is 409", func(t *testing.T) {
		s := newTestServer(t)
		submitted, err := s.queue.Submit(ctx, "SCAN", "svc-payments", nil, nil)
		require.NoError(t, err)
		_, err = s.queue.Claim(ctx, "worker-0")
		require.NoError(t, err)

		rec := s.do(t, http.MethodDelete, "/api/tasks/"+submitted.ID.String(), nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unknown task is 404", func(t *testing.T) {
		s := newTestServer(t)

		rec := s.do(t, http.MethodDelete, "/api/tasks/"+uuid.NewString(), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
