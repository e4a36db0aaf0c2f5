// Package api provides the HTTP handlers for the task queue and the
// activity ledger.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/scanwell/taskledger/internal/api/shared"
	"github.com/scanwell/taskledger/internal/platform/logger"
	"github.com/scanwell/taskledger/internal/store"
	"github.com/scanwell/taskledger/internal/task"
)

// TaskHandler handles task submission and lifecycle requests.
type TaskHandler struct {
	queue  *task.Queue
	logger *slog.Logger
}

// NewTaskHandler creates a TaskHandler.
func NewTaskHandler(queue *task.Queue, logger *slog.Logger) *TaskHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for TaskHandler")
	}
	return &TaskHandler{
		queue:  queue,
		logger: logger.With(slog.String("component", "task_handler")),
	}
}

// Submit handles POST /api/tasks. The task is accepted, not executed:
// a 202 with the task UUID means it is durably queued.
func (h *TaskHandler) Submit(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req SubmitTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		log.Warn("invalid request format", "error", err)
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		log.Warn("request validation failed", "error", err)
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	t, err := h.queue.Submit(r.Context(), req.Type, req.ComponentRef, req.Characteristics, req.Input)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err),
			"Failed to submit task", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, SubmitTaskResponse{
		ID:     t.ID.String(),
		Status: string(t.Status),
	})
}

// Get handles GET /api/tasks/{id}. Only queued tasks live here; a
// finished task is found in the activity ledger instead.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskID(w, r)
	if !ok {
		return
	}

	t, err := h.queue.GetTask(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err),
			GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(t))
}

// Cancel handles DELETE /api/tasks/{id}. Only pending tasks can be
// canceled; a claimed task returns 409.
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	id, ok := h.taskID(w, r)
	if !ok {
		return
	}

	if err := h.queue.Cancel(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotPending) {
			shared.RespondWithError(w, r, http.StatusConflict,
				"Task is already being executed and cannot be canceled")
			return
		}
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err),
			GetSafeErrorMessage(err), err)
		return
	}

	log.Info("task canceled via API", "task_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *TaskHandler) taskID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	if raw == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Task ID is required")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID format")
		return uuid.Nil, false
	}
	return id, true
}
