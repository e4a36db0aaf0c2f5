package api

import (
	"encoding/json"
	"time"

	"github.com/scanwell/taskledger/internal/domain"
)

// SubmitTaskRequest is the body of POST /api/tasks.
type SubmitTaskRequest struct {
	Type            string            `json:"type"            validate:"required"`
	ComponentRef    string            `json:"component_ref"   validate:"required"`
	Characteristics map[string]string `json:"characteristics,omitempty"`
	Input           json.RawMessage   `json:"input,omitempty"`
}

// SubmitTaskResponse acknowledges an accepted task.
type SubmitTaskResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// TaskResponse represents a queued task.
type TaskResponse struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	ComponentRef   string    `json:"component_ref"`
	TargetID       string    `json:"target_id,omitempty"`
	MainTargetID   string    `json:"main_target_id,omitempty"`
	Status         string    `json:"status"`
	SubmittedAt    time.Time `json:"submitted_at"`
	StartedAt      time.Time `json:"started_at"`
	WorkerID       string    `json:"worker_id,omitempty"`
	ExecutionCount int       `json:"execution_count"`
}

func taskToResponse(t *domain.Task) TaskResponse {
	return TaskResponse{
		ID:             t.ID.String(),
		Type:           t.Type,
		ComponentRef:   t.ComponentRef,
		TargetID:       t.TargetID,
		MainTargetID:   t.MainTargetID,
		Status:         string(t.Status),
		SubmittedAt:    t.SubmittedAt,
		StartedAt:      t.StartedAt,
		WorkerID:       t.WorkerID,
		ExecutionCount: t.ExecutionCount,
	}
}

// ActivityResponse represents one ledger record.
type ActivityResponse struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	ComponentRef   string    `json:"component_ref"`
	TargetID       string    `json:"target_id,omitempty"`
	MainTargetID   string    `json:"main_target_id,omitempty"`
	Status         string    `json:"status"`
	SubmittedAt    time.Time `json:"submitted_at"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	ExecutionCount int       `json:"execution_count"`
	IsLast         bool      `json:"is_last"`
	MainIsLast     bool      `json:"main_is_last"`
}

func activityToResponse(rec *domain.ActivityRecord) ActivityResponse {
	return ActivityResponse{
		ID:             rec.ID.String(),
		Type:           rec.Type,
		ComponentRef:   rec.ComponentRef,
		TargetID:       rec.TargetID,
		MainTargetID:   rec.MainTargetID,
		Status:         string(rec.Status),
		SubmittedAt:    rec.SubmittedAt,
		StartedAt:      rec.StartedAt,
		FinishedAt:     rec.FinishedAt,
		ExecutionCount: rec.ExecutionCount,
		IsLast:         rec.IsLast,
		MainIsLast:     rec.MainIsLast,
	}
}
