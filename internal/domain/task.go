package domain

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the current state of a task in the queue.
type TaskStatus string

// Possible task status values. PENDING and IN_PROGRESS are queue states;
// the terminal states only ever appear on activity records.
const (
	TaskStatusPending    TaskStatus = "PENDING"
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	TaskStatusSuccess    TaskStatus = "SUCCESS"
	TaskStatusFailed     TaskStatus = "FAILED"
	TaskStatusCanceled   TaskStatus = "CANCELED"
)

// Outcome is the result a worker reports when it finishes executing a task.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailed  Outcome = "FAILED"
)

// Status returns the terminal task status corresponding to the outcome.
func (o Outcome) Status() TaskStatus {
	if o == OutcomeSuccess {
		return TaskStatusSuccess
	}
	return TaskStatusFailed
}

// Task represents one unit of submitted work awaiting or undergoing
// execution. The queue owns it exclusively while pending/in progress;
// on completion it is converted into an ActivityRecord and the row is
// removed from the queue.
type Task struct {
	ID           uuid.UUID
	Type         string
	ComponentRef string

	// TargetID and MainTargetID stay empty until the target resolver
	// finds a durable component for this task. They are best-effort at
	// submission time and re-resolved authoritatively at completion.
	TargetID     string
	MainTargetID string

	Status         TaskStatus
	SubmittedAt    time.Time
	StartedAt      time.Time
	WorkerID       string
	ExecutionCount int
}

// NewTask creates a pending task for the given type and component reference.
// Returns a validation error if either is empty.
func NewTask(taskType, componentRef string) (*Task, error) {
	t := &Task{
		ID:           uuid.New(),
		Type:         taskType,
		ComponentRef: componentRef,
		Status:       TaskStatusPending,
		SubmittedAt:  time.Now().UTC(),
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks that the task satisfies all domain invariants.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrTaskIDEmpty
	}
	if t.Type == "" {
		return ErrTaskTypeEmpty
	}
	if t.ComponentRef == "" {
		return ErrComponentRefEmpty
	}
	return nil
}
