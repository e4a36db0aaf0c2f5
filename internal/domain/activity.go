package domain

import (
	"time"

	"github.com/google/uuid"
)

// ActivityRecord is the permanent history row written when a task
// finishes. It keeps the originating task's UUID. The four is-last
// fields are the only ones ever mutated after insertion.
type ActivityRecord struct {
	ID           uuid.UUID
	Type         string
	ComponentRef string
	TargetID     string
	MainTargetID string

	Status         TaskStatus
	SubmittedAt    time.Time
	StartedAt      time.Time
	FinishedAt     time.Time
	ExecutionCount int

	// IsLast is true for at most one record per (type, target) pair;
	// IsLastKey is the uniqueness anchor that holds even when the target
	// never resolved.
	IsLast    bool
	IsLastKey string

	// MainIsLast tracks the same invariant against the main target:
	// the latest outcome for the owning project regardless of which
	// branch produced it.
	MainIsLast    bool
	MainIsLastKey string
}

// LastKey computes the is-last uniqueness anchor for a (type, target)
// pair. An unresolved target falls back to the task type alone.
func LastKey(taskType, targetID string) string {
	return taskType + targetID
}

// MainLastKey computes the main is-last uniqueness anchor. An unresolved
// main target falls back to the task type doubled, keeping the key
// disjoint from LastKey's unresolved form so the two pointers can never
// collide on the same anchor.
func MainLastKey(taskType, mainTargetID string) string {
	if mainTargetID == "" {
		return taskType + taskType
	}
	return taskType + mainTargetID
}

// NewActivityRecord converts a finished task into its history row with
// both is-last pointers set. The ledger clears the previous holders of
// the same keys in the same transaction that inserts this record.
func NewActivityRecord(t *Task, status TaskStatus, targetID, mainTargetID string, finishedAt time.Time) *ActivityRecord {
	return &ActivityRecord{
		ID:             t.ID,
		Type:           t.Type,
		ComponentRef:   t.ComponentRef,
		TargetID:       targetID,
		MainTargetID:   mainTargetID,
		Status:         status,
		SubmittedAt:    t.SubmittedAt,
		StartedAt:      t.StartedAt,
		FinishedAt:     finishedAt,
		ExecutionCount: t.ExecutionCount,
		IsLast:         true,
		IsLastKey:      LastKey(t.Type, targetID),
		MainIsLast:     true,
		MainIsLastKey:  MainLastKey(t.Type, mainTargetID),
	}
}
