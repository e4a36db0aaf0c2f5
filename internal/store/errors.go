package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the store.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an operation would create a duplicate
	// of a unique entity (e.g., a second payload for the same task).
	ErrDuplicate = errors.New("entity already exists")

	// ErrConflict is returned when an optimistic-concurrency collision is
	// detected (serialization failure or deadlock). Callers retry the
	// whole unit of work; the error is never surfaced to API clients.
	ErrConflict = errors.New("concurrent modification conflict")

	// ErrAlreadyCompleted is returned when completing a task that is no
	// longer in progress, typically because a stale claim was reclaimed
	// and finished by another worker. It is a benign race outcome: log it,
	// do not treat it as a failure.
	ErrAlreadyCompleted = errors.New("task already completed")

	// ErrNotPending is returned when cancelling a task that has already
	// been claimed. Claimed tasks can only be abandoned via the stale
	// claim timeout.
	ErrNotPending = errors.New("task is not pending")

	// ErrInvariantViolation is returned when a read finds more than one
	// is-last record for the same key. Never expected; it self-heals on
	// the next completion for that key and is treated as a monitoring
	// alarm, not a crash.
	ErrInvariantViolation = errors.New("is-last invariant violation")

	// Entity-specific "not found" errors

	// ErrTaskNotFound indicates that the requested task does not exist in the store.
	ErrTaskNotFound = fmt.Errorf("%w: task", ErrNotFound)

	// ErrActivityNotFound indicates that the requested activity record does not exist.
	ErrActivityNotFound = fmt.Errorf("%w: activity record", ErrNotFound)
)

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable reports whether the error is a transient concurrency
// collision that the caller should retry with backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
