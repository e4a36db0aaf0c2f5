// Package task implements the task queue: submission, claim, completion,
// and cancellation of analysis tasks, plus the worker pool that executes
// them. All cross-worker coordination goes through conditional updates in
// the shared store; workers never block on each other.
package task
