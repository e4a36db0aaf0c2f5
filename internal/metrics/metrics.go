// Package metrics exposes Prometheus instrumentation for the task queue,
// activity ledger, and orphan reaper.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksSubmitted counts task submissions by type.
	TasksSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskledger_tasks_submitted_total",
		Help: "Total number of tasks submitted",
	}, []string{"type"})

	// TasksClaimed counts successful claims.
	TasksClaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskledger_tasks_claimed_total",
		Help: "Total number of tasks claimed by workers",
	}, []string{"type"})

	// TasksCompleted counts completions by type and terminal status.
	TasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskledger_tasks_completed_total",
		Help: "Total number of tasks completed",
	}, []string{"type", "status"})

	// CompletionConflicts counts optimistic-concurrency retries during
	// the ledger clear+insert sequence. Retried internally, never surfaced.
	CompletionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskledger_completion_conflicts_total",
		Help: "Total number of retried conflicts while flipping is-last pointers",
	})

	// InvariantViolations counts reads that found more than one is-last
	// holder for a key. A monitoring alarm, not a crash.
	InvariantViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskledger_is_last_invariant_violations_total",
		Help: "Total number of is-last invariant violations observed by readers",
	})

	// ReapedRows counts rows deleted by the orphan reaper, by rule.
	ReapedRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskledger_reaped_rows_total",
		Help: "Total number of rows deleted by the orphan reaper",
	}, []string{"rule"})

	// ExecDuration observes payload execution time.
	ExecDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "taskledger_exec_duration_seconds",
		Help:    "Time taken to execute the task payload",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})
)
