package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/scanwell/taskledger/internal/domain"
	"github.com/scanwell/taskledger/internal/metrics"
	"github.com/scanwell/taskledger/internal/store"
)

// Result is what an executor reports back for a finished payload.
type Result struct {
	Outcome domain.Outcome

	// ScannerContext, when non-empty, is persisted to the side store
	// before the task completes.
	ScannerContext string
}

// Executor runs the analysis payload of a claimed task. The computation
// itself is outside this system; implementations are injected.
type Executor interface {
	Execute(ctx context.Context, t *domain.Task, input []byte) (Result, error)
}

// RunnerConfig holds configuration for the worker pool.
type RunnerConfig struct {
	// WorkerCount determines how many concurrent workers poll for tasks.
	WorkerCount int

	// PollInterval is how long an idle worker waits before polling again.
	// The queue is poll-based; no push notification is assumed.
	PollInterval time.Duration
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		WorkerCount:  2,
		PollInterval: 2 * time.Second,
	}
}

// Runner manages the worker pool that claims and executes tasks.
type Runner struct {
	queue      *Queue
	executor   Executor
	config     RunnerConfig
	logger     *slog.Logger
	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewRunner creates a new Runner.
func NewRunner(queue *Queue, executor Executor, config RunnerConfig, logger *slog.Logger) *Runner {
	if config.WorkerCount <= 0 {
		config.WorkerCount = DefaultRunnerConfig().WorkerCount
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultRunnerConfig().PollInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Runner{
		queue:      queue,
		executor:   executor,
		config:     config,
		logger:     logger,
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// Start launches the worker goroutines. Crash recovery needs no extra
// pass here: abandoned IN_PROGRESS rows age past the claim timeout and
// become claimable again through the normal claim path.
func (r *Runner) Start() {
	for i := 0; i < r.config.WorkerCount; i++ {
		r.wg.Add(1)
		go r.worker(fmt.Sprintf("worker-%d", i))
	}
	r.logger.Info("task runner started",
		"worker_count", r.config.WorkerCount,
		"poll_interval", r.config.PollInterval)
}

// Stop gracefully shuts down the runner, waiting for in-flight tasks.
func (r *Runner) Stop() {
	r.cancelFunc()
	r.wg.Wait()
}

// worker claims and processes tasks until the runner stops.
func (r *Runner) worker(workerID string) {
	defer r.wg.Done()

	log := r.logger.With("worker_id", workerID)
	log.Debug("starting worker")

	for {
		select {
		case <-r.ctx.Done():
			log.Debug("stopping worker")
			return
		default:
		}

		t, err := r.queue.Claim(r.ctx, workerID)
		if err != nil {
			log.Error("claim failed", "error", err)
			r.sleep()
			continue
		}
		if t == nil {
			r.sleep()
			continue
		}

		r.processTask(t, log)
	}
}

// processTask executes one claimed task and records its outcome.
func (r *Runner) processTask(t *domain.Task, log *slog.Logger) {
	log = log.With(
		"task_id", t.ID,
		"task_type", t.Type,
		"execution_count", t.ExecutionCount,
	)
	log.Info("processing task")

	input, err := r.queue.GetInput(r.ctx, t.ID)
	if err != nil {
		log.Error("failed to load task input", "error", err)
		// Fall through with a nil input; the executor decides whether
		// it can run without one.
	}

	start := time.Now()
	result, execErr := r.executor.Execute(r.ctx, t, input)
	metrics.ExecDuration.WithLabelValues(t.Type).Observe(time.Since(start).Seconds())

	outcome := result.Outcome
	if execErr != nil {
		log.Error("task execution failed", "error", execErr)
		outcome = domain.OutcomeFailed
	}

	if result.ScannerContext != "" {
		if err := r.queue.SaveScannerContext(r.ctx, t.ID, result.ScannerContext); err != nil {
			log.Error("failed to save scanner context", "error", err)
		}
	}

	if err := r.queue.Complete(r.ctx, t.ID, outcome); err != nil {
		if errors.Is(err, store.ErrAlreadyCompleted) {
			log.Info("task was completed elsewhere, dropping local result")
			return
		}
		log.Error("failed to complete task", "error", err)
		return
	}

	log.Info("task finished", "outcome", outcome)
}

func (r *Runner) sleep() {
	select {
	case <-time.After(r.config.PollInterval):
	case <-r.ctx.Done():
	}
}
