package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/scanwell/taskledger/internal/config"
	"github.com/scanwell/taskledger/internal/ledger"
	"github.com/scanwell/taskledger/internal/migrate"
	"github.com/scanwell/taskledger/internal/platform/postgres"
	"github.com/scanwell/taskledger/internal/reaper"
	"github.com/scanwell/taskledger/internal/resolver"
	"github.com/scanwell/taskledger/internal/store"
	"github.com/scanwell/taskledger/internal/task"
)

// application holds the wired components of the running server.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	queue  *task.Queue
	ledger *ledger.Ledger
	runner *task.Runner
	reaper *reaper.Reaper
}

// newApplication connects the database and wires the services.
func newApplication(cfg *config.Config, logger *slog.Logger) (*application, error) {
	db, err := setupDatabase(cfg, logger)
	if err != nil {
		return nil, err
	}

	taskStore := postgres.NewPostgresTaskStore(db)
	activityStore := postgres.NewPostgresActivityStore(db)
	charStore := postgres.NewPostgresCharacteristicStore(db)
	payloadStore := postgres.NewPostgresPayloadStore(db)
	registry := postgres.NewPostgresComponentRegistry(db)
	txManager := store.NewTxManager(db)

	led := ledger.New(activityStore)
	res := resolver.New(registry)
	queue := task.NewQueue(txManager, taskStore, charStore, payloadStore,
		res, led, cfg.Queue.ClaimTimeout)

	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
		queue:  queue,
		ledger: led,
		reaper: reaper.New(txManager, activityStore, charStore, payloadStore,
			cfg.Reaper.BatchSize, logger),
	}

	if cfg.Queue.ScannerURL != "" {
		app.runner = task.NewRunner(queue,
			newScanExecutor(cfg.Queue.ScannerURL),
			task.RunnerConfig{
				WorkerCount:  cfg.Queue.WorkerCount,
				PollInterval: cfg.Queue.PollInterval,
			},
			logger)
	} else {
		logger.Info("no scanner URL configured, running in API-only mode")
	}

	return app, nil
}

// start launches the background components: the worker pool (when an
// executor is configured) and the reaper schedule.
func (app *application) start() {
	if app.runner != nil {
		app.runner.Start()
	}
	if app.config.Reaper.Schedule != "" {
		if err := app.reaper.Start(app.config.Reaper.Schedule); err != nil {
			app.logger.Error("failed to schedule reaper", "error", err)
		}
	}
}

// runOnlineMigrations drives pending online data migrations to
// completion. Already-applied migrations are skipped.
func (app *application) runOnlineMigrations(ctx context.Context) error {
	migrator := migrate.New(store.NewTxManager(app.db),
		postgres.NewPostgresMigrationStore(app.db), app.logger)

	steps := migrate.NewLedgerKeySteps(app.db, 1000)
	if err := migrator.Run(ctx, steps); err != nil {
		if errors.Is(err, migrate.ErrAlreadyApplied) {
			app.logger.Info("online migration already applied", "migration_id", steps.ID())
			return nil
		}
		return fmt.Errorf("online migration %s: %w", steps.ID(), err)
	}
	return nil
}

// cleanup stops background work and releases resources, in reverse
// order of startup.
func (app *application) cleanup() {
	if app.runner != nil {
		app.runner.Stop()
	}
	app.reaper.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Error("failed to close database", "error", err)
	}
}
