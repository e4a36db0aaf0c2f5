// Package main implements the taskledger server: the HTTP API for task
// submission and activity reads, the worker pool executing queued
// tasks, and the scheduled cleanup sweeps.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"

	"github.com/scanwell/taskledger/internal/config"
	"github.com/scanwell/taskledger/internal/platform/logger"
)

func main() {
	migrateCmd := flag.String("migrate", "",
		"run database migrations instead of serving: up|down|status|create")
	migrationName := flag.String("migration-name", "",
		"name for a new migration (with -migrate create)")
	onlineMigrate := flag.Bool("online-migrate", false,
		"run pending online data migrations before serving")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger, err := logger.Setup(cfg.Server)
	if err != nil {
		log.Fatalf("Failed to set up logger: %v", err)
	}

	slog.Info("Configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"worker_count", cfg.Queue.WorkerCount)

	if *migrateCmd != "" {
		if err := runMigrations(cfg, *migrateCmd, *migrationName); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		return
	}

	app, err := newApplication(cfg, appLogger)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	if *onlineMigrate {
		if err := app.runOnlineMigrations(context.Background()); err != nil {
			log.Fatalf("Online migration failed: %v", err)
		}
	}

	app.start()
	if err := app.startHTTPServer(context.Background(), app.setupRouter()); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
