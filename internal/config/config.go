package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Queue    QueueConfig    `mapstructure:"queue"    validate:"required"`
	Reaper   ReaperConfig   `mapstructure:"reaper"`
}

// ServerConfig contains all HTTP server related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// QueueConfig contains worker pool and claim behavior settings.
type QueueConfig struct {
	// WorkerCount determines how many concurrent workers poll for tasks.
	WorkerCount int `mapstructure:"worker_count" validate:"required,gt=0"`

	// PollInterval is how long an idle worker waits before polling again.
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"required"`

	// ClaimTimeout is how long a claimed task may stay in progress before
	// it is considered abandoned and becomes eligible for reclaiming.
	ClaimTimeout time.Duration `mapstructure:"claim_timeout" validate:"required"`

	// ScannerURL is the endpoint of the external scanner that executes
	// task payloads. Empty runs the server in API-only mode with no
	// worker pool.
	ScannerURL string `mapstructure:"scanner_url" validate:"omitempty,url"`
}

// ReaperConfig controls the orphan cleanup sweep.
type ReaperConfig struct {
	// Schedule is a standard 5-field cron expression. Empty disables the
	// periodic sweep; Sweep can still be invoked manually.
	Schedule string `mapstructure:"schedule"`

	// BatchSize caps how many rows a single delete statement removes.
	BatchSize int `mapstructure:"batch_size" validate:"omitempty,gt=0"`
}
