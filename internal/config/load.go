package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from an optional config file and the environment.
// Environment variables take precedence over values from config files and
// use the TASKLEDGER_ prefix with underscores for nesting, e.g.
// TASKLEDGER_DATABASE_URL overrides database.url.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("TASKLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine: env vars and defaults may be enough.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers defaults for everything that has a sane one.
func setDefaults(v *viper.Viper) {
	// Registered empty so AutomaticEnv can override it on Unmarshal;
	// validation rejects the empty value if nothing provides one.
	v.SetDefault("database.url", "")
	v.SetDefault("queue.scanner_url", "")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("queue.worker_count", 2)
	v.SetDefault("queue.poll_interval", 2*time.Second)
	v.SetDefault("queue.claim_timeout", 30*time.Minute)
	v.SetDefault("reaper.schedule", "@hourly")
	v.SetDefault("reaper.batch_size", 500)
}
