package logger_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/scanwell/taskledger/internal/config"
	"github.com/scanwell/taskledger/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
	}{
		{name: "debug level", logLevel: "debug"},
		{name: "info level", logLevel: "info"},
		{name: "warn level", logLevel: "warn"},
		{name: "error level", logLevel: "error"},
		{name: "invalid level falls back to info", logLevel: "verbose"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := logger.Setup(config.ServerConfig{LogLevel: tt.logLevel})
			require.NoError(t, err)
			require.NotNil(t, log)
		})
	}
}

func TestWithLoggerAndFromContext(t *testing.T) {
	var buf bytes.Buffer
	custom := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := logger.WithLogger(context.Background(), custom)
	got := logger.FromContext(ctx)
	assert.Same(t, custom, got)

	// A bare context yields the process default, never nil.
	assert.NotNil(t, logger.FromContext(context.Background()))
}

func TestFromContextOrDefault(t *testing.T) {
	def := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	t.Run("empty context returns default", func(t *testing.T) {
		assert.Same(t, def, logger.FromContextOrDefault(context.Background(), def))
	})

	t.Run("context logger wins", func(t *testing.T) {
		custom := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
		ctx := logger.WithLogger(context.Background(), custom)
		assert.Same(t, custom, logger.FromContextOrDefault(ctx, def))
	})
}

func TestWithLoggerPanicsOnNil(t *testing.T) {
	assert.Panics(t, func() {
		logger.WithLogger(context.Background(), nil)
	})
}
