package logger_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/jonesrussell/north-cloud/guardrail/infrastructure/logger"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"WARN":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, logger.ParseLevel(in), "level %q", in)
	}
}

func TestNew_WritesToOutputPath(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.log")
	l, err := logger.New(logger.Config{Level: "debug", Format: "console", OutputPaths: []string{path}})
	require.NoError(t, err)

	l.With(logger.String("deployment", "nask_guard")).Info("ready", logger.Int("windows", 3))
	require.NoError(t, l.Sync())
	assert.FileExists(t, path)
}

func TestFromContext_RoundTrip(t *testing.T) {
	t.Parallel()

	l, err := logger.New(logger.Config{OutputPaths: []string{filepath.Join(t.TempDir(), "ctx.log")}})
	require.NoError(t, err)

	ctx := logger.WithContext(context.Background(), l)
	assert.Same(t, l, logger.FromContext(ctx))
}

func TestFromContext_Fallback(t *testing.T) {
	t.Parallel()

	got := logger.FromContext(context.Background())
	require.NotNil(t, got)
	got.Debug("filtered")
	got.Warn("visible", logger.String("key", "value"))
}
