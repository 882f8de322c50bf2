package logger_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikitaKurtin/dbnd/internal/logger"
	"github.com/nikitaKurtin/dbnd/internal/logger/tag"
)

func TestLoggerOutput(t *testing.T) {
	t.Parallel()

	t.Run("TextFormat", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		log := logger.NewLogger(logger.WithQuiet(), logger.WithWriter(&buf), logger.WithFormat("text"))

		log.Info("Sync cycle completed", tag.Source("alpha"))

		out := buf.String()
		assert.Contains(t, out, "Sync cycle completed")
		assert.Contains(t, out, "source=alpha")
	})

	t.Run("JSONFormat", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		log := logger.NewLogger(logger.WithQuiet(), logger.WithWriter(&buf), logger.WithFormat("json"))

		log.Info("Sync cycle completed", tag.Source("alpha"))

		out := buf.String()
		assert.Contains(t, out, `"msg":"Sync cycle completed"`)
		assert.Contains(t, out, `"source":"alpha"`)
	})

	t.Run("DebugSuppressedByDefault", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		log := logger.NewLogger(logger.WithQuiet(), logger.WithWriter(&buf), logger.WithFormat("text"))

		log.Debug("Fetched batch")
		assert.Empty(t, buf.String())
	})

	t.Run("WithDebugEnablesDebug", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		log := logger.NewLogger(logger.WithQuiet(), logger.WithWriter(&buf), logger.WithFormat("text"), logger.WithDebug())

		log.Debug("Fetched batch")
		assert.Contains(t, buf.String(), "Fetched batch")
	})

	t.Run("SetLevelAtRuntime", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		log := logger.NewLogger(logger.WithQuiet(), logger.WithWriter(&buf), logger.WithFormat("text"))

		log.Debug("before")
		require.Empty(t, buf.String())

		log.SetLevel("debug")
		log.Debug("after")
		assert.Contains(t, buf.String(), "after")
	})
}

func TestContextLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.NewLogger(logger.WithQuiet(), logger.WithWriter(&buf), logger.WithFormat("text"))
	ctx := logger.WithLogger(context.Background(), log)
	ctx = logger.WithValues(ctx, "sync-id", "abc123", "source", "alpha")

	logger.Info(ctx, "Persisted batch", tag.Count(3))

	out := buf.String()
	assert.Contains(t, out, "Persisted batch")
	assert.Contains(t, out, "sync-id=abc123")
	assert.Contains(t, out, "source=alpha")
	assert.Contains(t, out, "count=3")
}
