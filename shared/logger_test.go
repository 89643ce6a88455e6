package shared

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapLogger(zap.New(core)).With(zap.String("component", "test"))

	logger.Error("with error", errors.New("boom"))
	logger.Error("without error", nil)
	logger.Warn("warn")
	logger.Info("info", zap.Int("n", 1))
	logger.Trace("trace")

	entries := logs.All()
	require.Len(t, entries, 5)
	assert.Equal(t, "boom", entries[0].ContextMap()["error"])
	assert.NotContains(t, entries[1].ContextMap(), "error")
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, int64(1), entries[3].ContextMap()["n"])
	assert.Equal(t, zapcore.DebugLevel, entries[4].Level)
	for _, e := range entries {
		assert.Equal(t, "test", e.ContextMap()["component"])
	}
}

func TestFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.log")
	logger := NewFileLogger(path, 1, 1, 1, false)
	logger.Info("session connected", zap.String("model", "gpt-4o-realtime-preview"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"session connected"`)
	assert.Contains(t, string(data), `"model":"gpt-4o-realtime-preview"`)
}

func TestNopLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		NewNopLogger().With(zap.String("k", "v")).Error("ignored", errors.New("x"))
	})
}
