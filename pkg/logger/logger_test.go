package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWith_AddsFieldsToEveryEntry(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	base := &ZapLogger{log: zap.New(core).Sugar()}

	job := base.With("job_id", "j-1")
	job.Info("downloading", "bytes", 10)
	job.Error("failed")

	entries := logs.All()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, "j-1", e.ContextMap()["job_id"])
	}
	assert.EqualValues(t, 10, entries[0].ContextMap()["bytes"])
	assert.Equal(t, zap.ErrorLevel, entries[1].Level)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("LOG_ENV", "production")
	t.Setenv("LOG_LEVEL", "warn")

	cfg := configFromEnv()
	assert.Equal(t, "json", cfg.Encoding)
	assert.Equal(t, zap.WarnLevel, cfg.Level.Level())
}
