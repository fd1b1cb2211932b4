package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 5, cfg.Concurrency)
	assert.Equal(t, 100, cfg.QueueSize)
	assert.Equal(t, 5*time.Second, cfg.TaskMinTime)
	assert.Equal(t, 30*time.Second, cfg.TaskMaxTime)
	assert.Equal(t, time.Second, cfg.ProgressTick)
	assert.Equal(t, 10, cfg.RateLimitMax)
	assert.Equal(t, time.Minute, cfg.RateLimitWindow)
	assert.Equal(t, 10*time.Minute, cfg.Retention)
	assert.Equal(t, 30*time.Second, cfg.JanitorInterval)
	assert.Equal(t, 10*time.Second, cfg.MaxWaitTimeout)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TASKS_CONCURRENCY", "8")
	t.Setenv("TASKS_RATE_LIMIT_MAX", "25")
	t.Setenv("TASKS_TASK_MAX_TIME", "45s")
	t.Setenv("TASKS_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, 25, cfg.RateLimitMax)
	assert.Equal(t, 45*time.Second, cfg.TaskMaxTime)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("TASKS_LOG_LEVEL", "verbose")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsInvertedTaskTimes(t *testing.T) {
	t.Setenv("TASKS_TASK_MIN_TIME", "1m")
	t.Setenv("TASKS_TASK_MAX_TIME", "10s")
	_, err := Load()
	assert.Error(t, err)
}
