package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost:6379", cfg.Queue.Addr)
	assert.Equal(t, "signature-validation", cfg.Queue.Name)
	assert.Equal(t, 20, cfg.Queue.BlockTimeoutSecs)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 1000, cfg.Retry.InitialBackoffMs)
	assert.Equal(t, 30000, cfg.Retry.MaxBackoffMs)
	assert.InDelta(t, 2.0, cfg.Retry.Multiplier, 0.001)
	assert.Equal(t, 5, cfg.Circuit.FailureThreshold)
	assert.Equal(t, 30, cfg.Circuit.ResetTimeoutSecs)
	assert.Equal(t, 3, cfg.Callback.MaxRetries)
	assert.Equal(t, 1000, cfg.Callback.BaseDelayMs)
	assert.Equal(t, 1000, cfg.Callback.QueueCapacity)
	assert.Equal(t, 24, cfg.Callback.RetainCompletedHours)
	assert.InDelta(t, 2.0, cfg.Recognition.RatePerSecond, 0.001)
	assert.Equal(t, 1, cfg.Recognition.RateBurst)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
log:
  level: debug
  format: console
server:
  port: 9090
recognition:
  endpoint: http://recognition.internal/api/recognize
  integration_key: abc123
queue:
  name: sigval-requests
retry:
  max_attempts: 3
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "http://recognition.internal/api/recognize", cfg.Recognition.Endpoint)
	assert.Equal(t, "abc123", cfg.Recognition.IntegrationKey)
	assert.Equal(t, "sigval-requests", cfg.Queue.Name)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	// Untouched defaults survive partial files.
	assert.Equal(t, 30000, cfg.Retry.MaxBackoffMs)
}

func TestLoadFromEnv(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("SIGVAL_QUEUE_ADDR", "redis.internal:6380")
	t.Setenv("SIGVAL_RECOGNITION_INTEGRATION_KEY", "env-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis.internal:6380", cfg.Queue.Addr)
	assert.Equal(t, "env-key", cfg.Recognition.IntegrationKey)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())

	require.Error(t, InitLogger(LogConfig{Level: "not-a-level", Format: "json"}))
}
