package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 10*time.Second, cfg.Requester.PlaylistTimeout)
	assert.Equal(t, 10*time.Second, cfg.Requester.SegmentTimeout)
	assert.Equal(t, 3, cfg.Requester.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Requester.RetryBaseDelay)
	assert.Equal(t, 8*time.Second, cfg.Requester.RetryMaxDelay)

	assert.Equal(t, 30*time.Second, cfg.MediaElement.BufferGoal)
	assert.Equal(t, 3*time.Second, cfg.MediaElement.MinBufferTimeLow)
	assert.Equal(t, 8*time.Second, cfg.MediaElement.MinBufferTimeHigh)

	assert.InDelta(t, 2.0, cfg.Adaptive.EWMAHalfLifeFast, 0.0001)
	assert.InDelta(t, 10.0, cfg.Adaptive.EWMAHalfLifeSlow, 0.0001)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)

	assert.True(t, cfg.HTTPAPI.Enabled)
	assert.Equal(t, 8088, cfg.HTTPAPI.Port)
}

func TestLoad_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
requester:
  max_attempts: 5
  retry_base_delay: 1s

http_api:
  port: 9090

logging:
  level: "debug"
  format: "json"
`
	err := os.WriteFile(configPath, []byte(configContent), 0o600)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 5, cfg.Requester.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Requester.RetryBaseDelay)
	assert.Equal(t, 9090, cfg.HTTPAPI.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("HLSPLAY_HTTP_API_PORT", "3000")
	t.Setenv("HLSPLAY_LOGGING_LEVEL", "warn")
	t.Setenv("HLSPLAY_REQUESTER_MAX_ATTEMPTS", "7")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 3000, cfg.HTTPAPI.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 7, cfg.Requester.MaxAttempts)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
http_api:
  port: 8080
`
	err := os.WriteFile(configPath, []byte(configContent), 0o600)
	require.NoError(t, err)

	t.Setenv("HLSPLAY_HTTP_API_PORT", "9000")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.HTTPAPI.Port)
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
}

func TestValidate_InvalidRetryDelays(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Requester.RetryMaxDelay = cfg.Requester.RetryBaseDelay - time.Millisecond
	require.Error(t, cfg.Validate())
}

func TestValidate_InvalidLoggingLevel(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Logging.Level = "verbose"
	require.Error(t, cfg.Validate())
}

func TestHTTPAPIConfig_Address(t *testing.T) {
	c := HTTPAPIConfig{Host: "127.0.0.1", Port: 8088}
	assert.Equal(t, "127.0.0.1:8088", c.Address())
}
