package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30*time.Second, cfg.Client.Timeout())
	assert.Equal(t, 10*time.Minute, cfg.Client.CacheTTL())
	assert.Equal(t, 2*time.Second, cfg.Stream.ReconnectInterval())
}

func TestLoadMissingPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
client:
  timeout_seconds: 10
  cache_ttl_minutes: 5
  requests_per_minute: 120
batch:
  max_concurrency: 8
stream:
  reconnect_seconds: 1
  max_retries: 3
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.Client.Timeout())
	assert.Equal(t, 5*time.Minute, cfg.Client.CacheTTL())
	assert.Equal(t, 120, cfg.Client.RequestsPerMinute)
	assert.Equal(t, 8, cfg.Batch.MaxConcurrency)
	assert.Equal(t, 3, cfg.Stream.MaxRetries)

	// Unset keys keep their defaults.
	assert.Equal(t, 3, cfg.Client.AuthRetries)
}

func TestLoadNonexistentFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	path := writeConfig(t, "client: [not a map")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("YFINANCE_LOG_LEVEL", "warn")
	t.Setenv("YFINANCE_BASE_URL", "http://localhost:9999")
	t.Setenv("YFINANCE_REQUESTS_PER_MINUTE", "30")
	t.Setenv("YFINANCE_BATCH_CONCURRENCY", "4")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "http://localhost:9999", cfg.Client.BaseURL)
	assert.Equal(t, 30, cfg.Client.RequestsPerMinute)
	assert.Equal(t, 4, cfg.Batch.MaxConcurrency)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"zero timeout", func(c *Config) { c.Client.TimeoutSeconds = 0 }},
		{"negative auth retries", func(c *Config) { c.Client.AuthRetries = -1 }},
		{"negative server retries", func(c *Config) { c.Client.ServerRetries = -1 }},
		{"zero cache ttl", func(c *Config) { c.Client.CacheTTLMinutes = 0 }},
		{"negative rate", func(c *Config) { c.Client.RequestsPerMinute = -1 }},
		{"negative concurrency", func(c *Config) { c.Batch.MaxConcurrency = -1 }},
		{"zero reconnect", func(c *Config) { c.Stream.ReconnectSeconds = 0 }},
		{"zero stream retries", func(c *Config) { c.Stream.MaxRetries = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
