// Package config loads the application-level settings consumed by the
// client, batch, and stream packages. Values arrive from a YAML file
// with environment-variable overrides for deployment knobs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full application configuration. Durations are plain
// integers (seconds or minutes) so they read naturally in YAML.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	Client ClientConfig `yaml:"client"`
	Batch  BatchConfig  `yaml:"batch"`
	Stream StreamConfig `yaml:"stream"`
}

// ClientConfig tunes the request executor.
type ClientConfig struct {
	// BaseURL overrides the production query host. Empty keeps the
	// default.
	BaseURL string `yaml:"base_url"`

	// TimeoutSeconds bounds a single HTTP send.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// AuthRetries bounds session refreshes per request.
	AuthRetries int `yaml:"auth_retries"`

	// ServerRetries bounds server-error and transport retries per request.
	ServerRetries int `yaml:"server_retries"`

	// CacheTTLMinutes is the response cache expiry window.
	CacheTTLMinutes int `yaml:"cache_ttl_minutes"`

	// RequestsPerMinute paces outgoing sends. Zero disables the proactive
	// limiter.
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// BatchConfig tunes the batch orchestrator.
type BatchConfig struct {
	// MaxConcurrency bounds in-flight per-symbol operations. Zero lets the
	// orchestrator pick a machine-based default.
	MaxConcurrency int `yaml:"max_concurrency"`
}

// StreamConfig tunes the live pricing feed.
type StreamConfig struct {
	// URL overrides the production streaming endpoint. Empty keeps the
	// default.
	URL string `yaml:"url"`

	// ReconnectSeconds is the delay between reconnect attempts.
	ReconnectSeconds int `yaml:"reconnect_seconds"`

	// MaxRetries bounds reconnect attempts.
	MaxRetries int `yaml:"max_retries"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Client: ClientConfig{
			TimeoutSeconds:    30,
			AuthRetries:       3,
			ServerRetries:     3,
			CacheTTLMinutes:   10,
			RequestsPerMinute: 60,
		},
		Batch: BatchConfig{
			MaxConcurrency: 0,
		},
		Stream: StreamConfig{
			ReconnectSeconds: 2,
			MaxRetries:       5,
		},
	}
}

// Load reads a YAML config file over the defaults, then applies
// environment overrides, then validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays the environment variables used in deployment.
func (c *Config) applyEnv() {
	if v := os.Getenv("YFINANCE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("YFINANCE_BASE_URL"); v != "" {
		c.Client.BaseURL = v
	}
	if v := os.Getenv("YFINANCE_STREAM_URL"); v != "" {
		c.Stream.URL = v
	}
	if v, err := strconv.Atoi(os.Getenv("YFINANCE_REQUESTS_PER_MINUTE")); err == nil && v >= 0 {
		c.Client.RequestsPerMinute = v
	}
	if v, err := strconv.Atoi(os.Getenv("YFINANCE_BATCH_CONCURRENCY")); err == nil && v > 0 {
		c.Batch.MaxConcurrency = v
	}
}

// Validate rejects configurations that would misbehave at runtime.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if c.Client.TimeoutSeconds <= 0 {
		return fmt.Errorf("client.timeout_seconds must be positive, got %d", c.Client.TimeoutSeconds)
	}
	if c.Client.AuthRetries < 0 {
		return fmt.Errorf("client.auth_retries must not be negative, got %d", c.Client.AuthRetries)
	}
	if c.Client.ServerRetries < 0 {
		return fmt.Errorf("client.server_retries must not be negative, got %d", c.Client.ServerRetries)
	}
	if c.Client.CacheTTLMinutes <= 0 {
		return fmt.Errorf("client.cache_ttl_minutes must be positive, got %d", c.Client.CacheTTLMinutes)
	}
	if c.Client.RequestsPerMinute < 0 {
		return fmt.Errorf("client.requests_per_minute must not be negative, got %d", c.Client.RequestsPerMinute)
	}
	if c.Batch.MaxConcurrency < 0 {
		return fmt.Errorf("batch.max_concurrency must not be negative, got %d", c.Batch.MaxConcurrency)
	}
	if c.Stream.ReconnectSeconds <= 0 {
		return fmt.Errorf("stream.reconnect_seconds must be positive, got %d", c.Stream.ReconnectSeconds)
	}
	if c.Stream.MaxRetries <= 0 {
		return fmt.Errorf("stream.max_retries must be positive, got %d", c.Stream.MaxRetries)
	}
	return nil
}

// Timeout returns the client send timeout as a duration.
func (c *ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CacheTTL returns the cache expiry window as a duration.
func (c *ClientConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMinutes) * time.Minute
}

// ReconnectInterval returns the reconnect delay as a duration.
func (c *StreamConfig) ReconnectInterval() time.Duration {
	return time.Duration(c.ReconnectSeconds) * time.Second
}
