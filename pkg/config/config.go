// Package config provides unified, file-loadable configuration for the
// toolmesh client and its components. All tuning knobs that the resilience
// behavior depends on (breaker thresholds, failover thresholds, pool bounds)
// live here rather than as constants.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for a toolmesh Client.
type Config struct {
	Pool          PoolConfig          `yaml:"pool"`
	Breaker       BreakerConfig       `yaml:"breaker"`
	Retry         RetryConfig         `yaml:"retry"`
	Cache         CacheConfig         `yaml:"cache"`
	Health        HealthConfig        `yaml:"health"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// PoolConfig bounds the per-server connection pools.
type PoolConfig struct {
	MaxPerServer   int           `yaml:"max_per_server"`
	MinPerServer   int           `yaml:"min_per_server"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	MaxIdleTime    time.Duration `yaml:"max_idle_time"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// BreakerConfig tunes the per-server circuit breakers.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// RetryConfig tunes the client retry loop.
type RetryConfig struct {
	MaxRetries         int           `yaml:"max_retries"`
	InitialRetryDelay  time.Duration `yaml:"initial_retry_delay"`
	MaxRetryDelay      time.Duration `yaml:"max_retry_delay"`
	RetryBackoffFactor float64       `yaml:"retry_backoff_factor"`
	CallTimeout        time.Duration `yaml:"call_timeout"`
}

// CacheConfig tunes result memoization.
type CacheConfig struct {
	DefaultTTL time.Duration `yaml:"default_ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// HealthConfig tunes the health monitor and failover rule.
type HealthConfig struct {
	CheckInterval     time.Duration `yaml:"check_interval"`
	FailoverThreshold int           `yaml:"failover_threshold"`
	HistorySize       int           `yaml:"history_size"`
	ProbeTimeout      time.Duration `yaml:"probe_timeout"`
}

// ObservabilityConfig controls metrics and tracing.
type ObservabilityConfig struct {
	EnableTracing   bool   `yaml:"enable_tracing"`
	TracingEndpoint string `yaml:"tracing_endpoint"`
	LogLevel        string `yaml:"log_level"`
	MetricsAddr     string `yaml:"metrics_addr"`
}

// Default returns a configuration with production defaults.
func Default() Config {
	return Config{
		Pool: PoolConfig{
			MaxPerServer:   10,
			MinPerServer:   1,
			AcquireTimeout: 5 * time.Second,
			MaxIdleTime:    10 * time.Minute,
			ConnectTimeout: 30 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 3,
			SuccessThreshold: 1,
			Cooldown:         30 * time.Second,
		},
		Retry: RetryConfig{
			MaxRetries:         3,
			InitialRetryDelay:  time.Second,
			MaxRetryDelay:      30 * time.Second,
			RetryBackoffFactor: 2.0,
			CallTimeout:        30 * time.Second,
		},
		Cache: CacheConfig{
			DefaultTTL: 5 * time.Minute,
			MaxEntries: 1024,
		},
		Health: HealthConfig{
			CheckInterval:     30 * time.Second,
			FailoverThreshold: 4,
			HistorySize:       64,
			ProbeTimeout:      5 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			MetricsAddr: ":9090",
		},
	}
}

// Load reads a YAML configuration file and overlays it on the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML configuration and overlays it on the defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants the components depend on.
func (c Config) Validate() error {
	if c.Pool.MaxPerServer <= 0 {
		return errors.New("pool.max_per_server must be positive")
	}
	if c.Pool.MinPerServer < 0 || c.Pool.MinPerServer > c.Pool.MaxPerServer {
		return errors.New("pool.min_per_server must be in [0, max_per_server]")
	}
	if c.Breaker.FailureThreshold <= 0 {
		return errors.New("breaker.failure_threshold must be positive")
	}
	if c.Breaker.SuccessThreshold <= 0 {
		return errors.New("breaker.success_threshold must be positive")
	}
	if c.Retry.MaxRetries < 0 {
		return errors.New("retry.max_retries must not be negative")
	}
	if c.Retry.RetryBackoffFactor < 1 {
		return errors.New("retry.retry_backoff_factor must be >= 1")
	}
	if c.Health.FailoverThreshold <= 0 {
		return errors.New("health.failover_threshold must be positive")
	}
	if c.Health.HistorySize <= 0 {
		return errors.New("health.history_size must be positive")
	}
	return nil
}
