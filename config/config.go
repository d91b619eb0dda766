// Package config loads the process-level settings described in spec §6:
// the cache cleaner's polling bounds and the connection details for the
// underlying document store.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CleanerConfig holds the Cache Cleaner's polling bounds (spec §4.E, §6).
type CleanerConfig struct {
	// LowerBoundMillis is the minimum spacing between two cleanups, in
	// milliseconds. Maps to the CacheCleanUpLowerBound key.
	LowerBoundMillis int `yaml:"lower_bound_ms"`
	// UpperBoundMillis is the maximum time the cleaner sleeps without a
	// reclamation signal before running a best-effort cleanup anyway.
	// Maps to the CacheCleanUpUpperBound key.
	UpperBoundMillis int `yaml:"upper_bound_ms"`
	// PartialCleanUpPercent is the fraction (0, 100] of cache capacity a
	// partial cleanup is allowed to remove (spec §4.D, default 10).
	PartialCleanUpPercent int `yaml:"partial_cleanup_percent"`
}

// LowerBound returns the configured lower bound as a time.Duration.
func (c CleanerConfig) LowerBound() time.Duration {
	return time.Duration(c.LowerBoundMillis) * time.Millisecond
}

// UpperBound returns the configured upper bound as a time.Duration.
func (c CleanerConfig) UpperBound() time.Duration {
	return time.Duration(c.UpperBoundMillis) * time.Millisecond
}

// StoreConfig holds how to reach the underlying document store. The
// connection string lives "under a well-known name" per spec §6; here that
// name is simply the yaml key itself, with an environment override for
// deployments that inject secrets out of band.
type StoreConfig struct {
	ConnectionString string        `yaml:"connection_string"`
	Database         string        `yaml:"database"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
}

// LoggingConfig mirrors the teacher's logging knobs.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the optional Prometheus HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// Config is the complete configuration for a docmap RepositoryContext.
type Config struct {
	Cleaner CleanerConfig `yaml:"cleaner"`
	Store   StoreConfig   `yaml:"store"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// connectionStringEnvVar overrides Store.ConnectionString without committing
// a secret to config.yaml.
const connectionStringEnvVar = "DOCMAP_CONNECTION_STRING"

// Load reads configuration from filePath, applies defaults, and validates
// the result. An empty filePath falls back to CONFIG_PATH, then ./config.yaml.
func Load(filePath string) (*Config, error) {
	if filePath == "" {
		filePath = os.Getenv("CONFIG_PATH")
	}
	if filePath == "" {
		filePath = "./config.yaml"
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	setDefaults(&cfg)

	if v := os.Getenv(connectionStringEnvVar); v != "" {
		cfg.Store.ConnectionString = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for unspecified configuration.
func setDefaults(cfg *Config) {
	if cfg.Cleaner.LowerBoundMillis == 0 {
		cfg.Cleaner.LowerBoundMillis = 10_000
	}
	if cfg.Cleaner.UpperBoundMillis == 0 {
		cfg.Cleaner.UpperBoundMillis = 60_000
	}
	if cfg.Cleaner.PartialCleanUpPercent == 0 {
		cfg.Cleaner.PartialCleanUpPercent = 10
	}
	if cfg.Store.ConnectTimeout == 0 {
		cfg.Store.ConnectTimeout = 10 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = "0.0.0.0:9400"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Store.ConnectionString == "" {
		return fmt.Errorf("store.connection_string is required")
	}
	if c.Store.Database == "" {
		return fmt.Errorf("store.database is required")
	}
	if c.Cleaner.LowerBoundMillis <= 0 {
		return fmt.Errorf("cleaner.lower_bound_ms must be positive")
	}
	if c.Cleaner.UpperBoundMillis <= 0 {
		return fmt.Errorf("cleaner.upper_bound_ms must be positive")
	}
	if c.Cleaner.LowerBoundMillis > c.Cleaner.UpperBoundMillis {
		return fmt.Errorf("cleaner.lower_bound_ms must be <= cleaner.upper_bound_ms")
	}
	if c.Cleaner.PartialCleanUpPercent <= 0 || c.Cleaner.PartialCleanUpPercent > 100 {
		return fmt.Errorf("cleaner.partial_cleanup_percent must be in (0, 100]")
	}
	return nil
}
