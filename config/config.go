// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Counters      CounterConfig       `yaml:"counters"`
	Flush         FlushConfig         `yaml:"flush"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Plans         []PlanConfig        `yaml:"plans"`
	Logging       LoggingConfig       `yaml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// ServerConfig configures the ops HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig configures the durable store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "memory"
	DSN    string `yaml:"dsn"`
}

// CounterConfig configures the in-memory counter cache.
type CounterConfig struct {
	Shards          int           `yaml:"shards"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// FlushConfig configures the occurrence write-behind cycle.
type FlushConfig struct {
	Interval time.Duration `yaml:"interval"`
	Dwell    time.Duration `yaml:"dwell"`
	MinBatch int64         `yaml:"min_batch"`
}

// NotificationsConfig configures overage notification delivery.
// Use "none" to drop notifications, "log" to emit them to the logger,
// or "webhook" to POST them to an external endpoint.
type NotificationsConfig struct {
	Mode    string        `yaml:"mode"` // "none", "log", "webhook"
	Webhook WebhookConfig `yaml:"webhook,omitempty"`
}

// WebhookConfig configures the webhook notification target.
type WebhookConfig struct {
	URL     string        `yaml:"url"`
	Secret  string        `yaml:"secret,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// PlanConfig configures a pricing tier's quota facts. Plans declared
// here are seeded into the catalog at startup.
type PlanConfig struct {
	ID                string `yaml:"id"`
	Name              string `yaml:"name"`
	MaxEventsPerMonth int64  `yaml:"max_events_per_month"` // -1 = unlimited
	ThrottlingEnabled bool   `yaml:"throttling_enabled"`
	IsDefault         bool   `yaml:"is_default"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // Enable /metrics endpoint
	Path    string `yaml:"path"`    // Custom path (default: /metrics)
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(&cfg)

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
// This is useful for Docker deployments where no config file is needed.
//
// Environment variables:
//
//	METERGATE_DATABASE_DSN        - Database path (default: metergate.db)
//	METERGATE_SERVER_HOST         - Server host (default: 0.0.0.0)
//	METERGATE_SERVER_PORT         - Server port (default: 8080)
//	METERGATE_FLUSH_INTERVAL      - Flush cycle interval (default: 10s)
//	METERGATE_NOTIFY_MODE         - Notification mode: none, log, webhook (default: log)
//	METERGATE_NOTIFY_WEBHOOK_URL  - Webhook target when mode is webhook
//	METERGATE_LOG_LEVEL           - Log level: debug, info, warn, error (default: info)
//	METERGATE_LOG_FORMAT          - Log format: json or console (default: json)
//	METERGATE_METRICS_ENABLED     - Enable /metrics endpoint (default: false)
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// HasEnvConfig returns true if essential environment variables are set.
func HasEnvConfig() bool {
	return os.Getenv("METERGATE_DATABASE_DRIVER") != "" || os.Getenv("METERGATE_DATABASE_DSN") != ""
}

// LoadWithFallback tries to load from file, falls back to environment variables.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// applyEnvOverrides applies METERGATE_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// Server configuration
	if v := os.Getenv("METERGATE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("METERGATE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("METERGATE_SERVER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if v := os.Getenv("METERGATE_SERVER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}

	// Database configuration
	if v := os.Getenv("METERGATE_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("METERGATE_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	// Counter configuration
	if v := os.Getenv("METERGATE_COUNTER_SHARDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Counters.Shards = n
		}
	}

	// Flush configuration
	if v := os.Getenv("METERGATE_FLUSH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Flush.Interval = d
		}
	}
	if v := os.Getenv("METERGATE_FLUSH_DWELL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Flush.Dwell = d
		}
	}
	if v := os.Getenv("METERGATE_FLUSH_MIN_BATCH"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Flush.MinBatch = n
		}
	}

	// Notification configuration
	if v := os.Getenv("METERGATE_NOTIFY_MODE"); v != "" {
		cfg.Notifications.Mode = v
	}
	if v := os.Getenv("METERGATE_NOTIFY_WEBHOOK_URL"); v != "" {
		cfg.Notifications.Webhook.URL = v
	}
	if v := os.Getenv("METERGATE_NOTIFY_WEBHOOK_SECRET"); v != "" {
		cfg.Notifications.Webhook.Secret = v
	}

	// Logging configuration
	if v := os.Getenv("METERGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("METERGATE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics configuration
	if v := os.Getenv("METERGATE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("METERGATE_METRICS_PATH"); v != "" {
		cfg.Metrics.Path = v
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "metergate.db"
	}

	if cfg.Counters.Shards == 0 {
		cfg.Counters.Shards = 32
	}
	if cfg.Counters.CleanupInterval == 0 {
		cfg.Counters.CleanupInterval = 5 * time.Minute
	}

	if cfg.Flush.Interval == 0 {
		cfg.Flush.Interval = 10 * time.Second
	}
	if cfg.Flush.Dwell == 0 {
		cfg.Flush.Dwell = 30 * time.Second
	}
	if cfg.Flush.MinBatch == 0 {
		cfg.Flush.MinBatch = 10
	}

	if cfg.Notifications.Mode == "" {
		cfg.Notifications.Mode = "log"
	}
	if cfg.Notifications.Webhook.Timeout == 0 {
		cfg.Notifications.Webhook.Timeout = 30 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	// Default plan if none configured
	if len(cfg.Plans) == 0 {
		cfg.Plans = []PlanConfig{
			{
				ID:                "free",
				Name:              "Free",
				MaxEventsPerMonth: 750,
				ThrottlingEnabled: true,
				IsDefault:         true,
			},
		}
	}
}

func validate(cfg *Config) error {
	validDrivers := map[string]bool{"sqlite": true, "memory": true}
	if !validDrivers[cfg.Database.Driver] {
		return fmt.Errorf("database.driver must be 'sqlite' or 'memory', got %q", cfg.Database.Driver)
	}

	if cfg.Counters.Shards < 1 {
		return fmt.Errorf("counters.shards must be positive, got %d", cfg.Counters.Shards)
	}

	if cfg.Flush.Interval < time.Second {
		return fmt.Errorf("flush.interval must be at least 1s, got %s", cfg.Flush.Interval)
	}
	if cfg.Flush.MinBatch < 0 {
		return fmt.Errorf("flush.min_batch must not be negative, got %d", cfg.Flush.MinBatch)
	}

	validNotifyModes := map[string]bool{"none": true, "log": true, "webhook": true}
	if !validNotifyModes[cfg.Notifications.Mode] {
		return fmt.Errorf("notifications.mode must be one of: none, log, webhook, got %q", cfg.Notifications.Mode)
	}
	if cfg.Notifications.Mode == "webhook" && cfg.Notifications.Webhook.URL == "" {
		return fmt.Errorf("notifications.webhook.url is required when notifications.mode is 'webhook'")
	}

	defaults := 0
	for i, plan := range cfg.Plans {
		if plan.ID == "" {
			return fmt.Errorf("plans[%d].id is required", i)
		}
		if plan.MaxEventsPerMonth < -1 {
			return fmt.Errorf("plans[%d].max_events_per_month must be -1 (unlimited) or non-negative", i)
		}
		if plan.IsDefault {
			defaults++
		}
	}
	if defaults > 1 {
		return fmt.Errorf("at most one plan may set is_default")
	}

	return nil
}
