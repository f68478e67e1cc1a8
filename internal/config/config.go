package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// JOBLEDGER_DATABASE_URL overrides database.url.
const EnvPrefix = "JOBLEDGER"

// Config holds all configuration for the jobledger server.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	Retention RetentionConfig `mapstructure:"retention"`
	History   HistoryConfig   `mapstructure:"history"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port            int    `mapstructure:"port"`
	Env             string `mapstructure:"env"`
	RateLimitPerMin int    `mapstructure:"rate_limit_per_min"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

type RedisConfig struct {
	URL       string        `mapstructure:"url"`
	StatusTTL time.Duration `mapstructure:"status_ttl"`
}

// LifecycleConfig bounds each mutation: one attempt runs under TxTimeout,
// row locks wait at most LockTimeout, and lost races are retried up to
// MaxAttempts times with exponential backoff.
type LifecycleConfig struct {
	TxTimeout      time.Duration `mapstructure:"tx_timeout"`
	LockTimeout    time.Duration `mapstructure:"lock_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
}

type RetentionConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	MaxAge    time.Duration `mapstructure:"max_age"`
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
}

// HistoryConfig configures the ClickHouse lifecycle event sink. An empty
// ClickHouseAddr disables it.
type HistoryConfig struct {
	ClickHouseAddr     string `mapstructure:"clickhouse_addr"`
	ClickHouseDatabase string `mapstructure:"clickhouse_database"`
	ClickHouseUsername string `mapstructure:"clickhouse_username"`
	ClickHousePassword string `mapstructure:"clickhouse_password"`
	Table              string `mapstructure:"table"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

var defaults = map[string]any{
	"server.port":               8080,
	"server.env":                "development",
	"server.rate_limit_per_min": 600,

	"database.url":               "",
	"database.max_open_conns":    25,
	"database.max_idle_conns":    5,
	"database.conn_max_lifetime": 5 * time.Minute,
	"database.migrations_dir":    "migrations",

	"redis.url":        "",
	"redis.status_ttl": 30 * time.Minute,

	"lifecycle.tx_timeout":      5 * time.Second,
	"lifecycle.lock_timeout":    2 * time.Second,
	"lifecycle.max_attempts":    3,
	"lifecycle.backoff_initial": 50 * time.Millisecond,
	"lifecycle.backoff_max":     time.Second,

	"retention.enabled":    false,
	"retention.max_age":    720 * time.Hour,
	"retention.interval":   time.Hour,
	"retention.batch_size": 500,

	"history.clickhouse_addr":     "",
	"history.clickhouse_database": "default",
	"history.clickhouse_username": "",
	"history.clickhouse_password": "",
	"history.table":               "job_lifecycle_events",

	"log.level":        "info",
	"log.file":         "",
	"log.max_size_mb":  10,
	"log.max_backups":  3,
	"log.max_age_days": 7,
	"log.compress":     false,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Load reads configuration from an optional file (TOML, YAML or JSON, chosen
// by extension) and JOBLEDGER_* environment variables, then validates it.
// Environment variables win over the file. An empty path skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url (JOBLEDGER_DATABASE_URL) is required")
	}
	if !supportedDatabaseURL(c.Database.URL) {
		return fmt.Errorf("database.url must start with postgres://, postgresql:// or sqlite://, or be :memory:; got %q", c.Database.URL)
	}

	if c.Redis.URL != "" && !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("redis.url must start with redis:// or rediss://, got %q", c.Redis.URL)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Lifecycle.TxTimeout <= 0 {
		return fmt.Errorf("lifecycle.tx_timeout must be positive, got %s", c.Lifecycle.TxTimeout)
	}
	if c.Lifecycle.LockTimeout < 0 {
		return fmt.Errorf("lifecycle.lock_timeout must not be negative, got %s", c.Lifecycle.LockTimeout)
	}
	if c.Lifecycle.MaxAttempts < 1 {
		return fmt.Errorf("lifecycle.max_attempts must be at least 1, got %d", c.Lifecycle.MaxAttempts)
	}

	if c.Retention.Enabled {
		if c.Retention.MaxAge <= 0 {
			return fmt.Errorf("retention.max_age must be positive when retention is enabled")
		}
		if c.Retention.Interval <= 0 {
			return fmt.Errorf("retention.interval must be positive when retention is enabled")
		}
	}
	if c.Retention.BatchSize < 1 {
		return fmt.Errorf("retention.batch_size must be at least 1, got %d", c.Retention.BatchSize)
	}

	if c.History.ClickHouseAddr != "" && c.History.Table == "" {
		return fmt.Errorf("history.table is required when history.clickhouse_addr is set")
	}

	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
	}

	return nil
}

func supportedDatabaseURL(url string) bool {
	for _, prefix := range []string{"postgres://", "postgresql://", "sqlite://"} {
		if strings.HasPrefix(url, prefix) {
			return true
		}
	}
	return url == ":memory:"
}
