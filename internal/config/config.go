package config

import (
	"errors"
	"time"
)

// Config represents the migration engine configuration
type Config struct {
	Zephyr    ZephyrConfig    `mapstructure:"zephyr"`
	QTest     QTestConfig     `mapstructure:"qtest"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Migration MigrationConfig `mapstructure:"migration"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Server    ServerConfig    `mapstructure:"server"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ZephyrConfig represents the source (Zephyr Scale) API configuration
type ZephyrConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIToken          string        `mapstructure:"api_token"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	PageSize          int           `mapstructure:"page_size"`
}

// QTestConfig represents the target (qTest) API configuration
type QTestConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIToken          string        `mapstructure:"api_token"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// DatabaseConfig represents PostgreSQL entity store configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// RedisConfig represents the Redis checkpoint store configuration
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

// MigrationConfig represents batching and worker pool configuration
type MigrationConfig struct {
	BatchSize        int    `mapstructure:"batch_size"`
	ExtractWorkers   int    `mapstructure:"extract_workers"`
	TransformWorkers int    `mapstructure:"transform_workers"`
	LoadWorkers      int    `mapstructure:"load_workers"`
	MappingTablePath string `mapstructure:"mapping_table_path"`
	DefaultStatus    string `mapstructure:"default_status"`
	DefaultPriority  string `mapstructure:"default_priority"`
}

// RetryConfig represents the backoff policy for transient failures
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// BreakerConfig represents the per-destination circuit breaker
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
}

// ServerConfig represents the HTTP status server configuration
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// MetricsConfig represents Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Zephyr.BaseURL == "" {
		return errors.New("zephyr.base_url is required")
	}
	if c.Zephyr.APIToken == "" {
		return errors.New("zephyr.api_token is required")
	}
	if c.QTest.BaseURL == "" {
		return errors.New("qtest.base_url is required")
	}
	if c.QTest.APIToken == "" {
		return errors.New("qtest.api_token is required")
	}
	if c.Database.Host == "" {
		return errors.New("database.host is required")
	}
	if c.Database.Database == "" {
		return errors.New("database.database is required")
	}
	if c.Database.User == "" {
		return errors.New("database.user is required")
	}
	if c.Redis.Host == "" {
		return errors.New("redis.host is required")
	}
	if c.Migration.BatchSize <= 0 {
		return errors.New("migration.batch_size must be positive")
	}
	if c.Migration.ExtractWorkers <= 0 || c.Migration.TransformWorkers <= 0 || c.Migration.LoadWorkers <= 0 {
		return errors.New("migration worker counts must be positive")
	}
	if c.Zephyr.PageSize <= 0 {
		return errors.New("zephyr.page_size must be positive")
	}
	if c.Retry.MaxAttempts <= 0 {
		return errors.New("retry.max_attempts must be positive")
	}
	if c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		return errors.New("retry delays must satisfy 0 < base_delay <= max_delay")
	}
	if c.Breaker.FailureThreshold <= 0 {
		return errors.New("breaker.failure_threshold must be positive")
	}
	if c.Breaker.Cooldown <= 0 {
		return errors.New("breaker.cooldown must be positive")
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return errors.New("server.port must be between 1 and 65535")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	return nil
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	return &Config{
		Zephyr: ZephyrConfig{
			RequestTimeout:    30 * time.Second,
			RequestsPerSecond: 10,
			Burst:             20,
			PageSize:          100,
		},
		QTest: QTestConfig{
			RequestTimeout:    30 * time.Second,
			RequestsPerSecond: 10,
			Burst:             20,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "ztoq",
			User:            "ztoq",
			Password:        "",
			MaxConnections:  20,
			MinConnections:  2,
			ConnMaxIdleTime: 10 * time.Minute,
		},
		Redis: RedisConfig{
			Host:         "localhost",
			Port:         6379,
			Password:     "",
			DB:           0,
			PoolSize:     20,
			MinIdleConns: 2,
		},
		Migration: MigrationConfig{
			BatchSize:        50,
			ExtractWorkers:   5,
			TransformWorkers: 3,
			LoadWorkers:      5,
			DefaultStatus:    "Not Run",
			DefaultPriority:  "Medium",
		},
		Retry: RetryConfig{
			MaxAttempts: 5,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    30 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			Cooldown:         30 * time.Second,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
