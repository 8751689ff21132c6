package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Zephyr.BaseURL = "https://api.zephyrscale.example.com/v2"
	cfg.Zephyr.APIToken = "src-token"
	cfg.QTest.BaseURL = "https://example.qtestnet.com"
	cfg.QTest.APIToken = "dst-token"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 50, cfg.Migration.BatchSize)
	assert.Equal(t, "Not Run", cfg.Migration.DefaultStatus)
	assert.Equal(t, "Medium", cfg.Migration.DefaultPriority)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 100, cfg.Zephyr.PageSize)
	assert.True(t, cfg.Server.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateRejectsMissingFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing zephyr base url", func(c *Config) { c.Zephyr.BaseURL = "" }},
		{"missing zephyr token", func(c *Config) { c.Zephyr.APIToken = "" }},
		{"missing qtest base url", func(c *Config) { c.QTest.BaseURL = "" }},
		{"missing qtest token", func(c *Config) { c.QTest.APIToken = "" }},
		{"missing database host", func(c *Config) { c.Database.Host = "" }},
		{"missing redis host", func(c *Config) { c.Redis.Host = "" }},
		{"zero batch size", func(c *Config) { c.Migration.BatchSize = 0 }},
		{"zero workers", func(c *Config) { c.Migration.LoadWorkers = 0 }},
		{"zero page size", func(c *Config) { c.Zephyr.PageSize = 0 }},
		{"zero retry attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }},
		{"max delay below base delay", func(c *Config) { c.Retry.MaxDelay = c.Retry.BaseDelay / 2 }},
		{"zero breaker threshold", func(c *Config) { c.Breaker.FailureThreshold = 0 }},
		{"invalid server port", func(c *Config) { c.Server.Port = 70000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateFillsLoggingDefaults(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = ""
	cfg.Logging.Format = ""

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadAppliesEnvironmentOverrides(t *testing.T) {
	t.Setenv("ZEPHYR_BASE_URL", "https://env.zephyr.example.com")
	t.Setenv("ZEPHYR_API_TOKEN", "env-src-token")
	t.Setenv("QTEST_BASE_URL", "https://env.qtest.example.com")
	t.Setenv("QTEST_API_TOKEN", "env-dst-token")
	t.Setenv("ZTOQ_BATCH_SIZE", "25")
	t.Setenv("DATABASE_HOST", "db.internal")

	cfg, err := Load("testdata/does-not-exist.yaml")
	require.NoError(t, err)

	assert.Equal(t, "https://env.zephyr.example.com", cfg.Zephyr.BaseURL)
	assert.Equal(t, "env-src-token", cfg.Zephyr.APIToken)
	assert.Equal(t, 25, cfg.Migration.BatchSize)
	assert.Equal(t, "db.internal", cfg.Database.Host)
}
