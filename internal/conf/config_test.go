package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "tokenwatch.db", cfg.Database.Path)
	assert.Equal(t, "127.0.0.1:8090", cfg.API.Listen)
	assert.Equal(t, 8, cfg.Engine.Workers)
	assert.Equal(t, 30*time.Second, cfg.Engine.BatchDeadline.Std())
	assert.Equal(t, 5*time.Minute, cfg.Engine.DefaultCooldown.Std())
	assert.Equal(t, 3, cfg.Engine.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.RetryBase.Std())
	assert.Equal(t, 90, cfg.Engine.RetentionDays)
	assert.Equal(t, "sum", cfg.Engine.Aggregations["total_cost"])
	assert.Equal(t, "avg", cfg.Engine.Aggregations["latency_ms"])
	assert.Equal(t, 10*time.Second, cfg.Notify.AttemptTimeout.Std())
	assert.Empty(t, cfg.Notify.Channels)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
logging:
  level: debug
  format: console
database:
  path: /var/lib/tokenwatch/alerts.db
engine:
  workers: 2
  batch_deadline: 10s
  default_cooldown: 15m
  aggregations:
    custom_metric: avg
notify:
  attempt_timeout: 3s
  channels: [email, webhook]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/var/lib/tokenwatch/alerts.db", cfg.Database.Path)
	assert.Equal(t, 2, cfg.Engine.Workers)
	assert.Equal(t, 10*time.Second, cfg.Engine.BatchDeadline.Std())
	assert.Equal(t, 15*time.Minute, cfg.Engine.DefaultCooldown.Std())
	assert.Equal(t, "avg", cfg.Engine.Aggregations["custom_metric"])
	assert.Equal(t, 3*time.Second, cfg.Notify.AttemptTimeout.Std())
	assert.Equal(t, []string{"email", "webhook"}, cfg.Notify.Channels)

	// Untouched keys keep their defaults.
	assert.Equal(t, 3, cfg.Engine.MaxAttempts)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TOKENWATCH_ENGINE_WORKERS", "16")
	t.Setenv("TOKENWATCH_DATABASE_PATH", "/tmp/env.db")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Engine.Workers)
	assert.Equal(t, "/tmp/env.db", cfg.Database.Path)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	t.Run("zero workers", func(t *testing.T) {
		cfg := valid()
		cfg.Engine.Workers = 0
		assert.ErrorContains(t, cfg.Validate(), "engine.workers")
	})
	t.Run("zero attempts", func(t *testing.T) {
		cfg := valid()
		cfg.Engine.MaxAttempts = 0
		assert.ErrorContains(t, cfg.Validate(), "engine.max_attempts")
	})
	t.Run("zero deadline", func(t *testing.T) {
		cfg := valid()
		cfg.Engine.BatchDeadline = 0
		assert.ErrorContains(t, cfg.Validate(), "engine.batch_deadline")
	})
	t.Run("unknown aggregation kind", func(t *testing.T) {
		cfg := valid()
		cfg.Engine.Aggregations = map[string]string{"total_cost": "median"}
		assert.ErrorContains(t, cfg.Validate(), "median")
	})
}
