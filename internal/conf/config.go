// Package conf loads engine configuration from YAML files and
// environment variables via Viper.
package conf

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/tokenwatch/tokenwatch/internal/logging"
)

// Config is the root application configuration.
type Config struct {
	Logging  logging.Config `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	API      APIConfig      `mapstructure:"api"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Notify   NotifyConfig   `mapstructure:"notify"`
}

// APIConfig governs the HTTP management API.
type APIConfig struct {
	// Listen is the address the API server binds to. Empty disables the
	// HTTP surface entirely.
	Listen string `mapstructure:"listen"`
}

// DatabaseConfig locates the SQLite database file.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// EngineConfig governs evaluation, throttling, and delivery behavior.
type EngineConfig struct {
	// Workers is the size of the batch worker pool.
	Workers int `mapstructure:"workers"`
	// BatchDeadline bounds a whole ProcessBatch call; sends still
	// outstanding at the deadline are failed with a timeout error.
	BatchDeadline Duration `mapstructure:"batch_deadline"`
	// RefreshInterval is how often the config snapshot is re-polled.
	RefreshInterval Duration `mapstructure:"refresh_interval"`
	// DefaultCooldown is the suppression window for thresholds with no
	// sustained duration of their own.
	DefaultCooldown Duration `mapstructure:"default_cooldown"`
	// MaxAttempts caps delivery attempts per channel (first try included).
	MaxAttempts int `mapstructure:"max_attempts"`
	// RetryBase is the initial backoff delay; doubled per attempt.
	RetryBase Duration `mapstructure:"retry_base"`
	// RetryCap bounds the backoff delay growth.
	RetryCap Duration `mapstructure:"retry_cap"`
	// RetentionDays is how long fire history is kept; 0 disables cleanup.
	RetentionDays int `mapstructure:"retention_days"`
	// Aggregations maps metric names to "sum" or "avg" for sustained
	// threshold evaluation. Unknown metrics default to sum.
	Aggregations map[string]string `mapstructure:"aggregations"`
}

// NotifyConfig governs channel sender behavior.
type NotifyConfig struct {
	// AttemptTimeout bounds a single channel send attempt.
	AttemptTimeout Duration `mapstructure:"attempt_timeout"`
	// Channels lists enabled channel types. Dispatches to a type not
	// listed here fail with a configuration error. Empty enables all.
	Channels []string `mapstructure:"channels"`
}

// Load reads configuration from the given file (optional) and from
// TOKENWATCH_* environment variables, applying defaults for anything
// unset.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("tokenwatch")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(DurationDecodeHook())); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Engine.Workers <= 0 {
		return fmt.Errorf("engine.workers must be positive, got %d", c.Engine.Workers)
	}
	if c.Engine.MaxAttempts <= 0 {
		return fmt.Errorf("engine.max_attempts must be positive, got %d", c.Engine.MaxAttempts)
	}
	if c.Engine.BatchDeadline.Std() <= 0 {
		return fmt.Errorf("engine.batch_deadline must be positive, got %s", c.Engine.BatchDeadline.Std())
	}
	for metric, kind := range c.Engine.Aggregations {
		if kind != "sum" && kind != "avg" {
			return fmt.Errorf("engine.aggregations[%s]: unknown kind %q (want sum or avg)", metric, kind)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.path", "tokenwatch.db")

	v.SetDefault("api.listen", "127.0.0.1:8090")

	v.SetDefault("engine.workers", 8)
	v.SetDefault("engine.batch_deadline", "30s")
	v.SetDefault("engine.refresh_interval", "30s")
	v.SetDefault("engine.default_cooldown", "5m")
	v.SetDefault("engine.max_attempts", 3)
	v.SetDefault("engine.retry_base", "500ms")
	v.SetDefault("engine.retry_cap", "10s")
	v.SetDefault("engine.retention_days", 90)
	v.SetDefault("engine.aggregations", map[string]string{
		"total_cost":    "sum",
		"prompt_tokens": "sum",
		"total_tokens":  "sum",
		"latency_ms":    "avg",
		"error_rate":    "avg",
	})

	v.SetDefault("notify.attempt_timeout", "10s")
	v.SetDefault("notify.channels", []string{})
}
