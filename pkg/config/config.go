// Package config loads queue configuration from files and environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "OWLMQ"

// QueueConfig is the full configuration for producers and workers.
type QueueConfig struct {
	Redis  RedisConfig  `mapstructure:"redis"`
	Worker WorkerConfig `mapstructure:"worker"`
	Stale  StaleConfig  `mapstructure:"stale"`
	Log    LogConfig    `mapstructure:"log"`
}

// RedisConfig locates the backing store.
type RedisConfig struct {
	URL              string        `mapstructure:"url"`
	Prefix           string        `mapstructure:"prefix"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// WorkerConfig tunes the fetch/dispatch loop.
type WorkerConfig struct {
	Tenants      []string      `mapstructure:"tenants"`
	MaxJobs      int           `mapstructure:"max_jobs"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PromoteBatch int           `mapstructure:"promote_batch"`
	StopTimeout  time.Duration `mapstructure:"stop_timeout"`
}

// StaleConfig tunes stale detection.
type StaleConfig struct {
	StaleAfter time.Duration `mapstructure:"stale_after"`
	Interval   time.Duration `mapstructure:"interval"`
	Manual     bool          `mapstructure:"manual"`
}

// LogConfig tunes logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate checks required settings.
func (c *QueueConfig) Validate() error {
	if strings.TrimSpace(c.Redis.URL) == "" {
		return fmt.Errorf("redis.url is required")
	}
	if c.Worker.MaxJobs < 0 {
		return fmt.Errorf("worker.max_jobs must be >= 0")
	}
	if c.Stale.StaleAfter < 0 {
		return fmt.Errorf("stale.stale_after must be >= 0")
	}
	return nil
}

// Load reads configuration from the optional file path, environment
// variables prefixed OWLMQ_, and defaults, in ascending precedence of
// defaults < file < environment.
func Load(path string) (*QueueConfig, error) {
	v := viper.New()

	v.SetDefault("redis.url", "redis://localhost:6379")
	v.SetDefault("redis.prefix", "owlmq")
	v.SetDefault("redis.operation_timeout", 5*time.Second)
	v.SetDefault("worker.max_jobs", 1)
	v.SetDefault("worker.poll_interval", time.Second)
	v.SetDefault("worker.promote_batch", 100)
	v.SetDefault("worker.stop_timeout", 10*time.Second)
	v.SetDefault("stale.stale_after", 30*time.Second)
	v.SetDefault("stale.interval", 30*time.Second)
	v.SetDefault("stale.manual", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file failed: %w", err)
		}
	}

	var cfg QueueConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
