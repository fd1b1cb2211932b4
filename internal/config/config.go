package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds runtime configuration for the whole service.
type Config struct {
	HTTPPort string `mapstructure:"http_port" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`

	// Worker pool and queue.
	Concurrency int `mapstructure:"concurrency" validate:"gt=0"`
	QueueSize   int `mapstructure:"queue_size" validate:"gt=0"`

	// Simulated execution bounds.
	TaskMinTime  time.Duration `mapstructure:"task_min_time" validate:"gte=0"`
	TaskMaxTime  time.Duration `mapstructure:"task_max_time" validate:"gtefield=TaskMinTime"`
	ProgressTick time.Duration `mapstructure:"progress_tick" validate:"gt=0"`

	// Admission control.
	RateLimitMax    int           `mapstructure:"rate_limit_max" validate:"gt=0"`
	RateLimitWindow time.Duration `mapstructure:"rate_limit_window" validate:"gt=0"`

	// Retention of finished tasks.
	Retention       time.Duration `mapstructure:"retention" validate:"gt=0"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval" validate:"gt=0"`

	// Upper bound on long-poll waits, whatever the caller asks for.
	MaxWaitTimeout time.Duration `mapstructure:"max_wait_timeout" validate:"gt=0"`
}

// Load reads configuration from TASKS_-prefixed environment variables with
// defaults sized for local development, then validates the result.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("http_port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("concurrency", 5)
	v.SetDefault("queue_size", 100)
	v.SetDefault("task_min_time", 5*time.Second)
	v.SetDefault("task_max_time", 30*time.Second)
	v.SetDefault("progress_tick", time.Second)
	v.SetDefault("rate_limit_max", 10)
	v.SetDefault("rate_limit_window", time.Minute)
	v.SetDefault("retention", 10*time.Minute)
	v.SetDefault("janitor_interval", 30*time.Second)
	v.SetDefault("max_wait_timeout", 10*time.Second)

	v.SetEnvPrefix("TASKS")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}
