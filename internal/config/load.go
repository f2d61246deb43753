package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable the loader reads,
// e.g. SECOPS_SERVER_PORT for server.port.
const EnvPrefix = "SECOPS"

// setDefaults registers every known key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("tasks.default_timeout", 30*time.Minute)
	v.SetDefault("tasks.max_concurrent", 8)
	v.SetDefault("tasks.retention", time.Duration(0))
	v.SetDefault("tasks.janitor_interval", 5*time.Minute)

	v.SetDefault("workflow.step_delay", 500*time.Millisecond)

	v.SetDefault("llm.gemini_api_key", "")
	v.SetDefault("llm.model_name", "gemini-2.0-flash")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_delay_seconds", 2)
}

// Load configuration from environment variables and optionally a
// config.yaml in the working directory.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom behaves like Load but reads the given config file instead of
// searching the working directory. A missing file is an error when a path
// is given explicitly.
func LoadFrom(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("tasks.kind_timeouts"); err != nil {
		return nil, fmt.Errorf("failed to bind tasks.kind_timeouts: %w", err)
	}
	if err := normalizeKindTimeouts(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// normalizeKindTimeouts accepts tasks.kind_timeouts either as a map from the
// config file or, from SECOPS_TASKS_KIND_TIMEOUTS, as a JSON object such as
// {"crawl":"10m"}.
func normalizeKindTimeouts(v *viper.Viper) error {
	raw := v.Get("tasks.kind_timeouts")
	if raw == nil {
		return nil
	}
	if s, ok := raw.(string); ok && strings.TrimSpace(s) == "" {
		v.Set("tasks.kind_timeouts", map[string]any{})
		return nil
	}

	timeouts, err := cast.ToStringMapStringE(raw)
	if err != nil {
		return fmt.Errorf("tasks.kind_timeouts must map task kinds to durations: %w", err)
	}
	m := make(map[string]any, len(timeouts))
	for kind, d := range timeouts {
		m[kind] = d
	}
	v.Set("tasks.kind_timeouts", m)
	return nil
}
