package config

import (
	"time"
)

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Tasks    TasksConfig    `mapstructure:"tasks" validate:"required"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	LLM      LLMConfig      `mapstructure:"llm" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// TasksConfig controls execution budgets and retention of tasks.
type TasksConfig struct {
	DefaultTimeout time.Duration `mapstructure:"default_timeout" validate:"gt=0"`
	// KindTimeouts overrides DefaultTimeout for individual task kinds,
	// e.g. {"crawl": "10m"}.
	KindTimeouts    map[string]time.Duration `mapstructure:"kind_timeouts" validate:"dive,keys,required,endkeys,gt=0"`
	MaxConcurrent   int                      `mapstructure:"max_concurrent" validate:"gte=0"`
	Retention       time.Duration            `mapstructure:"retention" validate:"gte=0"`
	JanitorInterval time.Duration            `mapstructure:"janitor_interval" validate:"gt=0"`
}

// WorkflowConfig tunes the built-in security workflows.
type WorkflowConfig struct {
	// StepDelay paces each simulated unit of work.
	StepDelay time.Duration `mapstructure:"step_delay" validate:"gte=0"`
}

// LLMConfig contains all LLM integration related settings.
// Narrative report sections are only generated when GeminiAPIKey is set.
type LLMConfig struct {
	GeminiAPIKey      string `mapstructure:"gemini_api_key"`
	ModelName         string `mapstructure:"model_name" validate:"required"`
	MaxRetries        int    `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	RetryDelaySeconds int    `mapstructure:"retry_delay_seconds" validate:"gte=1,lte=60"`
}

// NarratorEnabled reports whether an LLM narrator can be constructed.
func (c LLMConfig) NarratorEnabled() bool {
	return c.GeminiAPIKey != ""
}
