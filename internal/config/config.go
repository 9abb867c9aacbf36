// Package config defines the service configuration. Configuration is loaded
// once at startup and immutable thereafter, following 12-Factor principles:
// OS environment wins, a local .env file fills the gaps.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"forewarn/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used for credentials so they never leak through logs or JSON.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the subsets they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server    ServerConfig
	Database  DatabaseConfig
	LLM       LLMConfig
	Weather   WeatherConfig
	Email     EmailConfig
	Scheduler SchedulerConfig
}

// ServerConfig holds the ops HTTP surface settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
}

// DatabaseConfig holds connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// LLMConfig holds the remote classifier settings. When Enabled is false the
// service runs purely on the deterministic classifier.
type LLMConfig struct {
	Enabled     bool          `envconfig:"LLM_ENABLED" default:"true"`
	BaseURL     string        `envconfig:"LLM_BASE_URL" default:"https://api.openai.com"`
	APIKey      SecretString  `envconfig:"LLM_API_KEY"`
	Model       string        `envconfig:"LLM_MODEL" default:"gpt-4o-mini"`
	Temperature float64       `envconfig:"LLM_TEMPERATURE" default:"0.2"`
	Timeout     time.Duration `envconfig:"LLM_TIMEOUT" default:"60s"`

	// Detailed switches the prompt context to the long sectioned format.
	Detailed bool `envconfig:"LLM_DETAILED_CONTEXT" default:"false"`
}

// WeatherConfig holds the forecast source settings.
type WeatherConfig struct {
	BaseURL string `envconfig:"WEATHER_BASE_URL" default:"https://api.open-meteo.com/v1/forecast" validate:"url"`
}

// EmailConfig holds outbound mail settings.
type EmailConfig struct {
	BaseURL     string       `envconfig:"MAIL_BASE_URL" default:"https://api.sendgrid.com"`
	APIKey      SecretString `envconfig:"MAIL_API_KEY" validate:"required"`
	FromAddress string       `envconfig:"MAIL_FROM_ADDRESS" default:"alerts@forewarn.io" validate:"email"`
	FromName    string       `envconfig:"MAIL_FROM_NAME" default:"Forewarn Alerts"`
}

// SchedulerConfig holds pass cadence and forecast geometry.
type SchedulerConfig struct {
	PredictionInterval time.Duration `envconfig:"PREDICTION_INTERVAL" default:"2h"`
	DigestInterval     time.Duration `envconfig:"DIGEST_INTERVAL" default:"15m"`
	CleanupInterval    time.Duration `envconfig:"CLEANUP_INTERVAL" default:"24h"`
	RetentionDays      int           `envconfig:"RETENTION_DAYS" default:"7" validate:"min=1"`

	LeadStartHours  int `envconfig:"LEAD_START_HOURS" default:"3" validate:"min=0"`
	LeadEndHours    int `envconfig:"LEAD_END_HOURS" default:"6" validate:"min=1"`
	ComparisonHours int `envconfig:"COMPARISON_HOURS" default:"6" validate:"min=1"`
	OutlookHours    int `envconfig:"OUTLOOK_HOURS" default:"24" validate:"min=1"`

	Concurrency int `envconfig:"SCHEDULER_CONCURRENCY" default:"8" validate:"min=1"`
}

// Load reads the configuration from the environment, with an optional .env
// file for local development, and validates it. Any invalid value fails
// startup.
func Load() (*Config, error) {
	// UTC everywhere prevents window-boundary drift between components.
	time.Local = time.UTC

	// A missing .env is fine; existing environment variables always win.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, types.NewAppError(types.ErrCodeConfigInvalid, "failed to process environment", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return types.NewAppError(types.ErrCodeConfigInvalid, "configuration validation failed", err)
	}

	if cfg.Scheduler.LeadEndHours <= cfg.Scheduler.LeadStartHours {
		return types.NewAppError(types.ErrCodeConfigInvalid,
			fmt.Sprintf("LEAD_END_HOURS (%d) must be greater than LEAD_START_HOURS (%d)",
				cfg.Scheduler.LeadEndHours, cfg.Scheduler.LeadStartHours), nil)
	}
	if cfg.LLM.Enabled && cfg.LLM.APIKey.Unmask() == "" {
		return types.NewAppError(types.ErrCodeConfigInvalid,
			"LLM_API_KEY is required when LLM_ENABLED is true", nil)
	}
	return nil
}
