package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env      string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	Port     string `env:"PORT" envDefault:"8080" validate:"required"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`

	// Hasura data and metadata APIs. The service fails closed at startup when
	// any of these is missing.
	HasuraGraphURL    string `env:"HASURA_GRAPHQL_URL,required"  validate:"required,url"`
	HasuraAdminSecret string `env:"HASURA_ADMIN_SECRET,required" validate:"required"`
	HasuraMetadataURL string `env:"HASURA_METADATA_URL,required" validate:"required,url"`

	// Static token used for Basic admin auth on outbound feature calls and on
	// the inbound trigger webhooks.
	APIAuthToken string `env:"API_AUTH_TOKEN,required" validate:"required"`

	// Where the actual recurring work is fired each cycle.
	FeaturesApplyURL string `env:"FEATURES_APPLY_URL,required" validate:"required,url"`

	// Callback URLs registered on the scheduled triggers.
	FeaturesApplyWebhookURL  string `env:"FEATURES_APPLY_WEBHOOK_URL,required"  validate:"required,url"`
	ScheduleAssistWebhookURL string `env:"SCHEDULE_ASSIST_WEBHOOK_URL,required" validate:"required,url"`

	JWTSecret string `env:"JWT_SECRET,required" validate:"required,min=32"`

	ResendAPIKey string `env:"RESEND_API_KEY" validate:"required_if=Env production,required_if=Env staging"`
	ResendFrom   string `env:"RESEND_FROM"    validate:"required_if=Env production,required_if=Env staging"`
	AlertEmailTo string `env:"ALERT_EMAIL_TO" validate:"required_if=Env production,required_if=Env staging"`

	// Janitor sweep schedule and how far past its scheduleAt a record may sit
	// before it counts as stale.
	ReconcileCron     string `env:"RECONCILE_CRON" envDefault:"*/30 * * * *" validate:"required"`
	StaleGraceMinutes int    `env:"STALE_GRACE_MINUTES" envDefault:"120" validate:"min=1"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
