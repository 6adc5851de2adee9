package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env      string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	Port     string `env:"PORT" envDefault:"8080" validate:"required"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`

	JWTSecret       string `env:"JWT_SECRET,required"   validate:"required,min=32"`
	SessionTTLHours int    `env:"SESSION_TTL_HOURS"     envDefault:"168" validate:"min=1,max=2160"`
	ResendAPIKey    string `env:"RESEND_API_KEY"         validate:"required_if=Env production,required_if=Env staging"`
	ResendFrom      string `env:"RESEND_FROM"            validate:"required_if=Env production,required_if=Env staging"`

	StoreBackend       string `env:"STORE_BACKEND" envDefault:"airtable" validate:"oneof=airtable postgres"`
	AirtableAPIKey     string `env:"AIRTABLE_API_KEY"     validate:"required_if=StoreBackend airtable"`
	AirtableBaseID     string `env:"AIRTABLE_BASE_ID"     validate:"required_if=StoreBackend airtable"`
	AirtableAPIURL     string `env:"AIRTABLE_API_URL"     envDefault:"https://api.airtable.com/v0" validate:"url"`
	AirtableUsersTable string `env:"AIRTABLE_USERS_TABLE" envDefault:"Users" validate:"required"`
	DatabaseURL        string `env:"DATABASE_URL"         validate:"required_if=StoreBackend postgres"`

	MagicLinkTTLHours   int           `env:"MAGIC_LINK_TTL_HOURS"  envDefault:"24" validate:"min=1,max=720"`
	ProductionURL       string        `env:"PRODUCTION_URL"        validate:"omitempty,url"`
	AuthBaseURL         string        `env:"AUTH_BASE_URL"         validate:"omitempty,url"`
	FallbackOrigin      string        `env:"FALLBACK_ORIGIN"       envDefault:"https://portal.prospectbenefits.com" validate:"url"`
	ExternalCallTimeout time.Duration `env:"EXTERNAL_CALL_TIMEOUT" envDefault:"8s" validate:"min=1s,max=30s"`
	TokenSweepSchedule  string        `env:"TOKEN_SWEEP_SCHEDULE"  envDefault:"@every 10m" validate:"required"`

	MagicLinkRatePerMin int `env:"MAGIC_LINK_RATE_PER_MIN" envDefault:"5" validate:"min=1"`
	MagicLinkBurst      int `env:"MAGIC_LINK_BURST"        envDefault:"5" validate:"min=1"`
	LoginRatePerMin     int `env:"LOGIN_RATE_PER_MIN"      envDefault:"10" validate:"min=1"`
	LoginBurst          int `env:"LOGIN_BURST"             envDefault:"5" validate:"min=1"`

	// Proxies whose X-Forwarded-For is believed when keying rate limits.
	// Empty means the TCP peer address is always used.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:"," validate:"dive,cidr|ip"`

	OAuthClientID     string `env:"OAUTH_CLIENT_ID"`
	OAuthClientSecret string `env:"OAUTH_CLIENT_SECRET" validate:"required_with=OAuthClientID"`
	OAuthRedirectURL  string `env:"OAUTH_REDIRECT_URL"  validate:"omitempty,url"`
	OAuthAuthURL      string `env:"OAUTH_AUTH_URL"      envDefault:"https://accounts.google.com/o/oauth2/auth" validate:"url"`
	OAuthTokenURL     string `env:"OAUTH_TOKEN_URL"     envDefault:"https://oauth2.googleapis.com/token" validate:"url"`
	OAuthUserInfoURL  string `env:"OAUTH_USERINFO_URL"  envDefault:"https://www.googleapis.com/oauth2/v3/userinfo" validate:"url"`

	FormTables map[string]string `env:"FORM_TABLES" envDefault:"intake:Intake Forms,budget:Budget Submissions,feedback:Employee Feedback"`
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

func (c *Config) MagicLinkTTL() time.Duration {
	return time.Duration(c.MagicLinkTTLHours) * time.Hour
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

// SSOEnabled reports whether an OAuth client is configured.
func (c *Config) SSOEnabled() bool {
	return c.OAuthClientID != ""
}
