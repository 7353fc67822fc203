// Package config loads daemon settings from a YAML file, a .env file and the environment,
// in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pysugar/outreach-nexus/internal/auth/google"
	"github.com/pysugar/outreach-nexus/internal/auth/microsoft"
	"github.com/pysugar/outreach-nexus/internal/dispatch"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. OUTREACH_HTTP_ADDR.
const EnvPrefix = "OUTREACH_"

type Config struct {
	Database    DatabaseConfig    `yaml:"database" envPrefix:"DATABASE_"`
	HTTP        HTTPConfig        `yaml:"http" envPrefix:"HTTP_"`
	Log         LogConfig         `yaml:"log" envPrefix:"LOG_"`
	Dispatch    dispatch.Config   `yaml:"dispatch" envPrefix:"DISPATCH_"`
	Quota       QuotaConfig       `yaml:"quota" envPrefix:"QUOTA_"`
	Credentials CredentialsConfig `yaml:"credentials" envPrefix:"CREDENTIALS_"`
	OAuth       OAuthConfig       `yaml:"oauth" envPrefix:"OAUTH_"`
	Telegram    TelegramConfig    `yaml:"telegram" envPrefix:"TELEGRAM_"`
}

type DatabaseConfig struct {
	Path          string        `yaml:"path" env:"PATH"`
	SlowThreshold time.Duration `yaml:"slow_threshold" env:"SLOW_THRESHOLD"`
}

type HTTPConfig struct {
	Addr   string `yaml:"addr" env:"ADDR"`
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// ConnectSuccessURL receives the browser after an OAuth connect. Empty renders a plain page.
	ConnectSuccessURL string `yaml:"connect_success_url" env:"CONNECT_SUCCESS_URL"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"` // "console" or "json"
}

type QuotaConfig struct {
	// Timezone of the daily counter rollover.
	Timezone          string `yaml:"timezone" env:"TIMEZONE"`
	DefaultDailyLimit int    `yaml:"default_daily_limit" env:"DEFAULT_DAILY_LIMIT"`
}

type CredentialsConfig struct {
	RefreshMargin    time.Duration `yaml:"refresh_margin" env:"REFRESH_MARGIN"`
	RefreshInterval  time.Duration `yaml:"refresh_interval" env:"REFRESH_INTERVAL"`
	RefreshLookahead time.Duration `yaml:"refresh_lookahead" env:"REFRESH_LOOKAHEAD"`
}

type OAuthConfig struct {
	Google    google.Config    `yaml:"google" envPrefix:"GOOGLE_"`
	Microsoft microsoft.Config `yaml:"microsoft" envPrefix:"MICROSOFT_"`
}

type TelegramConfig struct {
	Token  string `yaml:"token" env:"TOKEN"`
	ChatID int64  `yaml:"chat_id" env:"CHAT_ID"`
}

// Enabled reports whether Telegram notices are configured.
func (c TelegramConfig) Enabled() bool {
	return c.Token != "" && c.ChatID != 0
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:          "outreach.db",
			SlowThreshold: 200 * time.Millisecond,
		},
		HTTP: HTTPConfig{
			Addr: "127.0.0.1:8090",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Dispatch: dispatch.DefaultConfig(),
		Quota: QuotaConfig{
			Timezone:          "UTC",
			DefaultDailyLimit: 100,
		},
		Credentials: CredentialsConfig{
			RefreshMargin:    2 * time.Minute,
			RefreshInterval:  15 * time.Minute,
			RefreshLookahead: 20 * time.Minute,
		},
		OAuth: OAuthConfig{
			Microsoft: microsoft.Config{Tenant: "common"},
		},
	}
}

// Load reads path (optional), then .env in the working directory (optional), then OUTREACH_*
// environment variables on top of the defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// Existing environment variables win over .env entries.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be console or json, got %q", c.Log.Format))
	}
	if c.Dispatch.Workers <= 0 {
		errs = append(errs, errors.New("dispatch.workers must be positive"))
	}
	if c.Dispatch.MaxAttempts <= 0 {
		errs = append(errs, errors.New("dispatch.max_attempts must be positive"))
	}
	if c.Quota.DefaultDailyLimit <= 0 {
		errs = append(errs, errors.New("quota.default_daily_limit must be positive"))
	}
	if _, err := time.LoadLocation(c.Quota.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("quota.timezone: %w", err))
	}
	if c.Credentials.RefreshLookahead < c.Credentials.RefreshMargin {
		errs = append(errs, errors.New("credentials.refresh_lookahead must not be shorter than refresh_margin"))
	}
	if (c.Telegram.Token == "") != (c.Telegram.ChatID == 0) {
		errs = append(errs, errors.New("telegram.token and telegram.chat_id must be set together"))
	}
	return errors.Join(errs...)
}

// QuotaLocation returns the timezone of the daily counter rollover.
func (c *Config) QuotaLocation() *time.Location {
	loc, err := time.LoadLocation(c.Quota.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
