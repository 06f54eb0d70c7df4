/*
Package config loads runtime configuration from the environment.

PURPOSE:
  One Config struct populated by envconfig. A .env file in the working
  directory, if present, is loaded first; variables already set in the
  environment win over the file.

EMPTY REDIS_ADDR:
  The server runs without Redis. Balances are cached in process and the
  order-ready notification is logged instead of queued.

EMPTY SCAN_SCHEDULE:
  The discrepancy scanner only runs when triggered through the API.
*/
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the service.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`
	// AppTimezone is used for statement day boundaries and daily buckets.
	AppTimezone string `envconfig:"APP_TIMEZONE" default:"Asia/Kolkata"`

	DBPath string `envconfig:"DB_PATH" default:"./data/udhaar.db"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	RedisAddr       string        `envconfig:"REDIS_ADDR"`
	BalanceCacheTTL time.Duration `envconfig:"BALANCE_CACHE_TTL" default:"10m"`

	LedgerOpTimeout time.Duration `envconfig:"LEDGER_OP_TIMEOUT" default:"5s"`
	BulkConcurrency int           `envconfig:"BULK_CONCURRENCY" default:"8"`

	ScanSchedule string `envconfig:"SCAN_SCHEDULE" default:"@every 1h"`

	RateLimitPerMin int      `envconfig:"RATE_LIMIT_PER_MIN" default:"120"`
	CORSOrigins     []string `envconfig:"CORS_ORIGINS" default:"*"`
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the service cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.LedgerOpTimeout <= 0:
		return errors.New("LEDGER_OP_TIMEOUT must be positive")
	case c.BulkConcurrency <= 0:
		return errors.New("BULK_CONCURRENCY must be positive")
	case c.RateLimitPerMin <= 0:
		return errors.New("RATE_LIMIT_PER_MIN must be positive")
	case c.DBPath == "":
		return errors.New("DB_PATH must be set")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("APP_TIMEZONE: %w", err)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// IsProduction returns true when the service runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// Location resolves AppTimezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.AppTimezone)
}

// NewLogger returns a configured slog.Logger based on configuration.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	if cfg != nil {
		if lvl, err := parseLevel(cfg.LogLevel); err == nil {
			opts.Level = lvl
		}
	}
	if cfg != nil && cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return lvl, nil
}
