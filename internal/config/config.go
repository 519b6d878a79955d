package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// Config holds runtime configuration sourced from env vars.
type Config struct {
	HTTPAddr     string
	GRPCAddr     string
	PGDSN        string
	AuthSecret   string
	TokenTTL     time.Duration
	DevTokens    bool
	AdminEmail   string
	LogFormat    string
	LogLevel     string
	Location     *time.Location
	CancelWindow time.Duration
	RateBurst    int
	RatePerSec   int
	CORSOrigins  []string
	SeedFee      int64
}

// Load reads configuration from the environment, after loading an optional
// .env file from the working directory, and validates it.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from the given lookup function.
func FromEnv(getenv func(string) string) (Config, error) {
	env := func(key, def string) string { return fallback(getenv(key), def) }

	cfg := Config{
		HTTPAddr:    env("BUDDYPAY_HTTP_ADDR", ":8080"),
		GRPCAddr:    env("BUDDYPAY_GRPC_ADDR", ":9090"),
		PGDSN:       strings.TrimSpace(getenv("BUDDYPAY_PG_DSN")),
		AuthSecret:  strings.TrimSpace(getenv("BUDDYPAY_AUTH_SECRET")),
		AdminEmail:  strings.ToLower(strings.TrimSpace(getenv("BUDDYPAY_ADMIN_EMAIL"))),
		LogFormat:   strings.ToLower(env("BUDDYPAY_LOG_FORMAT", "json")),
		LogLevel:    env("LOG_LEVEL", "info"),
		CORSOrigins: parseCSV(env("BUDDYPAY_CORS_ORIGINS", "http://localhost:3000")),
	}

	var errs []error
	var err error
	if cfg.TokenTTL, err = parseDuration(env("BUDDYPAY_TOKEN_TTL", "15m")); err != nil {
		errs = append(errs, fmt.Errorf("BUDDYPAY_TOKEN_TTL: %w", err))
	}
	if cfg.CancelWindow, err = parseDuration(env("BUDDYPAY_CANCEL_WINDOW", "24h")); err != nil {
		errs = append(errs, fmt.Errorf("BUDDYPAY_CANCEL_WINDOW: %w", err))
	}
	if cfg.DevTokens, err = strconv.ParseBool(env("BUDDYPAY_DEV_TOKENS", "false")); err != nil {
		errs = append(errs, fmt.Errorf("BUDDYPAY_DEV_TOKENS: %w", err))
	}
	if cfg.Location, err = time.LoadLocation(env("BUDDYPAY_TIMEZONE", "UTC")); err != nil {
		errs = append(errs, fmt.Errorf("BUDDYPAY_TIMEZONE: %w", err))
	}
	if cfg.RateBurst, err = parsePositive(env("BUDDYPAY_RATE_BURST", "20")); err != nil {
		errs = append(errs, fmt.Errorf("BUDDYPAY_RATE_BURST: %w", err))
	}
	if cfg.RatePerSec, err = parsePositive(env("BUDDYPAY_RATE_PER_SEC", "10")); err != nil {
		errs = append(errs, fmt.Errorf("BUDDYPAY_RATE_PER_SEC: %w", err))
	}
	if cfg.SeedFee, err = strconv.ParseInt(env("BUDDYPAY_SEED_FEE", "5000"), 10, 64); err != nil || cfg.SeedFee <= 0 || cfg.SeedFee > 100000 {
		errs = append(errs, errors.New("BUDDYPAY_SEED_FEE: must be an integer between 1 and 100000"))
	}
	switch cfg.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("BUDDYPAY_LOG_FORMAT: unknown format %q", cfg.LogFormat))
	}
	if cfg.AuthSecret == "" {
		errs = append(errs, errors.New("BUDDYPAY_AUTH_SECRET is required"))
	}

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

func fallback(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return strings.TrimSpace(value)
}

func parseDuration(raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errors.New("must be positive")
	}
	return d, nil
}

func parsePositive(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be positive")
	}
	return n, nil
}

func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	var out []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
