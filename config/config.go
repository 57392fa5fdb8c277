package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/ErlanBelekov/race-sync/internal/usecase"
)

type Config struct {
	Env         string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	Port        string `env:"PORT" envDefault:"8080" validate:"required"`
	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`

	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`
	RedisURL    string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0" validate:"required"`

	JWTSecret string `env:"JWT_SECRET,required" validate:"required,min=32"`

	// deferred task worker
	WorkerCount         int `env:"WORKER_COUNT" envDefault:"5" validate:"min=1,max=100"`
	PollIntervalSec     int `env:"POLL_INTERVAL_SEC" envDefault:"1" validate:"min=1,max=60"`
	ReaperIntervalSec   int `env:"REAPER_INTERVAL_SEC" envDefault:"30" validate:"min=1,max=3600"`
	HeartbeatTimeoutSec int `env:"HEARTBEAT_TIMEOUT_SEC" envDefault:"30" validate:"min=15,max=3600"`

	// periodic jobs, cron expressions in UTC
	SweepCron          string `env:"SWEEP_CRON" envDefault:"*/5 * * * *" validate:"required"`
	CleanupCron        string `env:"CLEANUP_CRON" envDefault:"17 3 * * *" validate:"required"`
	SeasonCron         string `env:"SEASON_CRON" envDefault:"0 4 * * 1" validate:"required"`
	UpcomingCron       string `env:"UPCOMING_CRON" envDefault:"30 4 * * *" validate:"required"`
	UpcomingWindowDays int    `env:"UPCOMING_WINDOW_DAYS" envDefault:"14" validate:"min=1,max=365"`

	ManualRetryHours   []int `env:"MANUAL_RETRY_HOURS" envDefault:"6,12,24" validate:"min=1,max=48,dive,min=0,max=720"`
	SeasonRetryHours   []int `env:"SEASON_RETRY_HOURS" envDefault:"6,12,24,30,36,42,48" validate:"min=1,max=48,dive,min=0,max=720"`
	ExpiryGraceHours   int   `env:"EXPIRY_GRACE_HOURS" envDefault:"168" validate:"min=1"`
	CategoryTimeoutSec int   `env:"CATEGORY_TIMEOUT_SEC" envDefault:"60" validate:"min=1,max=600"`
	StaleRunningMin    int   `env:"STALE_RUNNING_MIN" envDefault:"30" validate:"min=1"`

	UpstreamBaseURL string `env:"UPSTREAM_BASE_URL" envDefault:"http://localhost:8000" validate:"required,url"`

	ResendAPIKey string `env:"RESEND_API_KEY" validate:"required_if=Env production,required_if=Env staging"`
	ResendFrom   string `env:"RESEND_FROM"    validate:"required_if=Env production,required_if=Env staging"`
	AlertEmail   string `env:"ALERT_EMAIL"    validate:"omitempty,email"`
}

// Load reads the environment. With ENV=local (or unset) a .env file in the
// working directory is loaded first; real environment variables win.
func Load() (*Config, error) {
	if e := os.Getenv("ENV"); e == "" || e == "local" {
		_ = godotenv.Load()
	}

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

// ServiceOptions converts the retry and expiry settings for usecase.NewService.
func (c *Config) ServiceOptions() usecase.Options {
	return usecase.Options{
		ManualOffsets:   hoursToDurations(c.ManualRetryHours),
		SeasonOffsets:   hoursToDurations(c.SeasonRetryHours),
		ExpiryGrace:     time.Duration(c.ExpiryGraceHours) * time.Hour,
		CategoryTimeout: time.Duration(c.CategoryTimeoutSec) * time.Second,
		StaleRunning:    time.Duration(c.StaleRunningMin) * time.Minute,
	}
}

func (c *Config) UpcomingWindow() time.Duration {
	return time.Duration(c.UpcomingWindowDays) * 24 * time.Hour
}

func hoursToDurations(hs []int) []time.Duration {
	out := make([]time.Duration, len(hs))
	for i, h := range hs {
		out[i] = time.Duration(h) * time.Hour
	}
	return out
}
