// Package app wires the post-race sync service from config. The server, the
// scheduler process and the operator CLI all build the same graph.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ErlanBelekov/race-sync/config"
	"github.com/ErlanBelekov/race-sync/internal/email"
	"github.com/ErlanBelekov/race-sync/internal/health"
	"github.com/ErlanBelekov/race-sync/internal/infrastructure/postgres"
	"github.com/ErlanBelekov/race-sync/internal/infrastructure/redis"
	ctxlog "github.com/ErlanBelekov/race-sync/internal/log"
	"github.com/ErlanBelekov/race-sync/internal/upstream"
	"github.com/ErlanBelekov/race-sync/internal/usecase"
)

type App struct {
	Pool    *pgxpool.Pool
	Redis   *goredis.Client
	Store   *redis.ScheduleStore
	Events  *postgres.EventRepository
	Tasks   *postgres.TaskRepository
	Syncer  *upstream.Syncer
	Service *usecase.Service
}

// New connects to postgres and redis and builds the service. poolSize is
// the postgres pool's upper bound.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, poolSize int32) (*App, error) {
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, poolSize)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}

	rdb, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}

	store := redis.NewScheduleStore(rdb, logger)
	events := postgres.NewEventRepository(pool)
	tasks := postgres.NewTaskRepository(pool)

	opts := cfg.ServiceOptions()
	syncer := upstream.NewSyncer(cfg.UpstreamBaseURL, &http.Client{
		// the per-category context deadline is the real bound
		Timeout: opts.CategoryTimeout + 5*time.Second,
	}, logger)

	var alerter usecase.Alerter
	if cfg.AlertEmail != "" {
		sender := email.NewSender(cfg.Env, cfg.ResendAPIKey, cfg.ResendFrom, logger)
		alerter = email.NewAlerter(sender, cfg.AlertEmail)
	} else {
		logger.Warn("ALERT_EMAIL not set, exhausted schedules will only be logged")
	}

	return &App{
		Pool:    pool,
		Redis:   rdb,
		Store:   store,
		Events:  events,
		Tasks:   tasks,
		Syncer:  syncer,
		Service: usecase.NewService(events, store, tasks, syncer, alerter, opts, logger),
	}, nil
}

// HealthDependencies lists what readiness pings. An open upstream
// breaker only degrades readiness: attempts still get recorded and retried.
func (a *App) HealthDependencies() []health.Dependency {
	return []health.Dependency{
		{Name: "postgres", Pinger: a.Pool},
		{Name: "redis", Pinger: a.Store},
		{Name: "upstream", Pinger: a.Syncer, Optional: true},
	}
}

func (a *App) Close() {
	if err := a.Redis.Close(); err != nil {
		slog.Default().Warn("close redis", "error", err)
	}
	a.Pool.Close()
}

// NewLogger returns a tint handler for local development and JSON
// otherwise, both stamping request ids from context.
func NewLogger(env string, level slog.Level, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
