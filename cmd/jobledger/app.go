package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kiranshivaraju/jobledger/internal/api"
	mw "github.com/kiranshivaraju/jobledger/internal/api/middleware"
	"github.com/kiranshivaraju/jobledger/internal/cache"
	"github.com/kiranshivaraju/jobledger/internal/config"
	"github.com/kiranshivaraju/jobledger/internal/history"
	"github.com/kiranshivaraju/jobledger/internal/lifecycle"
	"github.com/kiranshivaraju/jobledger/internal/observability"
	"github.com/kiranshivaraju/jobledger/internal/store"
)

const connectTimeout = 10 * time.Second

// app owns every long-lived component built from the config.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	store store.Store
	redis *cache.RedisCache       // nil when redis.url is empty
	sink  *history.ClickHouseSink // nil when history.clickhouse_addr is empty

	// nil unless built for serving
	metrics        *observability.Metrics
	metricsHandler http.Handler

	svc *lifecycle.Service
}

// newApp connects the store and the optional collaborators. withMetrics
// builds the Prometheus registry served at /metrics.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, withMetrics bool) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if store.IsPostgres(cfg.Database.URL) {
		if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("database migrations applied")
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	a.store, err = store.Open(connectCtx, cfg.Database, cfg.Lifecycle)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	logger.Info("database connected", "postgres", store.IsPostgres(cfg.Database.URL))

	opts := []lifecycle.Option{
		lifecycle.WithLogger(logger),
		lifecycle.WithConfig(cfg.Lifecycle, cfg.Retention),
	}

	if cfg.Redis.URL != "" {
		a.redis, err = cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("create redis cache: %w", err)
		}
		if err := a.redis.Ping(connectCtx); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		opts = append(opts, lifecycle.WithCache(a.redis, cfg.Redis.StatusTTL))
		logger.Info("redis connected")
	}

	if cfg.History.ClickHouseAddr != "" {
		a.sink, err = history.NewClickHouseSink(connectCtx, cfg.History)
		if err != nil {
			return nil, fmt.Errorf("create history sink: %w", err)
		}
		opts = append(opts, lifecycle.WithHistory(a.sink))
		logger.Info("history sink connected", "addr", cfg.History.ClickHouseAddr, "table", cfg.History.Table)
	}

	if withMetrics {
		a.metrics, a.metricsHandler, err = observability.NewMetrics(ctx)
		if err != nil {
			return nil, fmt.Errorf("init metrics: %w", err)
		}
		opts = append(opts, lifecycle.WithMetrics(a.metrics))
	}

	a.svc = lifecycle.New(a.store, opts...)
	return a, nil
}

// Router builds the HTTP handler. Collaborators that are not configured are
// left out so the router and health check treat them as disabled.
func (a *app) Router() http.Handler {
	deps := api.Dependencies{
		Lifecycle:      a.svc,
		Database:       a.store,
		MetricsHandler: a.metricsHandler,
	}
	if a.metrics != nil {
		deps.Metrics = a.metrics
	}
	if a.redis != nil {
		deps.Cache = a.redis
		deps.RateLimit = mw.NewRateLimit(a.redis, a.cfg.Server.RateLimitPerMin)
	}
	return api.NewRouter(deps)
}

// Close releases every connection newApp opened.
func (a *app) Close() {
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			a.logger.Warn("close history sink", "error", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close store", "error", err)
		}
	}
}
