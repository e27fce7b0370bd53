package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tillbook/backend/internal/cache"
	"tillbook/backend/internal/config"
	"tillbook/backend/internal/logger"
	"tillbook/backend/internal/metrics"
	"tillbook/backend/internal/service"
	"tillbook/backend/internal/store"
	"tillbook/backend/internal/store/memory"
	pgstore "tillbook/backend/internal/store/postgres"
	"tillbook/backend/internal/xid"
)

// app holds the process-wide dependencies shared by every command.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	repo    store.Repository
	cache   cache.Cache
	metrics *metrics.Metrics
	closers []func() error
}

type appOpener func(ctx context.Context, cfg config.Config) (*app, error)

// openApp connects the repository and cache described by cfg.
// A configured but unreachable database is fatal; Redis falls back to noop.
func openApp(ctx context.Context, cfg config.Config) (*app, error) {
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: log, cache: cache.NoopCache{}}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(connectCtx, cfg.DatabaseURL)
		if err != nil {
			_ = log.Sync()
			return nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback: %w", err)
		}
		a.repo = pg
		a.closers = append(a.closers, pg.Close)
		log.Info("repository: postgres")
	} else {
		a.repo = memory.NewSeeded(log)
		log.Info("repository: in-memory")
	}

	if cfg.RedisAddr != "" {
		namespace := cacheNamespace(cfg.DatabaseURL != "")
		redisCache := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, namespace)
		if err := redisCache.Ping(connectCtx); err != nil {
			log.Warn("redis unavailable, using noop cache", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			_ = redisCache.Close()
		} else {
			a.cache = redisCache
			a.closers = append(a.closers, redisCache.Close)
			log.Info("cache: redis", zap.String("addr", cfg.RedisAddr), zap.String("namespace", namespace))
		}
	} else {
		log.Info("cache: noop")
	}

	if cfg.MetricsEnabled {
		a.metrics = metrics.New()
	}
	return a, nil
}

// cacheNamespace scopes Redis keys to the repository. The in-memory store
// numbers Z reports from 1 on every start, so each process gets its own
// namespace and never reads a report cached by an earlier run.
func cacheNamespace(durable bool) string {
	if durable {
		return cache.DefaultNamespace
	}
	return cache.DefaultNamespace + ":" + xid.New("run")
}

func (a *app) service() (*service.Service, error) {
	loc, err := a.cfg.Location()
	if err != nil {
		return nil, err
	}
	return service.New(a.repo, a.cache, a.metrics, a.logger, service.Options{
		Location: loc,
		CacheTTL: a.cfg.CacheTTL(),
	}), nil
}

func (a *app) close() {
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			a.logger.Warn("close error", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
