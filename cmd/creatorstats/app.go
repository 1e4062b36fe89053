package main

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/platinummonkey/creatorstats/pkg/analytics"
	"github.com/platinummonkey/creatorstats/pkg/cache"
	"github.com/platinummonkey/creatorstats/pkg/config"
	"github.com/platinummonkey/creatorstats/pkg/observability"
	"github.com/platinummonkey/creatorstats/pkg/scheduler"
	"github.com/platinummonkey/creatorstats/pkg/storage/postgres"
)

// app holds the wired components shared by every run mode
type app struct {
	cfg      *config.Config
	logger   *observability.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics

	db    *postgres.ConnectionManager
	redis *redis.Client
	cache cache.Cache

	subscriptions *postgres.SubscriptionStore
	aggregator    *analytics.Aggregator
	service       *analytics.Service
}

func newApp(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*app, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  observability.NewMetrics(registry),
	}

	db, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
		PrimaryURL:  cfg.Database.URL,
		ReplicaURLs: postgres.ParseReplicaURLs(cfg.Database.ReplicaURLs),
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.Timeout,
		MaxLifetime: cfg.Database.MaxLifetime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.db = db

	if cfg.Database.AutoMigrate {
		if err := postgres.RunMigrations(ctx, db.Primary(), logger); err != nil {
			a.close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	if err := a.openCache(ctx); err != nil {
		a.close()
		return nil, err
	}

	events := postgres.NewEventSource(db)
	store := postgres.NewMetricStore(db)
	a.subscriptions = postgres.NewSubscriptionStore(db)

	a.aggregator = analytics.NewAggregator(events, postgres.NewOwnershipStore(db), store, a.cache, logger, a.metrics)
	a.service = analytics.NewService(analytics.ServiceConfig{
		Store:         store,
		Events:        events,
		Subscriptions: a.subscriptions,
		Cache:         a.cache,
		CacheTTL:      cfg.Cache.TTL,
		Logger:        logger,
		Metrics:       a.metrics,
	})

	return a, nil
}

func (a *app) openCache(ctx context.Context) error {
	switch a.cfg.Cache.Backend {
	case config.CacheBackendRedis:
		redisCfg := cache.RedisConfig{
			URL:        a.cfg.Cache.RedisURL,
			Password:   a.cfg.Cache.RedisPassword,
			DB:         a.cfg.Cache.RedisDB,
			PoolSize:   a.cfg.Cache.RedisPoolSize,
			MaxRetries: a.cfg.Cache.RedisMaxRetries,
			Prefix:     a.cfg.Cache.RedisPrefix,
			DefaultTTL: a.cfg.Cache.TTL,
		}
		client, err := cache.NewRedisClient(ctx, redisCfg)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.redis = client
		a.cache = cache.NewRedisCache(client, redisCfg)
	case config.CacheBackendMemory:
		mem, err := cache.NewMemoryCache(cache.MemoryConfig{
			MaxEntries: a.cfg.Cache.MaxEntries,
			DefaultTTL: a.cfg.Cache.TTL,
		})
		if err != nil {
			return fmt.Errorf("failed to create memory cache: %w", err)
		}
		a.cache = mem
	default:
		a.logger.Warn("Report cache disabled")
	}

	a.logger.WithField("backend", a.cfg.Cache.Backend).Info("Report cache configured")
	return nil
}

func (a *app) newScheduler() (*scheduler.Scheduler, error) {
	loc, err := a.cfg.Scheduler.Location()
	if err != nil {
		return nil, err
	}
	return scheduler.New(scheduler.Config{
		HourlyInterval: a.cfg.Scheduler.HourlyInterval,
		DailyAt:        a.cfg.Scheduler.DailyAt,
		Location:       loc,
		TenantTimeout:  a.cfg.Scheduler.TenantTimeout,
		Concurrency:    a.cfg.Scheduler.Concurrency,
	}, a.subscriptions, a.aggregator, a.logger, a.metrics)
}

func (a *app) close() error {
	var firstErr error
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			firstErr = err
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
