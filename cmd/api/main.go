package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"portalauth/internal/audit"
	"portalauth/internal/cache"
	"portalauth/internal/config"
	"portalauth/internal/database"
	"portalauth/internal/handlers"
	"portalauth/internal/jobs"
	"portalauth/internal/lockout"
	"portalauth/internal/log"
	"portalauth/internal/metrics"
	"portalauth/internal/repository"
	"portalauth/internal/security"
	"portalauth/internal/server"
	"portalauth/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.Logging.Level)

	ctx := context.Background()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	dbPool := connectPostgres(ctx, cfg, logger)
	redisClient := connectRedis(ctx, cfg, logger)

	var primary repository.Backend
	if dbPool != nil {
		pg := repository.NewPostgresBackend(dbPool)
		if cfg.Store.Mode == config.StoreModeAuto {
			pg.WithSchema(func(ctx context.Context) error {
				return database.EnsureSchema(ctx, dbPool)
			})
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := pg.Ping(pingCtx); err != nil {
				logger.Warn().Err(err).Msg("postgres not ready at start, retrying on each auth call")
			}
			cancel()
		}
		primary = pg
	}
	fallback := repository.NewMemoryBackend()
	selector := repository.NewSelector(cfg.Store.Mode, primary, fallback, cfg.Store.ProbeTimeout, logger)
	selector.OnFallback(m.BackendFallbacks.Inc)

	hasher := security.NewHasher(cfg.Security.BcryptCost)
	if cfg.Security.DemoMode {
		if err := service.SeedDemoAccounts(ctx, fallback, hasher); err != nil {
			logger.Fatal().Err(err).Msg("seed demo accounts failed")
		}
		logger.Warn().Int("accounts", len(service.DemoAccounts)).Msg("demo mode enabled, demo accounts seeded into the in-memory store")
	}

	lockoutCfg := lockout.Config{Threshold: cfg.Lockout.Threshold, Duration: cfg.Lockout.Duration}
	var tracker lockout.Tracker = lockout.NewMemoryTracker(lockoutCfg)
	var publisher audit.Publisher = audit.NopPublisher{}
	if redisClient != nil {
		if cfg.Lockout.Backend == "redis" {
			tracker = lockout.NewRedisTracker(redisClient, lockoutCfg)
		}
		publisher = audit.NewStreamPublisher(redisClient, cfg.Queue.Stream)
	}

	tokens := security.NewTokenService(security.TokenConfig{
		AccessSecret:  cfg.Security.JWTAccessSecret,
		RefreshSecret: cfg.Security.JWTRefreshSecret,
		AccessTTL:     cfg.Security.AccessTTL,
		RefreshTTL:    cfg.Security.RefreshTTL,
		RememberMeTTL: cfg.Security.RememberMeTTL,
	})
	sessions := service.NewSessionManager(cfg.Security.RefreshTTL, cfg.Security.RememberMeTTL, logger)
	authService := service.NewAuthService(selector, sessions, tokens, hasher, tracker, publisher, m, service.Options{
		DemoMode:     cfg.Security.DemoMode,
		AccessCookie: cfg.Security.AccessCookie,
	}, logger)

	checks := map[string]handlers.Pinger{
		"store": handlers.PingFunc(selector.Primary().Ping),
	}
	if redisClient != nil {
		checks["redis"] = handlers.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	handlerSet := handlers.NewHandlerSet(handlers.Deps{
		Log:      logger,
		Config:   cfg,
		Auth:     authService,
		Gatherer: registry,
		Checks:   checks,
	})
	httpServer := server.NewHTTPServer(cfg, logger, m, handlerSet)

	// With a queue the worker sweeps postgres and this process sweeps only its
	// in-memory fallback.
	var queue redis.UniversalClient
	var local jobs.SessionCleaner = authService
	if redisClient != nil {
		queue = redisClient
		local = authService.FallbackCleaner()
	}
	scheduler := jobs.NewScheduler(queue, cfg.Queue.Stream, cfg.Queue.CleanupSpec, local, logger)
	if err := scheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("scheduler start failed")
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdown(logger, httpServer, scheduler, dbPool, redisClient)
}

// connectPostgres returns nil in memory mode. In postgres mode the database must be
// up at start; in auto mode the pool is opened lazily and the schema is created by
// the first probe that reaches it.
func connectPostgres(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) *pgxpool.Pool {
	switch cfg.Store.Mode {
	case config.StoreModeMemory:
		logger.Warn().Msg("store mode memory: credentials live in process memory only")
		return nil
	case config.StoreModeAuto:
		pool, err := database.OpenPostgresPool(ctx, cfg.Postgres)
		if err != nil {
			logger.Warn().Err(err).Msg("postgres pool unavailable, auth calls will use the in-memory fallback")
			return nil
		}
		return pool
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect postgres")
	}
	if err := database.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("failed to ensure schema")
	}
	return pool
}

// connectRedis is fatal when lockout counters live in Redis. Otherwise the process
// runs without the audit stream and sweeps sessions itself.
func connectRedis(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) *redis.Client {
	client, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		if cfg.Lockout.Backend == "redis" {
			logger.Fatal().Err(err).Msg("failed to connect redis")
		}
		logger.Warn().Err(err).Msg("redis unavailable, audit stream disabled")
		return nil
	}
	return client
}

func waitForShutdown(logger zerolog.Logger, srv *server.HTTPServer, scheduler *jobs.Scheduler, db *pgxpool.Pool, redisClient *redis.Client) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	if scheduler != nil {
		cancel := scheduler.Stop()
		cancel()
	}

	if db != nil {
		db.Close()
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("redis close error")
		}
	}

	logger.Info().Msg("server exited cleanly")
}
