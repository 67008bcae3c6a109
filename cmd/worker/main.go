package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"portalauth/internal/cache"
	"portalauth/internal/config"
	"portalauth/internal/database"
	"portalauth/internal/jobs"
	"portalauth/internal/log"
	"portalauth/internal/queue"
	"portalauth/internal/repository"
	"portalauth/internal/service"
	"portalauth/internal/storage"
	"portalauth/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.Logging.Level).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer client.Close()

	// Only the persistent store can be swept from another process.
	var cleaner jobs.SessionCleaner
	if cfg.Store.Mode != config.StoreModeMemory {
		pool, err := database.NewPostgresPool(ctx, cfg.Postgres)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		defer pool.Close()

		sessions := service.NewSessionManager(cfg.Security.RefreshTTL, cfg.Security.RememberMeTTL, logger)
		cleaner = sessions.Sweeper(repository.NewPostgresBackend(pool))
	}

	var archiver tasks.Archiver
	if cfg.Storage.Endpoint != "" {
		store, err := storage.NewObjectStore(cfg.Storage)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init object store")
		}
		if err := store.EnsureBuckets(ctx); err != nil {
			logger.Warn().Err(err).Msg("ensure buckets failed")
		}
		archiver = store
	} else {
		logger.Warn().Msg("no storage endpoint configured, audit events are logged only")
	}

	processor := tasks.NewProcessor(cleaner, archiver, logger)
	consumer := queue.NewConsumer(
		client,
		cfg.Queue.Stream,
		cfg.Queue.Group,
		cfg.Queue.Consumer,
		cfg.Queue.ClaimInterval,
		logger,
		processor,
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("consumer stopped unexpectedly")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn().Msg("consumer did not stop in time")
	}
}
