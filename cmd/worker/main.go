package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/mtr002/thumbnail-queue/internal/app"
	"github.com/mtr002/thumbnail-queue/internal/config"
	"github.com/mtr002/thumbnail-queue/internal/logger"
	"github.com/mtr002/thumbnail-queue/internal/nats"
	"github.com/mtr002/thumbnail-queue/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init("thumbnail-worker", "info")
		logger.Logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	logger.Init("thumbnail-worker", cfg.LogLevel)

	if cfg.QueueBackend == "memory" {
		logger.Logger.Fatal().Msg("QUEUE_BACKEND=memory only works inside the API process")
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN, ServerName: "thumbnail-worker"}); err != nil {
			logger.Logger.Fatal().Err(err).Msg("sentry.Init failed")
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	owner := app.InstanceID()
	logger.Logger.Info().Str("owner", owner).Str("queue", cfg.QueueBackend).Int("workers", cfg.WorkerCount).
		Msg("Starting thumbnail worker")

	backends, err := app.Open(ctx, cfg, owner)
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to open backends")
		os.Exit(1)
	}
	defer backends.Close()

	var notifier worker.Notifier = worker.NopNotifier{}
	if backends.NATS != nil {
		notifier = nats.NewClient(backends.NATS)
		logger.Logger.Info().Str("subject", nats.JobStatusSubject).Msg("Publishing job status events")
	}

	if err := app.RunWorkers(ctx, cfg, backends, owner, notifier); err != nil {
		sentry.CaptureException(err)
		sentry.Flush(2 * time.Second)
		logger.Logger.Error().Err(err).Msg("Worker stopped with error")
		backends.Close()
		os.Exit(1)
	}
	logger.Logger.Info().Msg("Worker stopped")
}
