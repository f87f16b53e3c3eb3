package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"golang.org/x/sync/errgroup"

	"github.com/mtr002/thumbnail-queue/internal/api"
	"github.com/mtr002/thumbnail-queue/internal/app"
	"github.com/mtr002/thumbnail-queue/internal/config"
	"github.com/mtr002/thumbnail-queue/internal/jobs"
	"github.com/mtr002/thumbnail-queue/internal/logger"
	"github.com/mtr002/thumbnail-queue/internal/nats"
	"github.com/mtr002/thumbnail-queue/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init("thumbnail-api", "info")
		logger.Logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	logger.Init("thumbnail-api", cfg.LogLevel)
	logger.Logger.Info().
		Str("store", cfg.StoreBackend).
		Str("storage", cfg.StorageBackend).
		Str("queue", cfg.QueueBackend).
		Msg("Starting thumbnail API")

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN, ServerName: "thumbnail-api"}); err != nil {
			logger.Logger.Fatal().Err(err).Msg("sentry.Init failed")
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	owner := app.InstanceID()
	backends, err := app.Open(ctx, cfg, owner)
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to open backends")
		os.Exit(1)
	}
	defer backends.Close()

	manager := jobs.NewManager(backends.Store, backends.Objects, backends.Queue)
	if c := backends.Cache(cfg); c != nil {
		manager = manager.WithCache(c)
		logger.Logger.Info().Dur("ttl", cfg.CacheTTL).Msg("Redis status cache enabled")
	}

	hub := websocket.NewHub()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	if backends.NATS != nil {
		statusServer := nats.NewServer(backends.NATS, func(msg nats.JobStatusMessage) {
			websocket.BroadcastJobUpdate(hub, msg)
		})
		if err := statusServer.Subscribe(); err != nil {
			logger.Logger.Error().Err(err).Msg("Failed to subscribe to job status events")
			os.Exit(1)
		}
		defer statusServer.Close()
		logger.Logger.Info().Str("subject", nats.JobStatusSubject).Msg("Listening for job status events")
	}

	// The in-memory queue cannot be shared with a separate worker process
	if cfg.QueueBackend == "memory" {
		g.Go(func() error {
			return app.RunWorkers(gctx, cfg, backends, owner, app.HubNotifier{Hub: hub})
		})
	}

	server := api.NewServer(api.NewRouter(api.NewHandler(manager, hub), backends.Checks()), cfg.HTTPPort)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Logger.Info().Msg("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		sentry.CaptureException(err)
		logger.Logger.Error().Err(err).Msg("Server stopped with error")
		return
	}
	logger.Logger.Info().Msg("Server stopped")
}
