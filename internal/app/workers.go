package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mtr002/thumbnail-queue/internal/config"
	"github.com/mtr002/thumbnail-queue/internal/interfaces"
	"github.com/mtr002/thumbnail-queue/internal/logger"
	"github.com/mtr002/thumbnail-queue/internal/nats"
	"github.com/mtr002/thumbnail-queue/internal/thumbnail"
	"github.com/mtr002/thumbnail-queue/internal/websocket"
	"github.com/mtr002/thumbnail-queue/internal/worker"
)

// InstanceID names this process in leases and consumer groups
func InstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

// RunWorkers runs the worker pool and the lease reaper until ctx is
// cancelled, then waits for in-flight jobs. It returns an error if the
// queue stops delivering first.
func RunWorkers(ctx context.Context, cfg *config.Config, b *Backends, owner string, notifier worker.Notifier) error {
	if notifier == nil {
		notifier = worker.NopNotifier{}
	}
	processor := worker.NewProcessor(b.Store, b.Objects, thumbnail.Transformer{},
		worker.WithLease(owner, cfg.LeaseDuration),
		worker.WithNotifier(notifier),
	)

	pool := worker.NewPool(b.Queue, processor, cfg.WorkerCount, worker.RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
	})
	if err := pool.Start(); err != nil {
		return err
	}

	logger.Logger.Info().Str("owner", owner).Dur("lease", cfg.LeaseDuration).Msg("Workers running")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.NewReaper(b.Store, b.Queue, cfg.ReaperInterval, cfg.MaxAttempts).Run(gctx)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			pool.Stop()
			return nil
		case <-pool.Done():
			pool.Stop()
			return errors.New("worker pool stopped: delivery channel closed")
		}
	})
	return g.Wait()
}

// HubNotifier pushes status events straight to local websocket clients,
// for workers running inside the API process
type HubNotifier struct {
	Hub *websocket.Hub
}

func (n HubNotifier) Notify(_ context.Context, job *interfaces.Job) error {
	websocket.BroadcastJobUpdate(n.Hub, nats.StatusMessageFor(job))
	return nil
}
