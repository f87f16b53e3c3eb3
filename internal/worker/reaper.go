package worker

import (
	"context"
	"errors"
	"time"

	"github.com/mtr002/thumbnail-queue/internal/interfaces"
	"github.com/mtr002/thumbnail-queue/internal/logger"
	"github.com/mtr002/thumbnail-queue/internal/metrics"
	"github.com/mtr002/thumbnail-queue/internal/queue"
)

// Reaper re-enqueues jobs stuck in processing after their worker died.
// The claim check in the processor turns any resulting duplicates into
// no-ops. A job whose lease expired after maxClaims claims is marked error
// instead, so an input that keeps killing workers cannot cycle forever.
type Reaper struct {
	store     interfaces.JobStore
	queue     queue.Queue
	interval  time.Duration
	maxClaims int
	batch     int
	now       func() time.Time
}

// NewReaper builds a reaper. maxClaims <= 0 disables the give-up check.
func NewReaper(store interfaces.JobStore, q queue.Queue, interval time.Duration, maxClaims int) *Reaper {
	return &Reaper{store: store, queue: q, interval: interval, maxClaims: maxClaims, batch: 100, now: time.Now}
}

// Run ticks until ctx is cancelled
func (r *Reaper) Run(ctx context.Context) error {
	logger.Logger.Info().Dur("interval", r.interval).Msg("Lease reaper started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Logger.Info().Msg("Lease reaper stopped")
			return nil
		case <-ticker.C:
			if _, err := r.Reap(ctx); err != nil {
				logger.Logger.Error().Err(err).Msg("Reaping stale jobs failed")
			}
		}
	}
}

// Reap re-enqueues one batch of stale jobs and returns how many it requeued
func (r *Reaper) Reap(ctx context.Context) (int, error) {
	stale, err := r.store.GetStaleJobs(ctx, r.now(), r.batch)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, job := range stale {
		log := logger.WithJobID(job.ID)
		if r.maxClaims > 0 && job.Attempts >= r.maxClaims {
			r.abandon(ctx, job)
			continue
		}
		if err := r.queue.Enqueue(ctx, queue.MessageFor(job)); err != nil {
			log.Error().Err(err).Msg("Failed to re-enqueue stale job")
			continue
		}
		requeued++
		metrics.ReapedJobsTotal.Inc()
		log.Warn().Int("attempts", job.Attempts).Msg("Re-enqueued job with expired lease")
	}
	return requeued, nil
}

func (r *Reaper) abandon(ctx context.Context, job *interfaces.Job) {
	log := logger.WithJobID(job.ID)
	err := r.store.UpdateJob(ctx, job.ID, interfaces.JobUpdate{Status: interfaces.StatusError})
	switch {
	case err == nil:
		metrics.JobsFailedTotal.WithLabelValues(StepLease).Inc()
		log.Error().Int("attempts", job.Attempts).Msg("Lease expired too many times, marking job as error")
	case errors.Is(err, interfaces.ErrJobTerminal):
	default:
		log.Error().Err(err).Msg("Failed to mark abandoned job as error")
	}
}
