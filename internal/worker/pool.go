package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/mtr002/thumbnail-queue/internal/logger"
	"github.com/mtr002/thumbnail-queue/internal/metrics"
	"github.com/mtr002/thumbnail-queue/internal/queue"
)

// JobProcessor handles one message and reports what happened
type JobProcessor interface {
	Process(ctx context.Context, msg queue.Message) Result
}

// Abandoner is implemented by processors that can settle a job whose
// message ran out of attempts
type Abandoner interface {
	Abandon(ctx context.Context, res Result) error
}

// RetryPolicy bounds redelivery of OutcomeRetry messages
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Backoff returns BaseDelay * 2^(attempt-1), capped at MaxDelay
func (r RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := r.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if r.MaxDelay > 0 && delay >= r.MaxDelay {
			return r.MaxDelay
		}
	}
	if r.MaxDelay > 0 && delay > r.MaxDelay {
		return r.MaxDelay
	}
	return delay
}

// Pool runs a fixed number of workers over the deliveries of one queue
type Pool struct {
	queue       queue.Queue
	processor   JobProcessor
	policy      RetryPolicy
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	done        chan struct{}
	workerCount int
}

func NewPool(q queue.Queue, processor JobProcessor, workerCount int, policy RetryPolicy) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		queue:       q,
		processor:   processor,
		policy:      policy,
		workerCount: workerCount,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

// Start begins processing jobs with the specified number of workers
func (p *Pool) Start() error {
	deliveries, err := p.queue.Consume(p.ctx)
	if err != nil {
		return fmt.Errorf("failed to consume queue: %w", err)
	}

	logger.Logger.Info().Int("worker_count", p.workerCount).Msg("Starting worker pool")
	metrics.ActiveWorkers.Set(float64(p.workerCount))

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i, deliveries)
	}
	go func() {
		p.wg.Wait()
		close(p.done)
	}()
	return nil
}

// Done is closed once every worker has returned, either after Stop or
// because the queue closed the delivery channel.
func (p *Pool) Done() <-chan struct{} {
	return p.done
}

// Stop stops consuming and waits for in-flight jobs to finish
func (p *Pool) Stop() {
	logger.Logger.Info().Msg("Stopping worker pool")
	p.cancel()
	p.wg.Wait()
	metrics.ActiveWorkers.Set(0)
	logger.Logger.Info().Msg("Worker pool stopped")
}

func (p *Pool) worker(id int, deliveries <-chan queue.Delivery) {
	defer p.wg.Done()

	log := logger.WithWorkerID(id)
	log.Info().Msg("Worker started")

	for d := range deliveries {
		p.processJob(id, d)
	}

	log.Info().Msg("Worker shutting down")
}

// processJob runs one delivery to completion. Jobs are not tied to the pool
// context, so Stop lets them finish.
func (p *Pool) processJob(workerID int, d queue.Delivery) {
	msg := d.Message()
	startTime := time.Now()
	logger.Logger.Debug().
		Int("worker_id", workerID).
		Str("job_id", msg.JobID).
		Int("attempt", d.Attempt()).
		Msg("Received delivery")

	res := p.processor.Process(context.Background(), msg)
	metrics.JobProcessingDuration.Observe(time.Since(startTime).Seconds())

	p.settle(workerID, d, res)
}

func (p *Pool) settle(workerID int, d queue.Delivery, res Result) {
	log := logger.Logger.With().
		Int("worker_id", workerID).
		Str("job_id", res.JobID).
		Str("outcome", res.Outcome.String()).
		Int("attempt", d.Attempt()).
		Logger()

	var err error
	switch res.Outcome {
	case OutcomeSucceeded, OutcomeFailed:
		err = d.Ack()

	case OutcomeDuplicate:
		metrics.DuplicateDeliveriesTotal.Inc()
		err = d.Ack()

	case OutcomeRejected:
		metrics.RejectedDeliveriesTotal.Inc()
		log.Error().Err(res.Err).Msg("Dropping unprocessable message")
		sentry.CaptureException(res.Err)
		err = d.Ack()

	case OutcomeRetry:
		if d.Attempt() >= p.policy.MaxAttempts {
			log.Error().Err(res.Err).Int("max_attempts", p.policy.MaxAttempts).
				Msg("Giving up on message after max attempts")
			sentry.CaptureException(res.Err)
			if a, ok := p.processor.(Abandoner); ok {
				if abandonErr := a.Abandon(context.Background(), res); abandonErr != nil {
					log.Error().Err(abandonErr).Msg("Failed to mark abandoned job")
				}
			}
			err = d.Ack()
			break
		}
		delay := p.policy.Backoff(d.Attempt())
		log.Warn().Err(res.Err).Dur("retry_in", delay).Msg("Job will be retried")
		metrics.RedeliveriesTotal.Inc()
		err = d.Nack(delay)
	}

	if err != nil {
		log.Error().Err(err).Msg("Failed to settle delivery")
	}
}
