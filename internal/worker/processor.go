package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mtr002/thumbnail-queue/internal/interfaces"
	"github.com/mtr002/thumbnail-queue/internal/logger"
	"github.com/mtr002/thumbnail-queue/internal/metrics"
	"github.com/mtr002/thumbnail-queue/internal/queue"
	"github.com/mtr002/thumbnail-queue/internal/storage"
)

// Transformer derives a thumbnail from source bytes
type Transformer interface {
	Transform(src []byte, width, height int, format interfaces.Format) ([]byte, error)
}

type Outcome int

const (
	// OutcomeSucceeded: the job is now success
	OutcomeSucceeded Outcome = iota
	// OutcomeFailed: the pipeline failed and the job is now error
	OutcomeFailed
	// OutcomeDuplicate: the job was already terminal, nothing changed
	OutcomeDuplicate
	// OutcomeRetry: infrastructure trouble, the message should come back
	OutcomeRetry
	// OutcomeRejected: the message can never be processed
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeRetry:
		return "retry"
	case OutcomeRejected:
		return "rejected"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Pipeline steps, used in logs, metrics and Result.Step. StepLease and
// StepRetries label jobs abandoned by the reaper and the pool.
const (
	StepFetch     = "fetch"
	StepTransform = "transform"
	StepStore     = "store"
	StepLease     = "lease"
	StepRetries   = "retries"
)

// Result is what happened to one message
type Result struct {
	JobID        string
	Outcome      Outcome
	ThumbnailRef string
	// Step is set when the pipeline failed
	Step string
	Err  error
}

// Processor drives one job through uploaded -> processing -> success|error
type Processor struct {
	store       interfaces.JobStore
	objects     interfaces.ObjectStore
	transformer Transformer
	notifier    Notifier
	owner       string
	lease       time.Duration
}

type ProcessorOption func(*Processor)

func WithNotifier(n Notifier) ProcessorOption {
	return func(p *Processor) { p.notifier = n }
}

// WithLease sets the lease owner id and duration used when claiming jobs
func WithLease(owner string, lease time.Duration) ProcessorOption {
	return func(p *Processor) {
		p.owner = owner
		p.lease = lease
	}
}

func NewProcessor(store interfaces.JobStore, objects interfaces.ObjectStore, transformer Transformer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		store:       store,
		objects:     objects,
		transformer: transformer,
		notifier:    NopNotifier{},
		owner:       "worker",
		lease:       2 * time.Minute,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process never returns pipeline failures as errors: they end up as the
// job's error status and OutcomeFailed.
func (p *Processor) Process(ctx context.Context, msg queue.Message) Result {
	res := Result{JobID: msg.JobID}
	log := logger.WithJobID(msg.JobID)

	if err := msg.Validate(); err != nil {
		res.Outcome, res.Err = OutcomeRejected, err
		return res
	}

	job, err := p.store.GetJob(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, interfaces.ErrJobNotFound) {
			res.Outcome, res.Err = OutcomeRejected, err
			return res
		}
		res.Outcome, res.Err = OutcomeRetry, fmt.Errorf("load job: %w", err)
		return res
	}
	if job.Status.IsTerminal() {
		log.Debug().Str("status", string(job.Status)).Msg("Job already terminal, skipping")
		res.Outcome = OutcomeDuplicate
		return res
	}

	job, err = p.store.ClaimJob(ctx, msg.JobID, p.owner, p.lease)
	switch {
	case err == nil:
	case errors.Is(err, interfaces.ErrJobTerminal):
		res.Outcome = OutcomeDuplicate
		return res
	case errors.Is(err, interfaces.ErrJobNotFound):
		res.Outcome, res.Err = OutcomeRejected, err
		return res
	default:
		res.Outcome, res.Err = OutcomeRetry, fmt.Errorf("claim job: %w", err)
		return res
	}

	log.Info().Int("attempt", job.Attempts).Str("owner", p.owner).Msg("Processing job")

	stop := p.heartbeat(ctx, job.ID)
	ref, step, pipeErr := p.run(ctx, job.OriginalRef, msg)
	stop()

	if pipeErr != nil {
		log.Error().Err(pipeErr).Str("step", step).Msg("Thumbnail pipeline failed")
		res.Step = step
		res.Err = pipeErr
		if err := p.finish(ctx, job, interfaces.JobUpdate{Status: interfaces.StatusError}); err != nil {
			return p.finishFailed(res, err)
		}
		metrics.JobsFailedTotal.WithLabelValues(step).Inc()
		res.Outcome = OutcomeFailed
		return res
	}

	if err := p.finish(ctx, job, interfaces.JobUpdate{Status: interfaces.StatusSuccess, ThumbnailRef: &ref}); err != nil {
		return p.finishFailed(res, err)
	}
	metrics.JobsSucceededTotal.Inc()
	log.Info().Str("thumbnail_ref", ref).Msg("Job completed")
	res.Outcome = OutcomeSucceeded
	res.ThumbnailRef = ref
	return res
}

// Abandon marks a job the pool gave up on as error. Jobs that are gone,
// already terminal or under a live lease are left alone: the lease holder
// or the reaper owns those.
func (p *Processor) Abandon(ctx context.Context, res Result) error {
	log := logger.WithJobID(res.JobID)

	job, err := p.store.GetJob(ctx, res.JobID)
	if err != nil {
		if errors.Is(err, interfaces.ErrJobNotFound) {
			return nil
		}
		return fmt.Errorf("load abandoned job: %w", err)
	}
	if job.Status.IsTerminal() || job.LeaseActive(time.Now()) {
		return nil
	}

	err = p.finish(ctx, job, interfaces.JobUpdate{Status: interfaces.StatusError})
	switch {
	case err == nil:
		metrics.JobsFailedTotal.WithLabelValues(StepRetries).Inc()
		log.Error().Err(res.Err).Str("status", string(interfaces.StatusError)).Msg("Retries exhausted, marking job as error")
		return nil
	case errors.Is(err, interfaces.ErrJobTerminal), errors.Is(err, interfaces.ErrJobNotFound):
		return nil
	default:
		return fmt.Errorf("mark abandoned job: %w", err)
	}
}

// run fetches, transforms and stores. It returns the failing step with the
// error.
func (p *Processor) run(ctx context.Context, originalRef string, msg queue.Message) (string, string, error) {
	src, err := p.objects.Get(ctx, originalRef)
	if err != nil {
		return "", StepFetch, fmt.Errorf("fetch original %s: %w", originalRef, err)
	}

	thumb, err := p.transformer.Transform(src, msg.Width, msg.Height, msg.Format)
	if err != nil {
		return "", StepTransform, err
	}

	ref, err := p.objects.Put(ctx, storage.ThumbnailKey(msg.JobID, msg.Format), thumb, msg.Format.ContentType())
	if err != nil {
		return "", StepStore, fmt.Errorf("store thumbnail: %w", err)
	}
	return ref, "", nil
}

func (p *Processor) finish(ctx context.Context, job *interfaces.Job, update interfaces.JobUpdate) error {
	if err := p.store.UpdateJob(ctx, job.ID, update); err != nil {
		return err
	}

	job.Status = update.Status
	job.ThumbnailRef = update.ThumbnailRef
	job.LeaseOwner = nil
	job.LeaseExpiresAt = nil
	if err := p.notifier.Notify(ctx, job); err != nil {
		logger.WithJobID(job.ID).Warn().Err(err).Msg("Failed to publish job status")
	}
	return nil
}

// finishFailed maps a failed terminal write. Losing the race to another
// worker is a duplicate, anything else must be retried.
func (p *Processor) finishFailed(res Result, err error) Result {
	if errors.Is(err, interfaces.ErrJobTerminal) {
		logger.WithJobID(res.JobID).Warn().Msg("Job finished elsewhere first")
		res.Outcome = OutcomeDuplicate
		res.ThumbnailRef = ""
		return res
	}
	if res.Err != nil {
		err = errors.Join(res.Err, err)
	}
	res.Outcome = OutcomeRetry
	res.Err = fmt.Errorf("record terminal status: %w", err)
	return res
}

// heartbeat extends the lease every third of its duration until the
// returned func is called.
func (p *Processor) heartbeat(ctx context.Context, jobID string) func() {
	interval := p.lease / 3
	if interval <= 0 {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := p.store.ExtendLease(ctx, jobID, p.owner, p.lease)
				if errors.Is(err, interfaces.ErrLeaseLost) {
					logger.WithJobID(jobID).Warn().Msg("Lease lost while processing")
					return
				}
				if err != nil && ctx.Err() == nil {
					logger.WithJobID(jobID).Warn().Err(err).Msg("Failed to extend lease")
				}
			}
		}
	}()

	return func() {
		cancel()
		wg.Wait()
	}
}
