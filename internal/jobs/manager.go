package jobs

import (
	"context"
	"fmt"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/mtr002/thumbnail-queue/internal/interfaces"
	"github.com/mtr002/thumbnail-queue/internal/logger"
	"github.com/mtr002/thumbnail-queue/internal/metrics"
	"github.com/mtr002/thumbnail-queue/internal/queue"
	"github.com/mtr002/thumbnail-queue/internal/storage"
)

// JobCache holds snapshots of terminal jobs
type JobCache interface {
	Get(ctx context.Context, id string) (*interfaces.Job, error)
	Store(ctx context.Context, job *interfaces.Job) error
}

// Manager handles submission and lookup of thumbnail jobs
type Manager struct {
	store   interfaces.JobStore
	objects interfaces.ObjectStore
	queue   queue.Queue
	cache   JobCache
}

func NewManager(store interfaces.JobStore, objects interfaces.ObjectStore, q queue.Queue) *Manager {
	return &Manager{
		store:   store,
		objects: objects,
		queue:   q,
	}
}

// WithCache makes GetJob consult cache before the store
func (m *Manager) WithCache(cache JobCache) *Manager {
	m.cache = cache
	return m
}

// SubmitJob stores the original, creates the job and enqueues it
func (m *Manager) SubmitJob(ctx context.Context, original []byte, req Request) (*interfaces.Job, error) {
	if len(original) == 0 {
		return nil, ErrEmptyUpload
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	log := logger.WithJobID(id)

	ref, err := m.objects.Put(ctx, storage.OriginalKey(id), original, mimetype.Detect(original).String())
	if err != nil {
		return nil, fmt.Errorf("failed to store original: %w", err)
	}

	job := &interfaces.Job{
		ID:          id,
		OriginalRef: ref,
		Width:       req.Width,
		Height:      req.Height,
		Format:      req.Format,
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	if err := m.queue.Enqueue(ctx, queue.MessageFor(job)); err != nil {
		// nothing will ever pick the job up, so close it out
		if updateErr := m.store.UpdateJob(ctx, id, interfaces.JobUpdate{Status: interfaces.StatusError}); updateErr != nil {
			log.Error().Err(updateErr).Msg("Failed to mark unqueued job as error")
		}
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	metrics.JobsSubmittedTotal.Inc()
	log.Info().
		Int("width", job.Width).
		Int("height", job.Height).
		Str("format", string(job.Format)).
		Msg("Job submitted successfully")
	return job, nil
}

// GetJob retrieves a job by ID
func (m *Manager) GetJob(ctx context.Context, id string) (*interfaces.Job, error) {
	if m.cache != nil {
		job, err := m.cache.Get(ctx, id)
		if err != nil {
			logger.WithJobID(id).Warn().Err(err).Msg("Job cache lookup failed")
		}
		if job != nil {
			return job, nil
		}
	}

	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	if m.cache != nil && job.Status.IsTerminal() {
		if err := m.cache.Store(ctx, job); err != nil {
			logger.WithJobID(id).Warn().Err(err).Msg("Failed to cache job")
		}
	}
	return job, nil
}

// GetAllJobs returns all jobs, newest first
func (m *Manager) GetAllJobs(ctx context.Context) ([]*interfaces.Job, error) {
	return m.store.GetAllJobs(ctx)
}

// OpenThumbnail returns the job with its thumbnail bytes. It fails with
// ErrThumbnailNotReady unless the job succeeded.
func (m *Manager) OpenThumbnail(ctx context.Context, id string) (*interfaces.Job, []byte, error) {
	job, err := m.GetJob(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if job.Status != interfaces.StatusSuccess || job.ThumbnailRef == nil {
		return job, nil, ErrThumbnailNotReady
	}

	data, err := m.objects.Get(ctx, *job.ThumbnailRef)
	if err != nil {
		return job, nil, fmt.Errorf("failed to load thumbnail: %w", err)
	}
	return job, data, nil
}
