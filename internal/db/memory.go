package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mtr002/thumbnail-queue/internal/interfaces"
)

// MemoryStore is a mutex-guarded JobStore for tests and single-process runs.
// Records are copied in and out so callers never share state with the store.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*interfaces.Job
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*interfaces.Job), now: time.Now}
}

// SetClock replaces the time source, for lease tests
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) CreateJob(_ context.Context, job *interfaces.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	job.Status = interfaces.StatusUploaded
	job.ThumbnailRef = nil
	job.CreatedAt = now
	job.UpdatedAt = now
	m.jobs[job.ID] = copyJob(job)
	return nil
}

func (m *MemoryStore) GetJob(_ context.Context, id string) (*interfaces.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, interfaces.JobNotFound(id)
	}
	return copyJob(job), nil
}

func (m *MemoryStore) GetAllJobs(_ context.Context) ([]*interfaces.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*interfaces.Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, copyJob(job))
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs, nil
}

func (m *MemoryStore) UpdateJob(_ context.Context, id string, update interfaces.JobUpdate) error {
	if err := update.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return interfaces.JobNotFound(id)
	}
	if !job.Status.CanTransitionTo(update.Status) {
		return interfaces.ErrJobTerminal
	}

	job.Status = update.Status
	job.ThumbnailRef = copyString(update.ThumbnailRef)
	job.LeaseOwner = nil
	job.LeaseExpiresAt = nil
	job.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) ClaimJob(_ context.Context, id, owner string, lease time.Duration) (*interfaces.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, interfaces.JobNotFound(id)
	}
	if job.Status.IsTerminal() {
		return nil, interfaces.ErrJobTerminal
	}

	now := m.now()
	if job.LeaseActive(now) && (job.LeaseOwner == nil || *job.LeaseOwner != owner) {
		return nil, interfaces.ErrLeaseHeld
	}

	expires := now.Add(lease)
	job.Status = interfaces.StatusProcessing
	job.LeaseOwner = &owner
	job.LeaseExpiresAt = &expires
	job.Attempts++
	job.UpdatedAt = now
	return copyJob(job), nil
}

func (m *MemoryStore) ExtendLease(_ context.Context, id, owner string, lease time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || job.Status != interfaces.StatusProcessing || job.LeaseOwner == nil || *job.LeaseOwner != owner {
		return interfaces.ErrLeaseLost
	}

	now := m.now()
	expires := now.Add(lease)
	job.LeaseExpiresAt = &expires
	job.UpdatedAt = now
	return nil
}

func (m *MemoryStore) GetStaleJobs(_ context.Context, now time.Time, limit int) ([]*interfaces.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stale []*interfaces.Job
	for _, job := range m.jobs {
		if job.Status == interfaces.StatusProcessing && job.LeaseExpiresAt != nil && job.LeaseExpiresAt.Before(now) {
			stale = append(stale, copyJob(job))
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].LeaseExpiresAt.Before(*stale[j].LeaseExpiresAt)
	})
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

func copyJob(job *interfaces.Job) *interfaces.Job {
	c := *job
	c.ThumbnailRef = copyString(job.ThumbnailRef)
	c.LeaseOwner = copyString(job.LeaseOwner)
	if job.LeaseExpiresAt != nil {
		t := *job.LeaseExpiresAt
		c.LeaseExpiresAt = &t
	}
	return &c
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
