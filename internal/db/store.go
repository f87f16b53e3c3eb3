package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/mtr002/thumbnail-queue/internal/interfaces"
)

const jobColumns = `id, status, original_ref, thumbnail_ref, width, height, format, attempts, lease_owner, lease_expires_at, created_at, updated_at`

// Store handles PostgreSQL persistence for thumbnail jobs
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a new database store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// validID reports whether id can match jobs.id. Anything else is a job that
// cannot exist, and must not reach Postgres as a uuid cast error.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*interfaces.Job, error) {
	job := &interfaces.Job{}
	var (
		thumbnailRef   sql.NullString
		leaseOwner     sql.NullString
		leaseExpiresAt sql.NullTime
	)

	err := row.Scan(
		&job.ID, &job.Status, &job.OriginalRef, &thumbnailRef, &job.Width, &job.Height, &job.Format,
		&job.Attempts, &leaseOwner, &leaseExpiresAt, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if thumbnailRef.Valid {
		job.ThumbnailRef = &thumbnailRef.String
	}
	if leaseOwner.Valid {
		job.LeaseOwner = &leaseOwner.String
	}
	if leaseExpiresAt.Valid {
		job.LeaseExpiresAt = &leaseExpiresAt.Time
	}
	return job, nil
}

// CreateJob inserts a new job. The status is always uploaded.
func (s *Store) CreateJob(ctx context.Context, job *interfaces.Job) error {
	now := s.now()
	job.Status = interfaces.StatusUploaded
	job.ThumbnailRef = nil
	job.CreatedAt = now
	job.UpdatedAt = now

	query := `
		INSERT INTO jobs (id, status, original_ref, width, height, format, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		job.ID, job.Status, job.OriginalRef, job.Width, job.Height, job.Format, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return interfaces.Transient("create job", err)
	}
	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(ctx context.Context, id string) (*interfaces.Job, error) {
	if !validID(id) {
		return nil, interfaces.JobNotFound(id)
	}
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.JobNotFound(id)
		}
		return nil, interfaces.Transient("get job", err)
	}
	return job, nil
}

// GetAllJobs retrieves all jobs, newest first
func (s *Store) GetAllJobs(ctx context.Context) ([]*interfaces.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at DESC`
	return s.queryJobs(ctx, "list jobs", query)
}

// UpdateJob performs a terminal transition. The WHERE clause only matches
// jobs that are not yet terminal, so status and thumbnail_ref change together
// or not at all.
func (s *Store) UpdateJob(ctx context.Context, id string, update interfaces.JobUpdate) error {
	if err := update.Validate(); err != nil {
		return err
	}
	if !validID(id) {
		return interfaces.JobNotFound(id)
	}

	query := `
		UPDATE jobs
		SET status = $2, thumbnail_ref = $3, lease_owner = NULL, lease_expires_at = NULL, updated_at = $4
		WHERE id = $1 AND status::text = ANY($5)
	`
	var ref sql.NullString
	if update.ThumbnailRef != nil {
		ref = sql.NullString{String: *update.ThumbnailRef, Valid: true}
	}

	result, err := s.db.ExecContext(ctx, query,
		id, update.Status, ref, s.now(), pq.Array(statusStrings(update.Status.Predecessors())))
	if err != nil {
		return interfaces.Transient("update job", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return interfaces.Transient("update job", err)
	}
	if rowsAffected == 0 {
		return s.explainMiss(ctx, id, interfaces.ErrJobTerminal)
	}
	return nil
}

// ClaimJob moves a job into processing and grants owner a lease. A job in
// processing can be claimed again once its lease has expired.
func (s *Store) ClaimJob(ctx context.Context, id, owner string, lease time.Duration) (*interfaces.Job, error) {
	if !validID(id) {
		return nil, interfaces.JobNotFound(id)
	}
	now := s.now()
	query := `
		UPDATE jobs
		SET status = 'processing', lease_owner = $2, lease_expires_at = $3, attempts = attempts + 1, updated_at = $4
		WHERE id = $1 AND (
			status = 'uploaded'
			OR (status = 'processing' AND (lease_expires_at IS NULL OR lease_expires_at < $4 OR lease_owner = $2))
		)
		RETURNING ` + jobColumns

	job, err := scanJob(s.db.QueryRowContext(ctx, query, id, owner, now.Add(lease), now))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.Transient("claim job", err)
	}
	return nil, s.explainMiss(ctx, id, interfaces.ErrLeaseHeld)
}

// ExtendLease pushes the lease expiry forward while owner still holds it
func (s *Store) ExtendLease(ctx context.Context, id, owner string, lease time.Duration) error {
	if !validID(id) {
		return interfaces.ErrLeaseLost
	}
	now := s.now()
	query := `
		UPDATE jobs SET lease_expires_at = $3, updated_at = $4
		WHERE id = $1 AND status = 'processing' AND lease_owner = $2
	`
	result, err := s.db.ExecContext(ctx, query, id, owner, now.Add(lease), now)
	if err != nil {
		return interfaces.Transient("extend lease", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return interfaces.Transient("extend lease", err)
	}
	if rowsAffected == 0 {
		return interfaces.ErrLeaseLost
	}
	return nil
}

// GetStaleJobs returns processing jobs whose lease expired before now
func (s *Store) GetStaleJobs(ctx context.Context, now time.Time, limit int) ([]*interfaces.Job, error) {
	query := `
		SELECT ` + jobColumns + ` FROM jobs
		WHERE status = 'processing' AND lease_expires_at < $1
		ORDER BY lease_expires_at ASC
		LIMIT $2
	`
	return s.queryJobs(ctx, "list stale jobs", query, now, limit)
}

// Ping verifies the connection, used by readiness checks
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) queryJobs(ctx context.Context, op, query string, args ...any) ([]*interfaces.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, interfaces.Transient(op, err)
	}
	defer rows.Close()

	var jobs []*interfaces.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, interfaces.Transient(op, fmt.Errorf("failed to scan job: %w", err))
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, interfaces.Transient(op, err)
	}
	return jobs, nil
}

// explainMiss tells apart a missing job, a terminal job and the fallback
// reason after a conditional statement matched no rows.
func (s *Store) explainMiss(ctx context.Context, id string, fallback error) error {
	var status interfaces.JobStatus
	err := s.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return interfaces.JobNotFound(id)
	}
	if err != nil {
		return interfaces.Transient("load job status", err)
	}
	if status.IsTerminal() {
		return interfaces.ErrJobTerminal
	}
	return fallback
}

func statusStrings(statuses []interfaces.JobStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
