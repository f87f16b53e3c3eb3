package interfaces

import (
	"context"
	"fmt"
	"time"
)

// JobStatus represents the current state of a thumbnail job
type JobStatus string

const (
	StatusUploaded   JobStatus = "uploaded"
	StatusProcessing JobStatus = "processing"
	StatusSuccess    JobStatus = "success"
	StatusError      JobStatus = "error"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []JobStatus{
	StatusUploaded,
	StatusProcessing,
	StatusSuccess,
	StatusError,
}

// IsTerminal reports whether no further transitions are permitted.
func (s JobStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusError
}

// IsValid reports whether s is one of the known statuses.
func (s JobStatus) IsValid() bool {
	for _, status := range AllStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Predecessors returns the statuses a job may be in before moving to s.
func (s JobStatus) Predecessors() []JobStatus {
	switch s {
	case StatusProcessing:
		return []JobStatus{StatusUploaded, StatusProcessing}
	case StatusSuccess, StatusError:
		return []JobStatus{StatusUploaded, StatusProcessing}
	default:
		return nil
	}
}

// CanTransitionTo reports whether moving from s to next is allowed.
// processing -> processing is permitted so an expired lease can be taken over.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, from := range next.Predecessors() {
		if from == s {
			return true
		}
	}
	return false
}

// Format is the encoding of a generated thumbnail
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWEBP Format = "webp"
)

// ParseFormat maps a user supplied name onto a Format. "jpg" is accepted as an alias.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJPEG, FormatPNG, FormatWEBP:
		return Format(s), nil
	case "jpg":
		return FormatJPEG, nil
	}
	return "", fmt.Errorf("unsupported format %q", s)
}

// IsValid reports whether f is one of the supported output formats.
func (f Format) IsValid() bool {
	return f == FormatJPEG || f == FormatPNG || f == FormatWEBP
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatWEBP:
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

// Job is one image-to-thumbnail conversion request and its lifecycle state
type Job struct {
	ID             string     `json:"id"`
	Status         JobStatus  `json:"status"`
	OriginalRef    string     `json:"original_ref"`
	ThumbnailRef   *string    `json:"thumbnail_ref,omitempty"`
	Width          int        `json:"width"`
	Height         int        `json:"height"`
	Format         Format     `json:"format"`
	Attempts       int        `json:"attempts"`
	LeaseOwner     *string    `json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// String returns a string representation of the job
func (j *Job) String() string {
	return fmt.Sprintf("Job{ID: %s, Status: %s, Size: %dx%d, Format: %s, Attempts: %d}",
		j.ID, j.Status, j.Width, j.Height, j.Format, j.Attempts)
}

// LeaseActive returns true if another worker currently holds the processing lease
func (j *Job) LeaseActive(now time.Time) bool {
	if j.Status != StatusProcessing || j.LeaseExpiresAt == nil {
		return false
	}
	return now.Before(*j.LeaseExpiresAt)
}

// JobUpdate is the payload of a status transition.
type JobUpdate struct {
	Status       JobStatus
	ThumbnailRef *string
}

// Validate checks the thumbnail_ref <=> success invariant.
func (u JobUpdate) Validate() error {
	switch u.Status {
	case StatusSuccess:
		if u.ThumbnailRef == nil || *u.ThumbnailRef == "" {
			return fmt.Errorf("%w: success requires a thumbnail reference", ErrInvalidUpdate)
		}
	case StatusError:
		if u.ThumbnailRef != nil {
			return fmt.Errorf("%w: error must clear the thumbnail reference", ErrInvalidUpdate)
		}
	default:
		return fmt.Errorf("%w: %q is not a terminal status", ErrInvalidUpdate, u.Status)
	}
	return nil
}

// JobStore interface defines the persistence operations used by the pipeline
type JobStore interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	GetAllJobs(ctx context.Context) ([]*Job, error)
	UpdateJob(ctx context.Context, id string, update JobUpdate) error
	ClaimJob(ctx context.Context, id, owner string, lease time.Duration) (*Job, error)
	ExtendLease(ctx context.Context, id, owner string, lease time.Duration) error
	GetStaleJobs(ctx context.Context, now time.Time, limit int) ([]*Job, error)
}

// ObjectStore holds original and thumbnail blobs addressed by key
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}
