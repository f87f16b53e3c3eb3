package nats

import (
	"github.com/mtr002/thumbnail-queue/internal/interfaces"
)

const (
	// JobStatusSubject carries terminal status changes from workers to API
	// instances
	JobStatusSubject = "jobs.status"
	// JobSubmitSubject is bound to the JetStream work queue
	JobSubmitSubject = "jobs.thumbnail"
)

type JobStatusMessage struct {
	JobID        string               `json:"job_id"`
	Status       interfaces.JobStatus `json:"status"`
	ThumbnailRef string               `json:"thumbnail_ref,omitempty"`
}

// StatusMessageFor snapshots a job for publishing
func StatusMessageFor(job *interfaces.Job) JobStatusMessage {
	msg := JobStatusMessage{JobID: job.ID, Status: job.Status}
	if job.ThumbnailRef != nil {
		msg.ThumbnailRef = *job.ThumbnailRef
	}
	return msg
}
