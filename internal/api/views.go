package api

import (
	"net/http"

	"github.com/mtr002/thumbnail-queue/internal/interfaces"
)

// Action is a link to something the client can do with a job
type Action struct {
	Name   string `json:"name"`
	Method string `json:"method"`
	Href   string `json:"href"`
	Type   string `json:"type"`
}

// JobView is the public representation of a job
type JobView struct {
	ID      string               `json:"id"`
	Status  interfaces.JobStatus `json:"status"`
	Width   int                  `json:"width"`
	Height  int                  `json:"height"`
	Format  interfaces.Format    `json:"format"`
	Actions []Action             `json:"actions"`
}

// NewJobView builds the view with absolute links rooted at origin
func NewJobView(job *interfaces.Job, origin string) JobView {
	actions := []Action{{
		Name:   "View Details",
		Method: http.MethodGet,
		Href:   origin + "/jobs/" + job.ID,
		Type:   "application/json",
	}}
	if job.Status == interfaces.StatusSuccess {
		actions = append(actions, Action{
			Name:   "Download",
			Method: http.MethodGet,
			Href:   origin + "/jobs/" + job.ID + "/download",
			Type:   "application/octet-stream",
		})
	}

	return JobView{
		ID:      job.ID,
		Status:  job.Status,
		Width:   job.Width,
		Height:  job.Height,
		Format:  job.Format,
		Actions: actions,
	}
}

func requestOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}
