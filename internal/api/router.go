package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mtr002/thumbnail-queue/internal/interfaces"
	"github.com/mtr002/thumbnail-queue/internal/jobs"
	"github.com/mtr002/thumbnail-queue/internal/logger"
	"github.com/mtr002/thumbnail-queue/internal/websocket"
)

// JobService is what the HTTP layer needs from jobs.Manager
type JobService interface {
	SubmitJob(ctx context.Context, original []byte, req jobs.Request) (*interfaces.Job, error)
	GetJob(ctx context.Context, id string) (*interfaces.Job, error)
	GetAllJobs(ctx context.Context) ([]*interfaces.Job, error)
	OpenThumbnail(ctx context.Context, id string) (*interfaces.Job, []byte, error)
}

type ctxKey string

const correlationIDKey ctxKey = "correlation_id"

// Handler serves the job endpoints
type Handler struct {
	jobs      JobService
	hub       *websocket.Hub
	validator *validator.Validate
	maxUpload int64
}

func NewHandler(jobs JobService, hub *websocket.Hub) *Handler {
	return &Handler{
		jobs:      jobs,
		hub:       hub,
		validator: validator.New(),
		maxUpload: 20 << 20,
	}
}

// NewRouter wires job, health, metrics and websocket routes
func NewRouter(h *Handler, checks map[string]Pinger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(correlationMiddleware)
	r.Use(requestLogger)

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", h.handleCreateJob)
		r.Get("/", h.handleListJobs)
		r.Get("/{id}", h.handleGetJob)
		r.Get("/{id}/download", h.handleDownload)
	})

	if h.hub != nil {
		r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
			websocket.HandleWebSocket(h.hub, w, r)
		})
	}
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", HandleHealth)
	r.Get("/health/ready", HandleReadiness(checks))
	r.Get("/health/live", HandleLiveness)

	return r
}

func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		w.Header().Set("X-Correlation-ID", correlationID)
		ctx := context.WithValue(r.Context(), correlationIDKey, correlationID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.WithCorrelationID(getCorrelationID(r.Context())).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("Handled request")
	})
}

func getCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}
