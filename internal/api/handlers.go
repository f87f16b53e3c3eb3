package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/mtr002/thumbnail-queue/internal/interfaces"
	"github.com/mtr002/thumbnail-queue/internal/jobs"
	"github.com/mtr002/thumbnail-queue/internal/logger"
	"github.com/mtr002/thumbnail-queue/internal/websocket"
)

var allowedMIMEs = map[string]struct{}{
	"image/png":  {},
	"image/jpeg": {},
	"image/webp": {},
}

func (h *Handler) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	log := logger.WithCorrelationID(getCorrelationID(r.Context()))

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		writeMultipartError(w, err)
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, `missing image file: form field key should be "file"`, http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSONError(w, "failed to read upload", http.StatusBadRequest)
		return
	}

	mime := mimetype.Detect(data)
	if _, ok := allowedMIMEs[mime.String()]; !ok {
		writeJSONError(w, fmt.Sprintf("unsupported file type: %s", mime.String()), http.StatusBadRequest)
		return
	}

	req, err := parseRequest(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, validationErrorsToMap(err))
		return
	}

	job, err := h.jobs.SubmitJob(r.Context(), data, req)
	if err != nil {
		if errors.Is(err, jobs.ErrInvalidRequest) || errors.Is(err, jobs.ErrEmptyUpload) {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Error().Err(err).Msg("Failed to submit job")
		writeJSONError(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	view := NewJobView(job, requestOrigin(r))
	writeJSON(w, http.StatusCreated, view)

	log.Info().Str("job_id", job.ID).Str("mime", mime.String()).Msg("Job submitted")
	if h.hub != nil {
		websocket.BroadcastJobUpdate(h.hub, view)
	}
}

// parseRequest reads optional width, height and format form fields over
// the defaults
func parseRequest(r *http.Request) (jobs.Request, error) {
	req := jobs.DefaultRequest()

	if v := r.FormValue("width"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, fmt.Errorf("invalid width %q", v)
		}
		req.Width = n
	}
	if v := r.FormValue("height"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, fmt.Errorf("invalid height %q", v)
		}
		req.Height = n
	}
	if v := r.FormValue("format"); v != "" {
		f, err := interfaces.ParseFormat(v)
		if err != nil {
			return req, err
		}
		req.Format = f
	}
	return req, nil
}

func (h *Handler) handleListJobs(w http.ResponseWriter, r *http.Request) {
	list, err := h.jobs.GetAllJobs(r.Context())
	if err != nil {
		logger.WithCorrelationID(getCorrelationID(r.Context())).Error().Err(err).Msg("Failed to get all jobs")
		writeJSONError(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	origin := requestOrigin(r)
	views := make([]JobView, 0, len(list))
	for _, job := range list {
		views = append(views, NewJobView(job, origin))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}

	job, err := h.jobs.GetJob(r.Context(), id)
	if err != nil {
		h.writeLookupError(w, r, id, err)
		return
	}
	writeJSON(w, http.StatusOK, NewJobView(job, requestOrigin(r)))
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}

	job, data, err := h.jobs.OpenThumbnail(r.Context(), id)
	if err != nil {
		h.writeLookupError(w, r, id, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.%s"`, job.ID, job.Format))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) jobID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if err := h.validator.Var(id, "required,uuid"); err != nil {
		writeJSONError(w, "job id must be a UUID", http.StatusBadRequest)
		return "", false
	}
	return id, true
}

func (h *Handler) writeLookupError(w http.ResponseWriter, r *http.Request, id string, err error) {
	switch {
	case errors.Is(err, interfaces.ErrJobNotFound),
		errors.Is(err, interfaces.ErrObjectNotFound),
		errors.Is(err, jobs.ErrThumbnailNotReady):
		writeJSONError(w, "Not Found", http.StatusNotFound)
	default:
		logger.WithCorrelationID(getCorrelationID(r.Context())).Error().Err(err).Str("job_id", id).Msg("Job lookup failed")
		writeJSONError(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func writeMultipartError(w http.ResponseWriter, err error) {
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "too large"):
		writeJSONError(w, "uploaded file exceeds maximum allowed size", http.StatusRequestEntityTooLarge)
	case strings.Contains(msg, "multipart"):
		writeJSONError(w, "invalid content type, expected multipart/form-data", http.StatusBadRequest)
	default:
		writeJSONError(w, err.Error(), http.StatusBadRequest)
	}
}

func validationErrorsToMap(err error) map[string]string {
	errs := map[string]string{}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		errs["error"] = err.Error()
		return errs
	}
	for _, e := range verrs {
		field := strings.ToLower(e.Field())
		switch e.Tag() {
		case "required":
			errs[field] = "is required"
		case "gte", "lte":
			errs[field] = "out of allowed range"
		default:
			errs[field] = "invalid value"
		}
	}
	return errs
}
