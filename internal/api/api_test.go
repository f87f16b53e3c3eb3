package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/color"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtr002/thumbnail-queue/internal/db"
	"github.com/mtr002/thumbnail-queue/internal/interfaces"
	"github.com/mtr002/thumbnail-queue/internal/jobs"
	"github.com/mtr002/thumbnail-queue/internal/queue"
	"github.com/mtr002/thumbnail-queue/internal/storage"
)

type testEnv struct {
	router  http.Handler
	store   *db.MemoryStore
	objects *storage.MemoryStore
	queue   *queue.MemoryQueue
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := db.NewMemoryStore()
	objects := storage.NewMemoryStore()
	q := queue.NewMemoryQueue(10)
	t.Cleanup(func() { q.Close() })

	manager := jobs.NewManager(store, objects, q)
	router := NewRouter(NewHandler(manager, nil), map[string]Pinger{"database": store})
	return &testEnv{router: router, store: store, objects: objects, queue: q}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, imaging.New(20, 10, color.NRGBA{B: 255, A: 255}), imaging.PNG))
	return buf.Bytes()
}

func uploadRequest(t *testing.T, file []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if file != nil {
		fw, err := mw.CreateFormFile("file", "upload.bin")
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/jobs", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestCreateJob_Defaults(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(uploadRequest(t, pngBytes(t), nil))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var view JobView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, interfaces.StatusUploaded, view.Status)
	assert.Equal(t, 100, view.Width)
	assert.Equal(t, 100, view.Height)
	assert.Equal(t, interfaces.FormatJPEG, view.Format)
	require.Len(t, view.Actions, 1)
	assert.Equal(t, "View Details", view.Actions[0].Name)
	assert.Equal(t, "http://example.com/jobs/"+view.ID, view.Actions[0].Href)

	assert.Equal(t, 1, env.queue.Len())
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))

	ct, ok := env.objects.ContentType(storage.OriginalKey(view.ID))
	assert.True(t, ok)
	assert.Equal(t, "image/png", ct)
}

func TestCreateJob_CustomParameters(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(uploadRequest(t, pngBytes(t), map[string]string{"width": "64", "height": "32", "format": "webp"}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var view JobView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, 64, view.Width)
	assert.Equal(t, 32, view.Height)
	assert.Equal(t, interfaces.FormatWEBP, view.Format)
}

func TestCreateJob_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		file   []byte
		fields map[string]string
	}{
		{name: "missing file", file: nil},
		{name: "not an image", file: []byte("hello world, plain text")},
		{name: "zero width", file: pngBytes(t), fields: map[string]string{"width": "0"}},
		{name: "huge height", file: pngBytes(t), fields: map[string]string{"height": "5000"}},
		{name: "bad number", file: pngBytes(t), fields: map[string]string{"width": "wide"}},
		{name: "bad format", file: pngBytes(t), fields: map[string]string{"format": "gif"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(uploadRequest(t, tt.file, tt.fields))
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
	assert.Equal(t, 0, env.queue.Len())
}

func TestCreateJob_NotMultipart(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewBufferString(`{"type":"x"}`))
	req.Header.Set("Content-Type", "application/json")

	rec := env.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := uuid.NewString()
	require.NoError(t, env.store.CreateJob(ctx, &interfaces.Job{
		ID: id, OriginalRef: storage.OriginalKey(id), Width: 10, Height: 10, Format: interfaces.FormatPNG,
	}))

	rec := env.do(httptest.NewRequest(http.MethodGet, "/jobs/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var view JobView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, id, view.ID)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/jobs/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/jobs/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListJobs(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/jobs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	env.do(uploadRequest(t, pngBytes(t), nil))
	env.do(uploadRequest(t, pngBytes(t), nil))

	rec = env.do(httptest.NewRequest(http.MethodGet, "/jobs", nil))
	var views []JobView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	assert.Len(t, views, 2)
}

func TestDownload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := uuid.NewString()
	require.NoError(t, env.store.CreateJob(ctx, &interfaces.Job{
		ID: id, OriginalRef: storage.OriginalKey(id), Width: 10, Height: 10, Format: interfaces.FormatPNG,
	}))

	rec := env.do(httptest.NewRequest(http.MethodGet, "/jobs/"+id+"/download", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "not ready yet")

	ref, err := env.objects.Put(ctx, storage.ThumbnailKey(id, interfaces.FormatPNG), []byte("thumb-bytes"), "image/png")
	require.NoError(t, err)
	require.NoError(t, env.store.UpdateJob(ctx, id, interfaces.JobUpdate{Status: interfaces.StatusSuccess, ThumbnailRef: &ref}))

	rec = env.do(httptest.NewRequest(http.MethodGet, "/jobs/"+id+"/download", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "thumb-bytes", rec.Body.String())
	assert.Equal(t, `attachment; filename="`+id+`.png"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))

	rec = env.do(httptest.NewRequest(http.MethodGet, "/jobs/"+id, nil))
	var view JobView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Len(t, view.Actions, 2)
	assert.Equal(t, "Download", view.Actions[1].Name)
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("down") }

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		rec := env.do(httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	router := NewRouter(NewHandler(nil, nil), map[string]Pinger{"database": downPinger{}})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "disconnected", resp.Checks["database"])
}

func TestCorrelationIDIsEchoed(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")

	rec := env.do(req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Correlation-ID"))
}
