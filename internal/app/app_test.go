package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtr002/thumbnail-queue/internal/config"
	"github.com/mtr002/thumbnail-queue/internal/interfaces"
	"github.com/mtr002/thumbnail-queue/internal/queue"
	"github.com/mtr002/thumbnail-queue/internal/websocket"
)

func memoryConfig() *config.Config {
	return &config.Config{
		StoreBackend:   "memory",
		StorageBackend: "memory",
		QueueBackend:   "memory",
		QueueName:      "thumbnail_jobs",
		WorkerCount:    2,
		MaxAttempts:    3,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  10 * time.Millisecond,
		LeaseDuration:  time.Minute,
		ReaperInterval: time.Hour,
	}
}

func TestOpen_MemoryBackends(t *testing.T) {
	b, err := Open(context.Background(), memoryConfig(), "test")
	require.NoError(t, err)
	defer b.Close()

	assert.NotNil(t, b.Store)
	assert.NotNil(t, b.Objects)
	assert.IsType(t, &queue.MemoryQueue{}, b.Queue)
	assert.Nil(t, b.NATS)
	assert.Nil(t, b.Redis)
	assert.Nil(t, b.Cache(memoryConfig()))

	checks := b.Checks()
	assert.Contains(t, checks, "database")
	assert.Contains(t, checks, "storage")
	for name, c := range checks {
		assert.NoError(t, c.Ping(context.Background()), name)
	}
}

func TestRunWorkers_ProcessesUntilCancelled(t *testing.T) {
	cfg := memoryConfig()
	b, err := Open(context.Background(), cfg, "test")
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunWorkers(ctx, cfg, b, "owner-1", nil) }()

	// unknown job: rejected and acked without touching the store
	require.NoError(t, b.Queue.Enqueue(ctx, queue.Message{JobID: "missing", Width: 1, Height: 1, Format: interfaces.FormatPNG}))
	mq := b.Queue.(*queue.MemoryQueue)
	assert.Eventually(t, func() bool { return mq.Len() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not stop")
	}
}

func TestStreamName(t *testing.T) {
	assert.Equal(t, "thumbnail_jobs", streamName("thumbnail_jobs"))
	assert.Equal(t, "jobs_thumbnail", streamName("jobs.thumbnail"))
}

func TestInstanceID_Unique(t *testing.T) {
	assert.NotEqual(t, InstanceID(), InstanceID())
}

func TestHubNotifier_DoesNotBlockWithoutClients(t *testing.T) {
	hub := websocket.NewHub()
	ref := "thumbnails/a/b.png"
	err := HubNotifier{Hub: hub}.Notify(context.Background(), &interfaces.Job{
		ID: "a", Status: interfaces.StatusSuccess, ThumbnailRef: &ref,
	})
	assert.NoError(t, err)
}

func TestRunWorkers_FailsWhenDeliveriesStop(t *testing.T) {
	cfg := memoryConfig()
	b, err := Open(context.Background(), cfg, "test")
	require.NoError(t, err)
	defer b.Close()

	done := make(chan error, 1)
	go func() { done <- RunWorkers(context.Background(), cfg, b, "owner-1", nil) }()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.Queue.Close())

	select {
	case err := <-done:
		assert.ErrorContains(t, err, "delivery channel closed")
	case <-time.After(2 * time.Second):
		t.Fatal("RunWorkers kept running after the delivery channel closed")
	}
}
