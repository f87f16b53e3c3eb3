package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtr002/thumbnail-queue/internal/interfaces"
)

func TestJobCache_Key(t *testing.T) {
	c := NewJobCache("thumbs", nil, time.Minute)
	assert.Equal(t, "thumbs:job:abc", c.key("abc"))
}

func TestJobCache_SkipsNonTerminal(t *testing.T) {
	// a nil client would panic if Store tried to reach Redis
	c := NewJobCache("thumbs", nil, time.Minute)
	for _, status := range []interfaces.JobStatus{interfaces.StatusUploaded, interfaces.StatusProcessing} {
		assert.NoError(t, c.Store(context.Background(), &interfaces.Job{ID: "a", Status: status}))
	}
}

func TestJobCache_UnreachableRedis(t *testing.T) {
	rc := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
	defer rc.Close()
	c := NewJobCache("thumbs", rc, time.Minute)

	job, err := c.Get(context.Background(), "a")
	require.Error(t, err)
	assert.Nil(t, job)
}
