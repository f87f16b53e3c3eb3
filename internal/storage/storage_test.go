package storage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtr002/thumbnail-queue/internal/interfaces"
)

func TestMemoryStore_PutGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	data := []byte("image-bytes")
	ref, err := store.Put(ctx, "originals/a", data, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "originals/a", ref)

	// the store keeps its own copy
	data[0] = 'X'

	got, err := store.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("image-bytes"), got)

	ct, ok := store.ContentType(ref)
	assert.True(t, ok)
	assert.Equal(t, "image/png", ct)
	assert.Equal(t, []string{"originals/a"}, store.Keys())
}

func TestMemoryStore_GetMissing(t *testing.T) {
	_, err := NewMemoryStore().Get(context.Background(), "nope")
	assert.ErrorIs(t, err, interfaces.ErrObjectNotFound)
	assert.False(t, interfaces.IsTransient(err))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "originals/job-1", OriginalKey("job-1"))

	first := ThumbnailKey("job-1", interfaces.FormatWEBP)
	second := ThumbnailKey("job-1", interfaces.FormatWEBP)
	assert.True(t, strings.HasPrefix(first, "thumbnails/job-1/"))
	assert.True(t, strings.HasSuffix(first, ".webp"))
	assert.NotEqual(t, first, second)
}

func TestMinioErrorClassification(t *testing.T) {
	s := &MinioStore{bucket: "b"}

	notFound := minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}
	assert.ErrorIs(t, s.classify("k", notFound), interfaces.ErrObjectNotFound)

	err := s.classify("k", errors.New("connection reset"))
	assert.True(t, interfaces.IsTransient(err))
}
