package nats

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtr002/thumbnail-queue/internal/interfaces"
)

func TestStatusMessageFor(t *testing.T) {
	ref := "thumbnails/a/1.png"
	msg := StatusMessageFor(&interfaces.Job{ID: "a", Status: interfaces.StatusSuccess, ThumbnailRef: &ref})
	assert.Equal(t, JobStatusMessage{JobID: "a", Status: interfaces.StatusSuccess, ThumbnailRef: ref}, msg)

	data, err := json.Marshal(StatusMessageFor(&interfaces.Job{ID: "b", Status: interfaces.StatusError}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"job_id":"b","status":"error"}`, string(data))
}
