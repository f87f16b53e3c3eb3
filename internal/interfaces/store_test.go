package interfaces

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		ok       bool
	}{
		{StatusUploaded, StatusProcessing, true},
		{StatusProcessing, StatusProcessing, true},
		{StatusUploaded, StatusSuccess, true},
		{StatusProcessing, StatusSuccess, true},
		{StatusProcessing, StatusError, true},
		{StatusSuccess, StatusError, false},
		{StatusError, StatusSuccess, false},
		{StatusSuccess, StatusProcessing, false},
		{StatusError, StatusUploaded, false},
		{StatusProcessing, StatusUploaded, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestJobStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusUploaded.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
	assert.True(t, StatusSuccess.IsTerminal())
	assert.True(t, StatusError.IsTerminal())
	assert.False(t, JobStatus("pending").IsValid())
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("jpg")
	require.NoError(t, err)
	assert.Equal(t, FormatJPEG, f)

	f, err = ParseFormat("webp")
	require.NoError(t, err)
	assert.Equal(t, "image/webp", f.ContentType())

	_, err = ParseFormat("gif")
	assert.Error(t, err)
}

func TestJobUpdate_Validate(t *testing.T) {
	ref := "thumbnails/a/b.jpeg"
	empty := ""

	assert.NoError(t, JobUpdate{Status: StatusSuccess, ThumbnailRef: &ref}.Validate())
	assert.NoError(t, JobUpdate{Status: StatusError}.Validate())

	assert.ErrorIs(t, JobUpdate{Status: StatusSuccess}.Validate(), ErrInvalidUpdate)
	assert.ErrorIs(t, JobUpdate{Status: StatusSuccess, ThumbnailRef: &empty}.Validate(), ErrInvalidUpdate)
	assert.ErrorIs(t, JobUpdate{Status: StatusError, ThumbnailRef: &ref}.Validate(), ErrInvalidUpdate)
	assert.ErrorIs(t, JobUpdate{Status: StatusProcessing}.Validate(), ErrInvalidUpdate)
}

func TestJob_LeaseActive(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Minute)
	past := now.Add(-time.Minute)

	job := &Job{Status: StatusProcessing, LeaseExpiresAt: &future}
	assert.True(t, job.LeaseActive(now))

	job.LeaseExpiresAt = &past
	assert.False(t, job.LeaseActive(now))

	job.Status = StatusUploaded
	job.LeaseExpiresAt = &future
	assert.False(t, job.LeaseActive(now))
}

func TestNotFoundError_Is(t *testing.T) {
	err := fmt.Errorf("load: %w", JobNotFound("x"))
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.NotErrorIs(t, err, ErrObjectNotFound)

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "x", nf.ID)
}

func TestTransient(t *testing.T) {
	assert.Nil(t, Transient("get", nil))

	err := Transient("get object", errors.New("connection reset"))
	assert.True(t, IsTransient(err))
	assert.Contains(t, err.Error(), "get object")

	nf := Transient("get object", ObjectNotFound("k"))
	assert.False(t, IsTransient(nf))
	assert.ErrorIs(t, nf, ErrObjectNotFound)
}
