package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtr002/thumbnail-queue/internal/interfaces"
)

func validMessage() Message {
	return Message{JobID: "job-1", Width: 100, Height: 50, Format: interfaces.FormatJPEG}
}

func TestMessage_Validate(t *testing.T) {
	assert.NoError(t, validMessage().Validate())

	bad := []Message{
		{Width: 1, Height: 1, Format: interfaces.FormatPNG},
		{JobID: "a", Width: 0, Height: 1, Format: interfaces.FormatPNG},
		{JobID: "a", Width: 1, Height: -3, Format: interfaces.FormatPNG},
		{JobID: "a", Width: 1, Height: 1, Format: "gif"},
	}
	for _, m := range bad {
		assert.ErrorIs(t, m.Validate(), ErrMalformedMessage, "%+v", m)
	}
}

func TestEncodeDecode(t *testing.T) {
	data, err := Encode(validMessage())
	require.NoError(t, err)
	assert.JSONEq(t, `{"job_id":"job-1","width":100,"height":50,"format":"jpeg"}`, string(data))

	m, err := Decode([]byte(`{"job_id":"x","width":3,"height":4,"format":"webp"}`))
	require.NoError(t, err)
	assert.Equal(t, Message{JobID: "x", Width: 3, Height: 4, Format: interfaces.FormatWEBP}, m)

	_, err = Decode([]byte(`{not json`))
	assert.ErrorIs(t, err, ErrMalformedMessage)

	_, err = Decode([]byte(`{"job_id":"x","width":3,"height":4,"format":"bmp"}`))
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestMessageFor(t *testing.T) {
	job := &interfaces.Job{ID: "j", Width: 10, Height: 20, Format: interfaces.FormatPNG}
	assert.Equal(t, Message{JobID: "j", Width: 10, Height: 20, Format: interfaces.FormatPNG}, MessageFor(job))
}

func receive(t *testing.T, ch <-chan Delivery) Delivery {
	t.Helper()
	select {
	case d, ok := <-ch:
		require.True(t, ok, "delivery channel closed")
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return nil
	}
}

func TestMemoryQueue_DeliverAndAck(t *testing.T) {
	q := NewMemoryQueue(10)
	defer q.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Enqueue(ctx, validMessage()))
	deliveries, err := q.Consume(ctx)
	require.NoError(t, err)

	d := receive(t, deliveries)
	assert.Equal(t, validMessage(), d.Message())
	assert.Equal(t, 1, d.Attempt())
	require.NoError(t, d.Ack())
	assert.ErrorIs(t, d.Ack(), ErrAlreadySettled)
	assert.ErrorIs(t, d.Nack(0), ErrAlreadySettled)
}

func TestMemoryQueue_NackRedelivers(t *testing.T) {
	q := NewMemoryQueue(10)
	defer q.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Enqueue(ctx, validMessage()))
	deliveries, err := q.Consume(ctx)
	require.NoError(t, err)

	first := receive(t, deliveries)
	require.NoError(t, first.Nack(10*time.Millisecond))

	second := receive(t, deliveries)
	assert.Equal(t, first.Message(), second.Message())
	assert.Equal(t, 2, second.Attempt())
	require.NoError(t, second.Nack(0))

	third := receive(t, deliveries)
	assert.Equal(t, 3, third.Attempt())
	require.NoError(t, third.Ack())
}

func TestMemoryQueue_RejectsInvalid(t *testing.T) {
	q := NewMemoryQueue(1)
	err := q.Enqueue(context.Background(), Message{})
	assert.ErrorIs(t, err, ErrMalformedMessage)
	assert.Equal(t, 0, q.Len())
}

func TestMemoryQueue_Close(t *testing.T) {
	q := NewMemoryQueue(1)
	deliveries, err := q.Consume(context.Background())
	require.NoError(t, err)

	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	select {
	case _, ok := <-deliveries:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("delivery channel not closed")
	}

	assert.ErrorIs(t, q.Enqueue(context.Background(), validMessage()), ErrClosed)
	_, err = q.Consume(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryQueue_EnqueueRespectsContext(t *testing.T) {
	q := NewMemoryQueue(1)
	defer q.Close()
	require.NoError(t, q.Enqueue(context.Background(), validMessage()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Enqueue(ctx, validMessage()), context.DeadlineExceeded)
}
