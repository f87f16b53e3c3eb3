// Package queue defines the job message, the Queue and Delivery contracts,
// and an in-process Queue. Broker backed implementations live in the
// subpackages and in internal/nats.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mtr002/thumbnail-queue/internal/interfaces"
)

var ErrMalformedMessage = errors.New("malformed queue message")

// Message asks a worker to derive the thumbnail of one job
type Message struct {
	JobID  string            `json:"job_id"`
	Width  int               `json:"width"`
	Height int               `json:"height"`
	Format interfaces.Format `json:"format"`
}

// MessageFor builds the message for a stored job
func MessageFor(job *interfaces.Job) Message {
	return Message{JobID: job.ID, Width: job.Width, Height: job.Height, Format: job.Format}
}

func (m Message) Validate() error {
	if m.JobID == "" {
		return fmt.Errorf("%w: empty job_id", ErrMalformedMessage)
	}
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("%w: dimensions %dx%d", ErrMalformedMessage, m.Width, m.Height)
	}
	if !m.Format.IsValid() {
		return fmt.Errorf("%w: format %q", ErrMalformedMessage, m.Format)
	}
	return nil
}

func Encode(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// Decode parses and validates a wire payload. Every failure wraps
// ErrMalformedMessage.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}
