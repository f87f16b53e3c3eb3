package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/mtr002/thumbnail-queue/internal/interfaces"
)

// Client publishes job status events
type Client struct {
	conn *nats.Conn
}

func Connect(url string) (*nats.Conn, error) {
	if url == "" {
		url = nats.DefaultURL
	}

	conn, err := nats.Connect(url, nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

func NewClient(conn *nats.Conn) *Client {
	return &Client{conn: conn}
}

func (c *Client) PublishJobStatus(msg JobStatusMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal job status message: %w", err)
	}

	if err := c.conn.Publish(JobStatusSubject, data); err != nil {
		return fmt.Errorf("failed to publish job status: %w", err)
	}

	return nil
}

// Notify publishes the job's current status. It satisfies worker.Notifier.
func (c *Client) Notify(_ context.Context, job *interfaces.Job) error {
	return c.PublishJobStatus(StatusMessageFor(job))
}

func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
