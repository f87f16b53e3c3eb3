package queue

import (
	"context"
	"errors"
	"time"
)

var (
	ErrClosed         = errors.New("queue closed")
	ErrAlreadySettled = errors.New("delivery already acked or nacked")
)

// Queue is an at-least-once job queue
type Queue interface {
	Enqueue(ctx context.Context, msg Message) error
	// Consume streams deliveries until ctx is cancelled or the queue is
	// closed, then closes the channel.
	Consume(ctx context.Context) (<-chan Delivery, error)
	Close() error
}

// Delivery is one receipt of a message. Exactly one of Ack or Nack must be
// called.
type Delivery interface {
	Message() Message
	// Attempt is 1 on first delivery and grows with every Nack.
	Attempt() int
	Ack() error
	// Nack hands the message back for redelivery after delay.
	Nack(delay time.Duration) error
}
