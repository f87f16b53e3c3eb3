package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue backed by a buffered channel. Nacked
// messages come back after their delay with the attempt counter raised.
type MemoryQueue struct {
	ch        chan *memoryDelivery
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryQueue{
		ch:     make(chan *memoryDelivery, capacity),
		done:   make(chan struct{}),
		timers: make(map[*time.Timer]struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	return q.push(ctx, msg, 1)
}

func (q *MemoryQueue) push(ctx context.Context, msg Message, attempt int) error {
	d := &memoryDelivery{queue: q, msg: msg, attempt: attempt}
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.ch <- d:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Consume(ctx context.Context) (<-chan Delivery, error) {
	select {
	case <-q.done:
		return nil, ErrClosed
	default:
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-q.done:
				return
			case d := <-q.ch:
				select {
				case out <- d:
				case <-ctx.Done():
					// hand it back so another consumer can take it
					q.requeue(d.msg, d.attempt, 0)
					return
				case <-q.done:
					return
				}
			}
		}
	}()
	return out, nil
}

// Len is the number of messages ready for delivery
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() {
		close(q.done)
		q.mu.Lock()
		for t := range q.timers {
			t.Stop()
		}
		q.timers = nil
		q.mu.Unlock()
	})
	return nil
}

func (q *MemoryQueue) requeue(msg Message, attempt int, delay time.Duration) {
	if delay <= 0 {
		go q.push(context.Background(), msg, attempt)
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.timers == nil {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		q.mu.Lock()
		if q.timers != nil {
			delete(q.timers, t)
		}
		q.mu.Unlock()
		_ = q.push(context.Background(), msg, attempt)
	})
	q.timers[t] = struct{}{}
}

type memoryDelivery struct {
	queue   *MemoryQueue
	msg     Message
	attempt int

	mu      sync.Mutex
	settled bool
}

func (d *memoryDelivery) Message() Message { return d.msg }
func (d *memoryDelivery) Attempt() int     { return d.attempt }

func (d *memoryDelivery) Ack() error {
	return d.settle()
}

func (d *memoryDelivery) Nack(delay time.Duration) error {
	if err := d.settle(); err != nil {
		return err
	}
	d.queue.requeue(d.msg, d.attempt+1, delay)
	return nil
}

func (d *memoryDelivery) settle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return ErrAlreadySettled
	}
	d.settled = true
	return nil
}
