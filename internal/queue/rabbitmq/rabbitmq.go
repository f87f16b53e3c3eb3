// Package rabbitmq implements queue.Queue on a durable RabbitMQ queue.
//
// Delayed redelivery uses one holding queue per delay. Holding queues have a
// message TTL and dead-letter back into the work queue, so a nacked message
// survives a worker restart.
package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/mtr002/thumbnail-queue/internal/logger"
	"github.com/mtr002/thumbnail-queue/internal/queue"
)

const attemptHeader = "x-attempt"

type Queue struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	name    string

	mu      sync.Mutex
	delayed map[time.Duration]string
}

// New connects, declares the work queue and limits unacked deliveries per
// consumer to prefetch.
func New(url, name string, prefetch int) (*Queue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		name,  // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("failed to set qos: %w", err)
		}
	}

	logger.Logger.Info().Str("queue", name).Msg("RabbitMQ queue initialized")
	return &Queue{conn: conn, channel: ch, name: name, delayed: make(map[time.Duration]string)}, nil
}

func (q *Queue) Enqueue(ctx context.Context, msg queue.Message) error {
	body, err := queue.Encode(msg)
	if err != nil {
		return err
	}
	return q.publish(ctx, q.name, body, 1)
}

func (q *Queue) publish(ctx context.Context, routingKey string, body []byte, attempt int) error {
	err := q.channel.PublishWithContext(ctx,
		"",         // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Headers:      amqp.Table{attemptHeader: int32(attempt)},
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// delayQueue declares, once per delay, a holding queue that dead-letters
// into the work queue after delay.
func (q *Queue) delayQueue(delay time.Duration) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if name, ok := q.delayed[delay]; ok {
		return name, nil
	}

	name := fmt.Sprintf("%s.delay.%d", q.name, delay.Milliseconds())
	_, err := q.channel.QueueDeclare(name, true, false, false, false, amqp.Table{
		"x-message-ttl":             delay.Milliseconds(),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": q.name,
	})
	if err != nil {
		return "", fmt.Errorf("failed to declare delay queue: %w", err)
	}
	q.delayed[delay] = name
	return name, nil
}

func (q *Queue) Consume(ctx context.Context) (<-chan queue.Delivery, error) {
	msgs, err := q.channel.ConsumeWithContext(ctx,
		q.name, // queue
		"",     // consumer
		false,  // auto-ack
		false,  // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}

	out := make(chan queue.Delivery)
	go func() {
		defer close(out)
		for d := range msgs {
			msg, err := queue.Decode(d.Body)
			if err != nil {
				logger.Logger.Error().Err(err).Str("queue", q.name).Msg("Discarding malformed message")
				_ = d.Reject(false)
				continue
			}

			select {
			case out <- &delivery{queue: q, raw: d, msg: msg, attempt: attemptOf(d.Headers)}:
			case <-ctx.Done():
				_ = d.Nack(false, true)
				return
			}
		}
	}()
	return out, nil
}

func (q *Queue) Close() error {
	if q.channel != nil {
		if err := q.channel.Close(); err != nil {
			logger.Logger.Warn().Err(err).Msg("Error closing channel")
		}
	}
	if q.conn != nil {
		if err := q.conn.Close(); err != nil {
			logger.Logger.Warn().Err(err).Msg("Error closing connection")
		}
	}
	return nil
}

type delivery struct {
	queue   *Queue
	raw     amqp.Delivery
	msg     queue.Message
	attempt int
}

func (d *delivery) Message() queue.Message { return d.msg }
func (d *delivery) Attempt() int           { return d.attempt }

func (d *delivery) Ack() error {
	return d.raw.Ack(false)
}

// Nack republishes the message with a raised attempt counter and acks the
// original. The republish comes first, so a crash in between duplicates the
// message instead of losing it.
func (d *delivery) Nack(delay time.Duration) error {
	target := d.queue.name
	if delay > 0 {
		name, err := d.queue.delayQueue(delay)
		if err != nil {
			return err
		}
		target = name
	}

	if err := d.queue.publish(context.Background(), target, d.raw.Body, d.attempt+1); err != nil {
		return err
	}
	return d.raw.Ack(false)
}

func attemptOf(headers amqp.Table) int {
	switch v := headers[attemptHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 1
}
