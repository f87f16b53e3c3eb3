package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/mtr002/thumbnail-queue/internal/logger"
	"github.com/mtr002/thumbnail-queue/internal/queue"
)

type QueueConfig struct {
	Stream  string
	Durable string
	// AckWait is how long JetStream waits for an ack before redelivering
	AckWait time.Duration
}

// Queue is a JetStream work-queue stream read by one durable pull consumer
// shared by all workers
type Queue struct {
	js       jetstream.JetStream
	consumer jetstream.Consumer
	cfg      QueueConfig
}

func NewQueue(ctx context.Context, conn *nats.Conn, cfg QueueConfig) (*Queue, error) {
	if cfg.AckWait <= 0 {
		cfg.AckWait = 5 * time.Minute
	}

	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{JobSubmitSubject},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       cfg.Durable,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       cfg.AckWait,
		MaxDeliver:    -1,
		FilterSubject: JobSubmitSubject,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	logger.Logger.Info().Str("stream", cfg.Stream).Str("consumer", cfg.Durable).Msg("JetStream queue initialized")
	return &Queue{js: js, consumer: consumer, cfg: cfg}, nil
}

func (q *Queue) Enqueue(ctx context.Context, msg queue.Message) error {
	body, err := queue.Encode(msg)
	if err != nil {
		return err
	}
	if _, err := q.js.Publish(ctx, JobSubmitSubject, body); err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}
	return nil
}

func (q *Queue) Consume(ctx context.Context) (<-chan queue.Delivery, error) {
	it, err := q.consumer.Messages()
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	go func() {
		<-ctx.Done()
		it.Stop()
	}()

	out := make(chan queue.Delivery)
	go func() {
		defer close(out)
		for {
			msg, err := it.Next()
			if err != nil {
				if errors.Is(err, jetstream.ErrMsgIteratorClosed) || ctx.Err() != nil {
					return
				}
				logger.Logger.Warn().Err(err).Msg("JetStream fetch failed")
				continue
			}

			decoded, err := queue.Decode(msg.Data())
			if err != nil {
				logger.Logger.Error().Err(err).Str("subject", msg.Subject()).Msg("Discarding malformed message")
				_ = msg.Term()
				continue
			}

			attempt := 1
			if meta, err := msg.Metadata(); err == nil && meta.NumDelivered > 0 {
				attempt = int(meta.NumDelivered)
			}

			select {
			case out <- &delivery{raw: msg, msg: decoded, attempt: attempt}:
			case <-ctx.Done():
				_ = msg.Nak()
				return
			}
		}
	}()
	return out, nil
}

// Close is a no-op; the connection belongs to the caller
func (q *Queue) Close() error {
	return nil
}

type delivery struct {
	raw     jetstream.Msg
	msg     queue.Message
	attempt int
}

func (d *delivery) Message() queue.Message { return d.msg }
func (d *delivery) Attempt() int           { return d.attempt }

func (d *delivery) Ack() error {
	return d.raw.Ack()
}

func (d *delivery) Nack(delay time.Duration) error {
	if delay <= 0 {
		return d.raw.Nak()
	}
	return d.raw.NakWithDelay(delay)
}
