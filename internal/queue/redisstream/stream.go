// Package redisstream implements queue.Queue on a Redis Stream read through a
// consumer group.
//
// Entries stay in the group's pending list until acked. Nacked messages are
// parked in a sorted set scored by due time and moved back onto the stream
// when due. Entries left pending by a dead consumer are taken over with
// XAUTOCLAIM.
package redisstream

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mtr002/thumbnail-queue/internal/logger"
	"github.com/mtr002/thumbnail-queue/internal/queue"
)

type Config struct {
	Stream   string
	Group    string
	Consumer string

	// Block bounds a single XREADGROUP call
	Block time.Duration
	// ClaimIdle is how long an entry must sit unacked before another
	// consumer may take it over
	ClaimIdle time.Duration
	MaxLen    int64
}

func (c *Config) setDefaults() {
	if c.Block <= 0 {
		c.Block = 5 * time.Second
	}
	if c.ClaimIdle <= 0 {
		c.ClaimIdle = 10 * time.Minute
	}
}

// Client is the subset of go-redis commands the queue uses.
// redis.UniversalClient satisfies it.
type Client interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAutoClaim(ctx context.Context, a *redis.XAutoClaimArgs) *redis.XAutoClaimCmd
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	ZRangeByScoreWithScores(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.ZSliceCmd
}

type Queue struct {
	rc  Client
	cfg Config
}

// New ensures the consumer group exists
func New(ctx context.Context, rc Client, cfg Config) (*Queue, error) {
	cfg.setDefaults()
	q := &Queue{rc: rc, cfg: cfg}
	if err := q.ensureGroup(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure Redis group: %w", err)
	}
	logger.Logger.Info().Str("stream", cfg.Stream).Str("group", cfg.Group).Str("consumer", cfg.Consumer).
		Msg("Redis stream queue initialized")
	return q, nil
}

func (q *Queue) ensureGroup(ctx context.Context) error {
	err := q.rc.XGroupCreateMkStream(ctx, q.cfg.Stream, q.cfg.Group, "0").Err()
	// BUSYGROUP means the group already exists
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (q *Queue) delayedKey() string {
	return q.cfg.Stream + ":delayed"
}

func (q *Queue) Enqueue(ctx context.Context, msg queue.Message) error {
	body, err := queue.Encode(msg)
	if err != nil {
		return err
	}
	return q.add(ctx, string(body), 1)
}

func (q *Queue) add(ctx context.Context, payload string, attempt int) error {
	err := q.rc.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.Stream,
		MaxLen: q.cfg.MaxLen,
		Approx: q.cfg.MaxLen > 0,
		Values: map[string]any{
			"payload": payload,
			"attempt": attempt,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to add stream entry: %w", err)
	}
	return nil
}

func (q *Queue) Consume(ctx context.Context) (<-chan queue.Delivery, error) {
	out := make(chan queue.Delivery)
	go func() {
		defer close(out)
		q.autoClaim(ctx, out)
		q.loop(ctx, out)
	}()
	return out, nil
}

func (q *Queue) Close() error {
	return nil
}

// autoClaim adopts entries another consumer read but never acked
func (q *Queue) autoClaim(ctx context.Context, out chan<- queue.Delivery) {
	next := "0-0"
	for {
		msgs, start, err := q.rc.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   q.cfg.Stream,
			Group:    q.cfg.Group,
			Consumer: q.cfg.Consumer,
			MinIdle:  q.cfg.ClaimIdle,
			Start:    next,
			Count:    100,
		}).Result()
		if err != nil || len(msgs) == 0 {
			return
		}
		for _, m := range msgs {
			if !q.dispatch(ctx, out, m) {
				return
			}
		}
		if start == "0-0" {
			return
		}
		next = start
	}
}

func (q *Queue) loop(ctx context.Context, out chan<- queue.Delivery) {
	lastClaim := time.Now()
	for {
		if ctx.Err() != nil {
			return
		}

		if err := q.promoteDue(ctx); err != nil && ctx.Err() == nil {
			logger.Logger.Warn().Err(err).Msg("Failed to promote delayed messages")
		}
		if time.Since(lastClaim) > q.cfg.ClaimIdle {
			q.autoClaim(ctx, out)
			lastClaim = time.Now()
		}

		streams, err := q.rc.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.cfg.Group,
			Consumer: q.cfg.Consumer,
			Streams:  []string{q.cfg.Stream, ">"},
			Count:    1,
			Block:    q.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			logger.Logger.Error().Err(err).Str("stream", q.cfg.Stream).Msg("XREADGROUP failed")
			sleep(ctx, time.Second)
			continue
		}

		for _, s := range streams {
			for _, m := range s.Messages {
				if !q.dispatch(ctx, out, m) {
					return
				}
			}
		}
	}
}

// dispatch hands one entry to the consumer. It returns false when ctx ended
// first; the entry then stays pending and is reclaimed later.
func (q *Queue) dispatch(ctx context.Context, out chan<- queue.Delivery, m redis.XMessage) bool {
	raw, _ := m.Values["payload"].(string)
	msg, err := queue.Decode([]byte(raw))
	if err != nil {
		logger.Logger.Error().Err(err).Str("entry_id", m.ID).Msg("Discarding malformed message")
		q.ack(context.Background(), m.ID)
		return true
	}

	d := &delivery{queue: q, id: m.ID, payload: raw, msg: msg, attempt: toInt(m.Values["attempt"])}
	select {
	case out <- d:
		return true
	case <-ctx.Done():
		return false
	}
}

// promoteDue moves delayed messages whose time has come back onto the
// stream. ZREM decides which consumer moves an entry; if the XADD fails the
// member goes back into the set with its original score.
func (q *Queue) promoteDue(ctx context.Context) error {
	due, err := q.rc.ZRangeByScoreWithScores(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(time.Now().UnixMilli(), 10),
		Count: 100,
	}).Result()
	if err != nil {
		return err
	}

	for _, z := range due {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		removed, err := q.rc.ZRem(ctx, q.delayedKey(), member).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		attempt, payload, ok := splitMember(member)
		if !ok {
			continue
		}
		if err := q.add(ctx, payload, attempt); err != nil {
			if restoreErr := q.rc.ZAdd(context.Background(), q.delayedKey(), z).Err(); restoreErr != nil {
				return errors.Join(err, fmt.Errorf("failed to restore delayed message: %w", restoreErr))
			}
			return err
		}
	}
	return nil
}

func (q *Queue) ack(ctx context.Context, id string) error {
	return q.rc.XAck(ctx, q.cfg.Stream, q.cfg.Group, id).Err()
}

type delivery struct {
	queue   *Queue
	id      string
	payload string
	msg     queue.Message
	attempt int
}

func (d *delivery) Message() queue.Message { return d.msg }
func (d *delivery) Attempt() int           { return d.attempt }

func (d *delivery) Ack() error {
	if err := d.queue.ack(context.Background(), d.id); err != nil {
		return fmt.Errorf("failed to ack stream entry: %w", err)
	}
	return nil
}

func (d *delivery) Nack(delay time.Duration) error {
	ctx := context.Background()
	next := d.attempt + 1

	var err error
	if delay <= 0 {
		err = d.queue.add(ctx, d.payload, next)
	} else {
		err = d.queue.rc.ZAdd(ctx, d.queue.delayedKey(), redis.Z{
			Score:  float64(time.Now().Add(delay).UnixMilli()),
			Member: joinMember(next, d.id, d.payload),
		}).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to schedule redelivery: %w", err)
	}
	return d.Ack()
}

// joinMember encodes a delayed entry. The stream id keeps members unique
// when the same payload is parked twice.
func joinMember(attempt int, id, payload string) string {
	return fmt.Sprintf("%d|%s|%s", attempt, id, payload)
}

func splitMember(member string) (int, string, bool) {
	parts := strings.SplitN(member, "|", 3)
	if len(parts) != 3 {
		return 0, "", false
	}
	attempt, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", false
	}
	return attempt, parts[2], true
}

func toInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(t); err == nil && n > 0 {
			return n
		}
	}
	return 1
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
