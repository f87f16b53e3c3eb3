// Package cache keeps JSON snapshots of terminal jobs in Redis. Terminal
// jobs never change, so entries only ever expire.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mtr002/thumbnail-queue/internal/interfaces"
)

type JobCache struct {
	Redis     redis.UniversalClient
	Namespace string
	TTL       time.Duration
}

func NewJobCache(namespace string, rc redis.UniversalClient, ttl time.Duration) *JobCache {
	return &JobCache{
		Redis:     rc,
		Namespace: namespace,
		TTL:       ttl,
	}
}

func (c *JobCache) key(id string) string {
	return c.Namespace + ":job:" + id
}

// Get returns nil without error on a miss
func (c *JobCache) Get(ctx context.Context, id string) (*interfaces.Job, error) {
	data, err := c.Redis.Get(ctx, c.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached job: %w", err)
	}

	var job interfaces.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode cached job: %w", err)
	}
	return &job, nil
}

// Store caches job if it is terminal and ignores it otherwise
func (c *JobCache) Store(ctx context.Context, job *interfaces.Job) error {
	if !job.Status.IsTerminal() {
		return nil
	}
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return c.Redis.Set(ctx, c.key(job.ID), data, c.TTL).Err()
}

func (c *JobCache) Remove(ctx context.Context, id string) error {
	return c.Redis.Del(ctx, c.key(id)).Err()
}
