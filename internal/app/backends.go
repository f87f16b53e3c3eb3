// Package app builds the configured backends shared by the binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"

	"github.com/mtr002/thumbnail-queue/internal/api"
	"github.com/mtr002/thumbnail-queue/internal/cache"
	"github.com/mtr002/thumbnail-queue/internal/config"
	"github.com/mtr002/thumbnail-queue/internal/db"
	"github.com/mtr002/thumbnail-queue/internal/interfaces"
	"github.com/mtr002/thumbnail-queue/internal/logger"
	"github.com/mtr002/thumbnail-queue/internal/nats"
	"github.com/mtr002/thumbnail-queue/internal/queue"
	"github.com/mtr002/thumbnail-queue/internal/queue/rabbitmq"
	"github.com/mtr002/thumbnail-queue/internal/queue/redisstream"
	"github.com/mtr002/thumbnail-queue/internal/storage"
)

type objectStore interface {
	interfaces.ObjectStore
	api.Pinger
}

type jobStore interface {
	interfaces.JobStore
	api.Pinger
}

// Backends holds the connections one process needs. Close releases them in
// reverse order of creation.
type Backends struct {
	Store   interfaces.JobStore
	Objects interfaces.ObjectStore
	Queue   queue.Queue
	// NATS is nil unless NATS_URL is set
	NATS  *natsgo.Conn
	Redis redis.UniversalClient

	checks  map[string]api.Pinger
	closers []func() error
}

// Open connects every backend selected in cfg. consumer names this process
// inside shared consumer groups.
func Open(ctx context.Context, cfg *config.Config, consumer string) (*Backends, error) {
	b := &Backends{checks: make(map[string]api.Pinger)}

	if err := b.openStore(ctx, cfg); err != nil {
		b.Close()
		return nil, err
	}
	if err := b.openObjects(ctx, cfg); err != nil {
		b.Close()
		return nil, err
	}
	if err := b.openConnections(ctx, cfg); err != nil {
		b.Close()
		return nil, err
	}
	if err := b.openQueue(ctx, cfg, consumer); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

// Checks returns the readiness checks for the opened backends
func (b *Backends) Checks() map[string]api.Pinger {
	return b.checks
}

// Cache returns the Redis status cache, or nil when it is disabled
func (b *Backends) Cache(cfg *config.Config) *cache.JobCache {
	if b.Redis == nil || cfg.CacheTTL <= 0 {
		return nil
	}
	return cache.NewJobCache(cfg.QueueName, b.Redis, cfg.CacheTTL)
}

func (b *Backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			logger.Logger.Warn().Err(err).Msg("Error closing backend")
		}
	}
	b.closers = nil
}

func (b *Backends) onClose(fn func() error) {
	b.closers = append(b.closers, fn)
}

func (b *Backends) openStore(ctx context.Context, cfg *config.Config) error {
	var store jobStore
	switch cfg.StoreBackend {
	case "postgres":
		database, err := db.Connect(ctx, db.DefaultConfig(cfg.DatabaseURL))
		if err != nil {
			return err
		}
		b.onClose(database.Close)
		if err := db.RunMigrations(ctx, database); err != nil {
			return err
		}
		store = db.NewStore(database)
	default:
		logger.Logger.Warn().Msg("Using in-memory job store; jobs are lost on restart")
		store = db.NewMemoryStore()
	}
	b.Store = store
	b.checks["database"] = store
	return nil
}

func (b *Backends) openObjects(ctx context.Context, cfg *config.Config) error {
	var (
		objects objectStore
		err     error
	)
	switch cfg.StorageBackend {
	case "minio":
		objects, err = storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			UseSSL:    cfg.MinioUseSSL,
			Bucket:    cfg.Bucket,
		})
	case "s3":
		objects, err = storage.NewS3Store(ctx, storage.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.Bucket,
		})
	default:
		logger.Logger.Warn().Msg("Using in-memory object store")
		objects = storage.NewMemoryStore()
	}
	if err != nil {
		return err
	}
	b.Objects = objects
	b.checks["storage"] = objects
	return nil
}

// openConnections dials the shared NATS and Redis connections
func (b *Backends) openConnections(ctx context.Context, cfg *config.Config) error {
	if cfg.NATSURL != "" {
		conn, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			return err
		}
		b.onClose(func() error { conn.Close(); return nil })
		b.NATS = conn
		b.checks["nats"] = natsPinger{conn}
	}

	if cfg.QueueBackend == "redis" || cfg.CacheTTL > 0 {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		b.onClose(rc.Close)
		if err := pingRedis(ctx, rc); err != nil {
			return err
		}
		b.Redis = rc
		b.checks["redis"] = redisPinger{rc}
	}
	return nil
}

func (b *Backends) openQueue(ctx context.Context, cfg *config.Config, consumer string) error {
	switch cfg.QueueBackend {
	case "rabbitmq":
		q, err := rabbitmq.New(cfg.RabbitMQURL, cfg.QueueName, cfg.WorkerCount)
		if err != nil {
			return err
		}
		b.Queue = q
	case "redis":
		q, err := redisstream.New(ctx, b.Redis, redisstream.Config{
			Stream:   cfg.QueueName,
			Group:    cfg.ConsumerGroup,
			Consumer: consumer,
		})
		if err != nil {
			return err
		}
		b.Queue = q
	case "nats":
		if b.NATS == nil {
			return errors.New("nats queue requires a NATS connection")
		}
		q, err := nats.NewQueue(ctx, b.NATS, nats.QueueConfig{
			Stream:  streamName(cfg.QueueName),
			Durable: cfg.ConsumerGroup,
			AckWait: cfg.LeaseDuration,
		})
		if err != nil {
			return err
		}
		b.Queue = q
	default:
		logger.Logger.Warn().Msg("Using in-memory queue; workers must run in this process")
		b.Queue = queue.NewMemoryQueue(1024)
	}
	b.onClose(b.Queue.Close)
	return nil
}

func pingRedis(ctx context.Context, rc *redis.Client) error {
	backoff := retry.WithMaxRetries(5, retry.NewExponential(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := rc.Ping(ctx).Err(); err != nil {
			logger.Logger.Warn().Err(err).Msg("Redis not ready, retrying")
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return nil
}

// JetStream stream names may not contain dots
func streamName(queueName string) string {
	out := []byte(queueName)
	for i, c := range out {
		if c == '.' || c == ' ' || c == '*' || c == '>' {
			out[i] = '_'
		}
	}
	return string(out)
}

type natsPinger struct{ conn *natsgo.Conn }

func (p natsPinger) Ping(context.Context) error {
	if !p.conn.IsConnected() {
		return fmt.Errorf("nats status %s", p.conn.Status())
	}
	return nil
}

type redisPinger struct{ rc *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error {
	return p.rc.Ping(ctx).Err()
}
