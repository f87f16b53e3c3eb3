package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "postgres", cfg.StoreBackend)
	assert.Equal(t, "minio", cfg.StorageBackend)
	assert.Equal(t, "rabbitmq", cfg.QueueBackend)
	assert.Equal(t, 4, cfg.WorkerCount)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, time.Second, cfg.RetryBaseDelay)
	assert.Equal(t, 2*time.Minute, cfg.LeaseDuration)
	assert.Equal(t, "thumbnail-workers", cfg.ConsumerGroup)
	assert.Zero(t, cfg.CacheTTL, "status cache is opt-in")
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("QUEUE_BACKEND", "redis")
	t.Setenv("WORKER_COUNT", "8")
	t.Setenv("LEASE_DURATION", "45s")
	t.Setenv("STORAGE_BACKEND", "s3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.QueueBackend)
	assert.Equal(t, 8, cfg.WorkerCount)
	assert.Equal(t, 45*time.Second, cfg.LeaseDuration)
	assert.Equal(t, "s3", cfg.StorageBackend)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"unknown queue":     {"QUEUE_BACKEND": "kafka"},
		"unknown storage":   {"STORAGE_BACKEND": "gcs"},
		"unknown store":     {"STORE_BACKEND": "mysql"},
		"nats without url":  {"QUEUE_BACKEND": "nats"},
		"zero workers":      {"WORKER_COUNT": "0"},
		"zero max attempts": {"MAX_ATTEMPTS": "0"},
		"bad duration":      {"LEASE_DURATION": "soon"},
	}

	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
