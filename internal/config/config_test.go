package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":3002", cfg.Addr)
	assert.Equal(t, PubSubDriverMemory, cfg.PubSubDriver)
	assert.Equal(t, 1000, cfg.MaxConnections)
	assert.Equal(t, 50, cfg.MaxConnectionsPerUser)
	assert.Equal(t, 30*time.Second, cfg.PingInterval)
	assert.Equal(t, 60*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 100, cfg.SubscriberQueueSize)
	assert.Equal(t, 5*time.Minute, cfg.PresenceTTL)
}

func TestLoadRedisDriver(t *testing.T) {
	t.Setenv("PUBSUB_DRIVER", "redis")
	t.Setenv("REDIS_URL", "redis://redis.internal:6379/2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, PubSubDriverRedis, cfg.PubSubDriver)
	assert.Equal(t, "redis://redis.internal:6379/2", cfg.RedisURL)
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	t.Setenv("PUBSUB_DRIVER", "kafka")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PUBSUB_DRIVER")
}

func TestValidateRejectsBadLimits(t *testing.T) {
	t.Setenv("WS_MAX_CONNECTIONS", "10")
	t.Setenv("WS_MAX_CONNECTIONS_PER_USER", "50")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WS_MAX_CONNECTIONS_PER_USER")
}

func TestValidateRejectsPingAboveReadTimeout(t *testing.T) {
	t.Setenv("WS_PING_INTERVAL", "90s")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WS_PING_INTERVAL")
}
