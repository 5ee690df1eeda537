// Package config loads service configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	PubSubDriverMemory = "memory"
	PubSubDriverRedis  = "redis"
)

// Config is the full service configuration. Defaults suit a single-node
// development deployment; production sets the URLs and the redis driver.
type Config struct {
	Addr string `env:"WS_ADDR" envDefault:":3002"`

	// PubSubDriver selects the op bus: "memory" for single-node, "redis"
	// for multi-node fanout.
	PubSubDriver string `env:"PUBSUB_DRIVER" envDefault:"memory"`
	RedisURL     string `env:"REDIS_URL" envDefault:"redis://localhost:6379"`

	// NATSURL enables business-event publication; empty disables it.
	NATSURL string `env:"NATS_URL"`

	// DatabaseURL enables the Postgres-backed document store; empty falls
	// back to the in-memory store.
	DatabaseURL string `env:"DATABASE_URL"`

	MaxConnections        int `env:"WS_MAX_CONNECTIONS" envDefault:"1000"`
	MaxConnectionsPerUser int `env:"WS_MAX_CONNECTIONS_PER_USER" envDefault:"50"`

	PingInterval     time.Duration `env:"WS_PING_INTERVAL" envDefault:"30s"`
	ReadTimeout      time.Duration `env:"WS_READ_TIMEOUT" envDefault:"60s"`
	WriteTimeout     time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"10s"`
	HandshakeTimeout time.Duration `env:"WS_HANDSHAKE_TIMEOUT" envDefault:"10s"`
	CleanupInterval  time.Duration `env:"WS_CLEANUP_INTERVAL" envDefault:"30s"`
	InactiveAfter    time.Duration `env:"WS_INACTIVE_AFTER" envDefault:"2m"`

	MessageRateLimit float64 `env:"WS_MESSAGE_RATE_LIMIT" envDefault:"10"`
	MessageRateBurst int     `env:"WS_MESSAGE_RATE_BURST" envDefault:"100"`

	SubscriberQueueSize int           `env:"PUBSUB_QUEUE_SIZE" envDefault:"100"`
	PresenceTTL         time.Duration `env:"PRESENCE_TTL" envDefault:"5m"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads .env (when present) and the environment, then validates.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.PubSubDriver != PubSubDriverMemory && c.PubSubDriver != PubSubDriverRedis {
		return fmt.Errorf("invalid PUBSUB_DRIVER %q (want %q or %q)", c.PubSubDriver, PubSubDriverMemory, PubSubDriverRedis)
	}
	if c.PubSubDriver == PubSubDriverRedis && c.RedisURL == "" {
		return fmt.Errorf("PUBSUB_DRIVER=redis requires REDIS_URL")
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("WS_MAX_CONNECTIONS must be positive, got %d", c.MaxConnections)
	}
	if c.MaxConnectionsPerUser <= 0 {
		return fmt.Errorf("WS_MAX_CONNECTIONS_PER_USER must be positive, got %d", c.MaxConnectionsPerUser)
	}
	if c.MaxConnectionsPerUser > c.MaxConnections {
		return fmt.Errorf("WS_MAX_CONNECTIONS_PER_USER (%d) exceeds WS_MAX_CONNECTIONS (%d)", c.MaxConnectionsPerUser, c.MaxConnections)
	}
	if c.SubscriberQueueSize <= 0 {
		return fmt.Errorf("PUBSUB_QUEUE_SIZE must be positive, got %d", c.SubscriberQueueSize)
	}
	if c.PingInterval >= c.ReadTimeout {
		return fmt.Errorf("WS_PING_INTERVAL (%s) must be below WS_READ_TIMEOUT (%s)", c.PingInterval, c.ReadTimeout)
	}
	return nil
}
