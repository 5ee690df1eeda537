package pubsub

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/easyspace-ai/easygrid-sub002/internal/logging"
	"github.com/easyspace-ai/easygrid-sub002/internal/metrics"
	"github.com/easyspace-ai/easygrid-sub002/internal/sharedb/opbuilder"
)

// channelPrefix namespaces every bus channel inside Redis. The prefix never
// leaks through the PubSub interface.
const channelPrefix = "sharedb:"

type redisConsumer struct {
	cancel context.CancelFunc
	sub    *redis.PubSub
}

// RedisPubSub fans operations out across server instances via Redis pub/sub.
// Each subscribed channel gets a dedicated consumer goroutine; the go-redis
// client handles reconnection transparently, so a Redis hiccup does not
// terminate client sessions.
type RedisPubSub struct {
	client    redis.UniversalClient
	logger    zerolog.Logger
	rootCtx   context.Context
	rootStop  context.CancelFunc
	mu        sync.Mutex
	consumers map[string]*redisConsumer
	closed    bool
	wg        sync.WaitGroup
}

// NewRedisPubSub connects to Redis and verifies the connection.
func NewRedisPubSub(ctx context.Context, redisURL string, logger zerolog.Logger) (*RedisPubSub, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	rootCtx, rootStop := context.WithCancel(context.Background())
	return &RedisPubSub{
		client:    client,
		logger:    logger,
		rootCtx:   rootCtx,
		rootStop:  rootStop,
		consumers: make(map[string]*redisConsumer),
	}, nil
}

// Publish serializes the op once and PUBLISHes it to every listed channel.
func (p *RedisPubSub) Publish(ctx context.Context, channels []string, op *opbuilder.Operation) error {
	payload, err := op.Marshal()
	if err != nil {
		return fmt.Errorf("marshal op for %s/%s: %w", op.Collection, op.DocID, err)
	}
	for _, channel := range channels {
		if err := p.client.Publish(ctx, channelPrefix+channel, payload).Err(); err != nil {
			return fmt.Errorf("publish to %s: %w", channel, err)
		}
	}
	metrics.OpPublished()
	return nil
}

// Subscribe starts a consumer for the channel. A prior consumer on the same
// channel is cancelled first, so re-subscribing replaces rather than stacks.
// The consumer stops when ctx or the bus's root context is cancelled.
func (p *RedisPubSub) Subscribe(ctx context.Context, channel string, handler Handler) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	if prev, ok := p.consumers[channel]; ok {
		prev.cancel()
		_ = prev.sub.Close()
		delete(p.consumers, channel)
		metrics.SubscriptionRemoved()
	}

	consumerCtx, cancel := context.WithCancel(p.rootCtx)
	sub := p.client.Subscribe(consumerCtx, channelPrefix+channel)
	consumer := &redisConsumer{cancel: cancel, sub: sub}
	p.consumers[channel] = consumer
	p.mu.Unlock()

	metrics.SubscriptionAdded()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer logging.RecoverPanic(p.logger, "redis_consumer", map[string]any{"channel": channel})
		msgs := sub.Channel()
		for {
			select {
			case <-consumerCtx.Done():
				return
			case <-ctx.Done():
				p.dropConsumer(channel, consumer)
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				op, err := opbuilder.UnmarshalOperation([]byte(msg.Payload))
				if err != nil {
					p.logger.Warn().
						Err(err).
						Str("channel", channel).
						Msg("Discarding undecodable op from redis")
					continue
				}
				handler(op)
			}
		}
	}()
	return nil
}

// Unsubscribe cancels the channel's consumer. In-flight messages at cancel
// time are abandoned; delivery is best-effort.
func (p *RedisPubSub) Unsubscribe(_ context.Context, channel string) error {
	p.mu.Lock()
	consumer, ok := p.consumers[channel]
	if ok {
		delete(p.consumers, channel)
	}
	p.mu.Unlock()
	if !ok {
		return nil
	}
	consumer.cancel()
	if err := consumer.sub.Close(); err != nil {
		return fmt.Errorf("close redis subscription %s: %w", channel, err)
	}
	metrics.SubscriptionRemoved()
	return nil
}

// Close cancels every consumer and the shared context. Safe to call twice.
func (p *RedisPubSub) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	consumers := p.consumers
	p.consumers = make(map[string]*redisConsumer)
	p.mu.Unlock()

	p.rootStop()
	for _, consumer := range consumers {
		_ = consumer.sub.Close()
	}
	p.wg.Wait()
	return p.client.Close()
}

func (p *RedisPubSub) dropConsumer(channel string, consumer *redisConsumer) {
	consumer.cancel()
	p.mu.Lock()
	current, ok := p.consumers[channel]
	if ok && current == consumer {
		delete(p.consumers, channel)
	} else {
		ok = false
	}
	p.mu.Unlock()
	if ok {
		_ = consumer.sub.Close()
		metrics.SubscriptionRemoved()
	}
}
