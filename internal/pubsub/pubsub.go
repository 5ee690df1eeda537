// Package pubsub is the channel-fanout bus carrying committed operations to
// document subscribers. Two variants share one contract: an in-process bus
// for single-node deployments and a Redis-backed bus for multi-node fanout.
// Delivery is best-effort in both; snapshot consistency belongs to the
// adapter, not the bus.
package pubsub

import (
	"context"

	"github.com/easyspace-ai/easygrid-sub002/internal/sharedb/opbuilder"
)

// Handler is invoked once per operation delivered to a subscription.
type Handler func(op *opbuilder.Operation)

// PubSub fans operations out to channel subscribers.
//
// Publish delivers op to every subscriber of every listed channel.
// Subscribe installs a handler on one channel; the subscription lives until
// ctx is cancelled, Unsubscribe removes the whole channel, or Close.
// Ordering is FIFO per (channel, subscriber); nothing is coordinated across
// subscribers. Close is idempotent.
type PubSub interface {
	Publish(ctx context.Context, channels []string, op *opbuilder.Operation) error
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Unsubscribe(ctx context.Context, channel string) error
	Close() error
}
