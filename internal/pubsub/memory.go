package pubsub

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/easyspace-ai/easygrid-sub002/internal/logging"
	"github.com/easyspace-ai/easygrid-sub002/internal/metrics"
	"github.com/easyspace-ai/easygrid-sub002/internal/sharedb/opbuilder"
)

// DefaultQueueSize bounds each subscriber queue. A publish into a full queue
// drops the message for that subscriber only.
const DefaultQueueSize = 100

type memorySubscriber struct {
	channel string
	queue   chan *opbuilder.Operation
	done    chan struct{}
	once    sync.Once
}

func (s *memorySubscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// MemoryPubSub is the single-process bus. Subscriber lists are copy-on-write
// under the write lock so Publish can iterate a stable snapshot under the
// read lock.
type MemoryPubSub struct {
	mu        sync.RWMutex
	channels  map[string][]*memorySubscriber
	queueSize int
	logger    zerolog.Logger
	closed    bool
	wg        sync.WaitGroup
}

func NewMemoryPubSub(queueSize int, logger zerolog.Logger) *MemoryPubSub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &MemoryPubSub{
		channels:  make(map[string][]*memorySubscriber),
		queueSize: queueSize,
		logger:    logger,
	}
}

// Publish delivers op to every subscriber of every listed channel without
// blocking: a saturated subscriber queue drops the message for that
// subscriber and leaves the others untouched.
func (p *MemoryPubSub) Publish(_ context.Context, channels []string, op *opbuilder.Operation) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil
	}

	for _, channel := range channels {
		for _, sub := range p.channels[channel] {
			select {
			case sub.queue <- op:
			default:
				metrics.OpDropped(channel)
				p.logger.Warn().
					Str("channel", channel).
					Str("collection", op.Collection).
					Str("doc_id", op.DocID).
					Int("queue_cap", cap(sub.queue)).
					Msg("Subscriber queue full, dropping op")
			}
		}
	}
	metrics.OpPublished()
	return nil
}

// Subscribe installs an independent bounded queue and consumer for handler.
// The consumer exits when ctx is cancelled, on Unsubscribe, or on Close;
// when the last subscriber leaves a channel its entry is removed.
func (p *MemoryPubSub) Subscribe(ctx context.Context, channel string, handler Handler) error {
	sub := &memorySubscriber{
		channel: channel,
		queue:   make(chan *opbuilder.Operation, p.queueSize),
		done:    make(chan struct{}),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	existing := p.channels[channel]
	next := make([]*memorySubscriber, len(existing)+1)
	copy(next, existing)
	next[len(existing)] = sub
	p.channels[channel] = next
	p.mu.Unlock()

	metrics.SubscriptionAdded()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.removeSubscriber(sub)
		defer logging.RecoverPanic(p.logger, "pubsub_consumer", map[string]any{"channel": channel})
		for {
			select {
			case op := <-sub.queue:
				handler(op)
			case <-ctx.Done():
				return
			case <-sub.done:
				return
			}
		}
	}()
	return nil
}

// Unsubscribe stops every subscriber on the channel and deletes it.
func (p *MemoryPubSub) Unsubscribe(_ context.Context, channel string) error {
	p.mu.Lock()
	subs := p.channels[channel]
	delete(p.channels, channel)
	p.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	return nil
}

// Close stops all subscribers on all channels. Safe to call twice.
func (p *MemoryPubSub) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	all := p.channels
	p.channels = make(map[string][]*memorySubscriber)
	p.mu.Unlock()

	for _, subs := range all {
		for _, sub := range subs {
			sub.stop()
		}
	}
	p.wg.Wait()
	return nil
}

// SubscriberCount reports the live subscribers on a channel.
func (p *MemoryPubSub) SubscriberCount(channel string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.channels[channel])
}

// ChannelCount reports the number of channels with at least one subscriber.
func (p *MemoryPubSub) ChannelCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.channels)
}

func (p *MemoryPubSub) removeSubscriber(sub *memorySubscriber) {
	metrics.SubscriptionRemoved()

	p.mu.Lock()
	defer p.mu.Unlock()
	existing := p.channels[sub.channel]
	for i, s := range existing {
		if s == sub {
			next := make([]*memorySubscriber, 0, len(existing)-1)
			next = append(next, existing[:i]...)
			next = append(next, existing[i+1:]...)
			if len(next) == 0 {
				delete(p.channels, sub.channel)
			} else {
				p.channels[sub.channel] = next
			}
			return
		}
	}
}
