package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/easyspace-ai/easygrid-sub002/internal/metrics"
)

const subjectPrefix = "easygrid.events."

// Bus publishes business events for out-of-process consumers.
type Bus interface {
	Publish(event BusinessEvent) error
	Close()
}

// NATSBus publishes each event to "easygrid.events.<name>" so consumers can
// subscribe per event kind or with a wildcard.
type NATSBus struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

// NewNATSBus connects with indefinite reconnects; a NATS outage degrades
// event delivery but never takes realtime sessions down with it.
func NewNATSBus(url string, logger zerolog.Logger) (*NATSBus, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSBus{conn: conn, logger: logger}, nil
}

func (b *NATSBus) Publish(event BusinessEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.Name, err)
	}
	if err := b.conn.Publish(subjectPrefix+event.Name, payload); err != nil {
		return fmt.Errorf("publish event %s: %w", event.Name, err)
	}
	metrics.BusinessEvent(event.Name)
	return nil
}

func (b *NATSBus) Close() {
	if err := b.conn.Drain(); err != nil {
		b.logger.Warn().Err(err).Msg("NATS drain failed")
		b.conn.Close()
	}
}

// NopBus discards events. Used when no NATS URL is configured and in tests.
type NopBus struct{}

func (NopBus) Publish(BusinessEvent) error { return nil }
func (NopBus) Close()                      {}
