// Package metrics registers the Prometheus collectors for the realtime
// server and exposes small helpers so the hot paths don't touch collector
// plumbing directly.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	connectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sharedb_connections_total",
		Help: "Total number of WebSocket connections established",
	})

	connectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sharedb_connections_active",
		Help: "Current number of active WebSocket connections",
	})

	connectionsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sharedb_connections_rejected_total",
		Help: "Connections rejected before the session started, by reason",
	}, []string{"reason"})

	messagesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sharedb_messages_received_total",
		Help: "Total protocol frames received from clients",
	})

	messagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sharedb_messages_sent_total",
		Help: "Total protocol frames sent to clients",
	})

	opsPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sharedb_ops_published_total",
		Help: "Total operations published to the op bus",
	})

	opsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sharedb_ops_dropped_total",
		Help: "Operations dropped because a subscriber queue was saturated",
	}, []string{"channel"})

	subscriptionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sharedb_subscriptions_active",
		Help: "Current number of live pub/sub subscriptions",
	})

	presenceRecords = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sharedb_presence_records",
		Help: "Current number of presence records held",
	})

	rateLimitedMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sharedb_rate_limited_messages_total",
		Help: "Inbound frames dropped by the per-connection rate limiter",
	})

	businessEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sharedb_business_events_total",
		Help: "Business events emitted to the event bus, by name",
	}, []string{"event"})
)

func init() {
	prometheus.MustRegister(
		connectionsTotal,
		connectionsActive,
		connectionsRejected,
		messagesReceived,
		messagesSent,
		opsPublished,
		opsDropped,
		subscriptionsActive,
		presenceRecords,
		rateLimitedMessages,
		businessEvents,
	)
}

// Handler returns the /metrics scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ConnectionOpened() {
	connectionsTotal.Inc()
	connectionsActive.Inc()
}

func ConnectionClosed() {
	connectionsActive.Dec()
}

func ConnectionRejected(reason string) {
	connectionsRejected.WithLabelValues(reason).Inc()
}

func MessageReceived() { messagesReceived.Inc() }
func MessageSent()     { messagesSent.Inc() }

func OpPublished() { opsPublished.Inc() }

func OpDropped(channel string) {
	opsDropped.WithLabelValues(channel).Inc()
}

func SubscriptionAdded()   { subscriptionsActive.Inc() }
func SubscriptionRemoved() { subscriptionsActive.Dec() }

func SetPresenceRecords(n int) {
	presenceRecords.Set(float64(n))
}

func RateLimited() { rateLimitedMessages.Inc() }

func BusinessEvent(name string) {
	businessEvents.WithLabelValues(name).Inc()
}
