// Package presence tracks transient per-channel presence state (cursors,
// selections, active cells). Presence is ephemeral: it lives in process
// memory, expires after a TTL, and is never persisted.
package presence

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/easyspace-ai/easygrid-sub002/internal/metrics"
)

// DefaultTTL is how long a presence record survives without an update.
const DefaultTTL = 5 * time.Minute

const janitorInterval = time.Minute

// Record is one client's presence on one channel. Data is opaque client
// payload; a nil Data means the client cleared its presence but the entry is
// kept until TTL so late joiners see the departure.
type Record struct {
	ClientID  string
	UserID    string
	Data      any
	Timestamp time.Time
}

// Manager holds presence records keyed by channel, then client ID. A janitor
// goroutine evicts expired records so channels abandoned without an explicit
// remove don't leak.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]map[string]*Record
	ttl      time.Duration
	logger   zerolog.Logger
	done     chan struct{}
	once     sync.Once
}

func NewManager(ttl time.Duration, logger zerolog.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Manager{
		channels: make(map[string]map[string]*Record),
		ttl:      ttl,
		logger:   logger,
		done:     make(chan struct{}),
	}
	go m.janitor()
	return m
}

// Submit records or replaces a client's presence on a channel. The timestamp
// resets on every submit, so active clients never expire.
func (m *Manager) Submit(channel, clientID, userID string, data any) {
	m.mu.Lock()
	clients, ok := m.channels[channel]
	if !ok {
		clients = make(map[string]*Record)
		m.channels[channel] = clients
	}
	clients[clientID] = &Record{
		ClientID:  clientID,
		UserID:    userID,
		Data:      data,
		Timestamp: time.Now(),
	}
	total := m.countLocked()
	m.mu.Unlock()

	metrics.SetPresenceRecords(total)
}

// GetPresences returns the live (unexpired) records on a channel. The result
// is a copy; callers may hold it across lock boundaries.
func (m *Manager) GetPresences(channel string) []*Record {
	cutoff := time.Now().Add(-m.ttl)

	m.mu.RLock()
	defer m.mu.RUnlock()
	clients := m.channels[channel]
	if len(clients) == 0 {
		return nil
	}
	out := make([]*Record, 0, len(clients))
	for _, rec := range clients {
		if rec.Timestamp.Before(cutoff) {
			continue
		}
		copied := *rec
		out = append(out, &copied)
	}
	return out
}

// RemovePresence drops one client from one channel, deleting the channel
// entry when it empties. Removing an absent client is a no-op.
func (m *Manager) RemovePresence(channel, clientID string) {
	m.mu.Lock()
	clients, ok := m.channels[channel]
	if ok {
		delete(clients, clientID)
		if len(clients) == 0 {
			delete(m.channels, channel)
		}
	}
	total := m.countLocked()
	m.mu.Unlock()

	metrics.SetPresenceRecords(total)
}

// ChannelsForClient lists the channels where the client currently has a
// record. Used at disconnect to clear every channel the session touched.
func (m *Manager) ChannelsForClient(clientID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for channel, clients := range m.channels {
		if _, ok := clients[clientID]; ok {
			out = append(out, channel)
		}
	}
	return out
}

// Count reports the total records across all channels.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countLocked()
}

// Close stops the janitor and drops every channel's records. Safe to call
// twice.
func (m *Manager) Close() {
	m.once.Do(func() { close(m.done) })

	m.mu.Lock()
	m.channels = make(map[string]map[string]*Record)
	m.mu.Unlock()

	metrics.SetPresenceRecords(0)
}

func (m *Manager) countLocked() int {
	total := 0
	for _, clients := range m.channels {
		total += len(clients)
	}
	return total
}

func (m *Manager) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictExpired()
		}
	}
}

func (m *Manager) evictExpired() {
	cutoff := time.Now().Add(-m.ttl)
	evicted := 0

	m.mu.Lock()
	for channel, clients := range m.channels {
		for clientID, rec := range clients {
			if rec.Timestamp.Before(cutoff) {
				delete(clients, clientID)
				evicted++
			}
		}
		if len(clients) == 0 {
			delete(m.channels, channel)
		}
	}
	total := m.countLocked()
	m.mu.Unlock()

	metrics.SetPresenceRecords(total)
	if evicted > 0 {
		m.logger.Debug().
			Int("evicted", evicted).
			Int("remaining", total).
			Msg("Evicted expired presence records")
	}
}
