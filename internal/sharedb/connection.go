package sharedb

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Connection is one client session. The dispatcher owns it; all derived
// resources (subscriptions, ping goroutine) hang off its cancel tokens and
// are released on every exit path.
type Connection struct {
	ID        string
	UserID    string
	CreatedAt time.Time

	mu         sync.Mutex
	lastSeen   time.Time
	active     bool
	subCancels map[string]context.CancelFunc
}

func NewConnection(userID string) *Connection {
	now := time.Now()
	return &Connection{
		ID:         uuid.NewString(),
		UserID:     userID,
		CreatedAt:  now,
		lastSeen:   now,
		active:     true,
		subCancels: make(map[string]context.CancelFunc),
	}
}

// Touch records client liveness. Called on every inbound frame and pong.
func (c *Connection) Touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

func (c *Connection) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

func (c *Connection) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Deactivate flips the connection inactive and reports whether this call did
// the flip. Cleanup keys off the return value so it runs once no matter how
// many exit paths race into it.
func (c *Connection) Deactivate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return false
	}
	c.active = false
	return true
}

// AddSubscription registers the cancel token for a channel subscription.
// Re-subscribing to the same channel cancels the prior subscription first.
func (c *Connection) AddSubscription(channel string, cancel context.CancelFunc) {
	c.mu.Lock()
	prev, ok := c.subCancels[channel]
	c.subCancels[channel] = cancel
	c.mu.Unlock()
	if ok {
		prev()
	}
}

// RemoveSubscription cancels one channel subscription. Reports whether the
// subscription existed.
func (c *Connection) RemoveSubscription(channel string) bool {
	c.mu.Lock()
	cancel, ok := c.subCancels[channel]
	if ok {
		delete(c.subCancels, channel)
	}
	c.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// HasSubscription reports whether the connection is subscribed to a channel.
func (c *Connection) HasSubscription(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subCancels[channel]
	return ok
}

// CancelAllSubscriptions cancels every subscription and returns the channels
// that were held. Called once during cleanup.
func (c *Connection) CancelAllSubscriptions() []string {
	c.mu.Lock()
	cancels := c.subCancels
	c.subCancels = make(map[string]context.CancelFunc)
	c.mu.Unlock()

	channels := make([]string, 0, len(cancels))
	for channel, cancel := range cancels {
		cancel()
		channels = append(channels, channel)
	}
	return channels
}

// Registry is the process-wide connection table. Counts are computed by
// range-iteration over active entries rather than kept as counters, so a
// missed decrement can never wedge admission.
type Registry struct {
	conns sync.Map // connection ID -> *Connection
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Add(c *Connection) {
	r.conns.Store(c.ID, c)
}

func (r *Registry) Remove(id string) {
	r.conns.Delete(id)
}

func (r *Registry) Get(id string) (*Connection, bool) {
	v, ok := r.conns.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Connection), true
}

// Counts returns (total active, active for userID).
func (r *Registry) Counts(userID string) (int, int) {
	total, user := 0, 0
	r.conns.Range(func(_, v any) bool {
		conn := v.(*Connection)
		if !conn.Active() {
			return true
		}
		total++
		if conn.UserID == userID {
			user++
		}
		return true
	})
	return total, user
}

// Range iterates over all registered connections until fn returns false.
func (r *Registry) Range(fn func(*Connection) bool) {
	r.conns.Range(func(_, v any) bool {
		return fn(v.(*Connection))
	})
}
