package sharedb

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/easyspace-ai/easygrid-sub002/internal/adapter"
	"github.com/easyspace-ai/easygrid-sub002/internal/events"
	"github.com/easyspace-ai/easygrid-sub002/internal/logging"
	"github.com/easyspace-ai/easygrid-sub002/internal/metrics"
	"github.com/easyspace-ai/easygrid-sub002/internal/presence"
	"github.com/easyspace-ai/easygrid-sub002/internal/pubsub"
	"github.com/easyspace-ai/easygrid-sub002/internal/sharedb/opbuilder"
)

// UserIDKey is the gin context key under which upstream auth middleware
// stores the resolved user ID.
const UserIDKey = "user_id"

// Options tunes connection admission and keepalive. Zero values fall back to
// the defaults below.
type Options struct {
	MaxConnections        int
	MaxConnectionsPerUser int
	PingInterval          time.Duration
	ReadTimeout           time.Duration
	WriteTimeout          time.Duration
	HandshakeTimeout      time.Duration
	CleanupInterval       time.Duration
	InactiveAfter         time.Duration
	MessageRateLimit      float64
	MessageRateBurst      int
}

func (o Options) withDefaults() Options {
	if o.MaxConnections <= 0 {
		o.MaxConnections = 1000
	}
	if o.MaxConnectionsPerUser <= 0 {
		o.MaxConnectionsPerUser = 50
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = 30 * time.Second
	}
	if o.InactiveAfter <= 0 {
		o.InactiveAfter = 2 * time.Minute
	}
	if o.MessageRateLimit <= 0 {
		o.MessageRateLimit = 10
	}
	if o.MessageRateBurst <= 0 {
		o.MessageRateBurst = 100
	}
	return o
}

// Service owns the realtime session layer: one instance per process, shared
// by every connection. All socket writes pass through a single mutex so no
// two goroutines ever interleave frames on a socket.
type Service struct {
	opts     Options
	adapter  adapter.Adapter
	bus      pubsub.PubSub
	presence *presence.Manager
	events   events.Bus
	logger   zerolog.Logger

	registry   *Registry
	middleware []Middleware
	upgrader   websocket.Upgrader

	writeMu   sync.Mutex
	socketsMu sync.Mutex
	sockets   map[string]*websocket.Conn

	rootCtx  context.Context
	rootStop context.CancelFunc
	wg       sync.WaitGroup
}

func NewService(opts Options, ad adapter.Adapter, bus pubsub.PubSub, pm *presence.Manager, eb events.Bus, logger zerolog.Logger) *Service {
	opts = opts.withDefaults()
	rootCtx, rootStop := context.WithCancel(context.Background())
	s := &Service{
		opts:       opts,
		adapter:    ad,
		bus:        bus,
		presence:   pm,
		events:     eb,
		logger:     logger,
		registry:   NewRegistry(),
		middleware: []Middleware{RecordOnlySubmit},
		upgrader: websocket.Upgrader{
			HandshakeTimeout:  opts.HandshakeTimeout,
			ReadBufferSize:    4096,
			WriteBufferSize:   4096,
			EnableCompression: false,
			// Origin check is open; tighten before exposing publicly.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sockets:  make(map[string]*websocket.Conn),
		rootCtx:  rootCtx,
		rootStop: rootStop,
	}
	s.wg.Add(1)
	go s.cleanupRoutine()
	return s
}

// Registry exposes the connection table for health reporting.
func (s *Service) Registry() *Registry { return s.registry }

// HandleWebSocket upgrades the request and runs the protocol session until a
// terminal condition. Registered as the gin handler for /socket.
func (s *Service) HandleWebSocket(c *gin.Context) {
	userID := c.GetString(UserIDKey)

	socket, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		metrics.ConnectionRejected("upgrade_failed")
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	// Limits are enforced after the upgrade so the client gets a
	// policy-violation close frame instead of a failed handshake.
	total, perUser := s.registry.Counts(userID)
	if total >= s.opts.MaxConnections {
		metrics.ConnectionRejected("server_limit")
		s.logger.Warn().Int("total", total).Msg("Rejecting connection, server limit reached")
		s.rejectWithPolicyViolation(socket, "connection limit exceeded")
		return
	}
	if userID != "" && perUser >= s.opts.MaxConnectionsPerUser {
		metrics.ConnectionRejected("user_limit")
		s.logger.Warn().Str("user_id", userID).Int("count", perUser).Msg("Rejecting connection, per-user limit reached")
		s.rejectWithPolicyViolation(socket, "per-user connection limit exceeded")
		return
	}

	conn := NewConnection(userID)
	s.registry.Add(conn)
	s.socketsMu.Lock()
	s.sockets[conn.ID] = socket
	s.socketsMu.Unlock()
	metrics.ConnectionOpened()

	s.logger.Info().
		Str("conn_id", conn.ID).
		Str("user_id", userID).
		Msg("Connection established")

	connCtx, connCancel := context.WithCancel(s.rootCtx)

	s.wg.Add(1)
	go s.pingLoop(connCtx, conn, socket)

	s.readLoop(connCtx, conn, socket)
	connCancel()
	s.cleanupConnection(conn, socket)
}

// readLoop is the session's single frame reader. A read timeout probes the
// client with a ping once; a second consecutive timeout ends the session.
func (s *Service) readLoop(ctx context.Context, conn *Connection, socket *websocket.Conn) {
	defer logging.RecoverPanic(s.logger, "read_loop", map[string]any{"conn_id": conn.ID})

	limiter := rate.NewLimiter(rate.Limit(s.opts.MessageRateLimit), s.opts.MessageRateBurst)

	_ = socket.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	socket.SetPongHandler(func(string) error {
		conn.Touch()
		return socket.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	})

	probed := false
	for {
		if ctx.Err() != nil {
			return
		}
		_, payload, err := socket.ReadMessage()
		if err != nil {
			if isTimeout(err) && !probed {
				probed = true
				if pingErr := s.writePing(socket); pingErr != nil {
					s.logger.Debug().Err(pingErr).Str("conn_id", conn.ID).Msg("Liveness probe failed")
					return
				}
				_ = socket.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
				continue
			}
			if !isExpectedClose(err) {
				s.logger.Warn().Err(err).Str("conn_id", conn.ID).Msg("Read error")
			}
			return
		}
		probed = false
		conn.Touch()
		_ = socket.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))

		if !limiter.Allow() {
			metrics.RateLimited()
			s.logger.Warn().Str("conn_id", conn.ID).Msg("Dropping frame, rate limit exceeded")
			continue
		}

		metrics.MessageReceived()
		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.sendMessage(conn, socket, errorFrame("", "", "", CodeOperationInvalid, "malformed message"))
			continue
		}
		s.handleMessage(ctx, conn, socket, &msg)
	}
}

// pingLoop sends a keepalive ping every interval. A write failure means the
// socket is gone; the read loop notices via its deadline.
func (s *Service) pingLoop(ctx context.Context, conn *Connection, socket *websocket.Conn) {
	defer s.wg.Done()
	defer logging.RecoverPanic(s.logger, "ping_loop", map[string]any{"conn_id": conn.ID})

	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.writePing(socket); err != nil {
				s.logger.Debug().Err(err).Str("conn_id", conn.ID).Msg("Keepalive ping failed")
				return
			}
		}
	}
}

// cleanupConnection releases everything a session holds. Safe to call more
// than once; only the first caller does the work.
func (s *Service) cleanupConnection(conn *Connection, socket *websocket.Conn) {
	if !conn.Deactivate() {
		return
	}
	defer logging.RecoverPanic(s.logger, "cleanup", map[string]any{"conn_id": conn.ID})

	channels := conn.CancelAllSubscriptions()
	for _, channel := range s.presence.ChannelsForClient(conn.ID) {
		s.presence.RemovePresence(channel, conn.ID)
	}

	s.registry.Remove(conn.ID)
	s.socketsMu.Lock()
	delete(s.sockets, conn.ID)
	s.socketsMu.Unlock()
	metrics.ConnectionClosed()

	s.writeMu.Lock()
	_ = socket.SetWriteDeadline(time.Now().Add(time.Second))
	_ = socket.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()
	_ = socket.Close()

	s.logger.Info().
		Str("conn_id", conn.ID).
		Str("user_id", conn.UserID).
		Int("subscriptions", len(channels)).
		Msg("Connection cleaned up")
}

// cleanupRoutine force-closes connections with no liveness signal for longer
// than the inactivity window.
func (s *Service) cleanupRoutine() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.rootCtx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-s.opts.InactiveAfter)
			s.registry.Range(func(conn *Connection) bool {
				if conn.Active() && conn.LastSeen().Before(cutoff) {
					s.logger.Warn().
						Str("conn_id", conn.ID).
						Time("last_seen", conn.LastSeen()).
						Msg("Force-closing inactive connection")
					if socket, ok := s.socketFor(conn.ID); ok {
						s.cleanupConnection(conn, socket)
					}
				}
				return true
			})
		}
	}
}

// PublishOp fans one committed operation out to its collection and per-doc
// channels, then emits the derived business events.
func (s *Service) PublishOp(ctx context.Context, op *opbuilder.Operation) error {
	channels := []string{op.Collection, adapter.DocChannel(op.Collection, op.DocID)}
	if err := s.bus.Publish(ctx, channels, op); err != nil {
		return err
	}
	for _, event := range events.Convert(op, time.Now()) {
		if err := s.events.Publish(event); err != nil {
			s.logger.Warn().Err(err).Str("event", event.Name).Msg("Business event publish failed")
		}
	}
	return nil
}

// WithTransaction runs fn with a transaction accumulator in scope. On
// success every accumulated op publishes in insertion order; on error the
// accumulator is discarded and nothing hits the wire.
func (s *Service) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	txCtx, tc := GetOrCreateTransactionContext(ctx)
	if err := fn(txCtx); err != nil {
		tc.Clear()
		return err
	}
	return s.commit(ctx, tc)
}

func (s *Service) commit(ctx context.Context, tc *TransactionContext) error {
	if tc.IsEmpty() {
		return nil
	}
	for _, opMap := range tc.GetRawOpMaps() {
		for _, docID := range sortedDocIDs(opMap) {
			if err := s.PublishOp(ctx, opMap[docID]); err != nil {
				return err
			}
		}
	}
	if keys := tc.GetCacheKeys(); len(keys) > 0 {
		s.logger.Debug().Strs("cache_keys", keys).Msg("Cache keys invalidated")
	}
	tc.Clear()
	return nil
}

// BroadcastRecordOps lets business code broadcast synthesized record edits.
// Inside a transaction the ops accumulate until commit; otherwise they
// publish immediately.
func (s *Service) BroadcastRecordOps(ctx context.Context, tableID string, opsByRecord map[string][]opbuilder.OTOp) error {
	collection := adapter.FormatCollection(adapter.DocTypeRecord, tableID)
	opMap := make(map[string]*opbuilder.Operation, len(opsByRecord))
	for recordID, ops := range opsByRecord {
		if len(ops) == 0 {
			continue
		}
		opMap[recordID] = opbuilder.NewEdit(collection, recordID, 0, ops)
	}
	if len(opMap) == 0 {
		return nil
	}

	if tc, ok := TransactionContextFrom(ctx); ok {
		tc.AddRawOpMap(opMap)
		return nil
	}
	for _, docID := range sortedDocIDs(opMap) {
		if err := s.PublishOp(ctx, opMap[docID]); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown stops background routines and closes every live session.
func (s *Service) Shutdown(ctx context.Context) error {
	s.rootStop()

	s.registry.Range(func(conn *Connection) bool {
		if socket, ok := s.socketFor(conn.ID); ok {
			s.cleanupConnection(conn, socket)
		}
		return true
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) socketFor(connID string) (*websocket.Conn, bool) {
	s.socketsMu.Lock()
	defer s.socketsMu.Unlock()
	socket, ok := s.sockets[connID]
	return socket, ok
}

// sendMessage writes one frame under the service write mutex. A write
// failure that smells like a dead peer tears the session down.
func (s *Service) sendMessage(conn *Connection, socket *websocket.Conn, msg *Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error().Err(err).Str("conn_id", conn.ID).Msg("Frame marshal failed")
		return
	}

	s.writeMu.Lock()
	_ = socket.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	err = socket.WriteMessage(websocket.TextMessage, payload)
	s.writeMu.Unlock()

	if err != nil {
		if isConnectionLost(err) {
			s.logger.Debug().Err(err).Str("conn_id", conn.ID).Msg("Connection lost on write")
			s.cleanupConnection(conn, socket)
			return
		}
		s.logger.Warn().Err(err).Str("conn_id", conn.ID).Msg("Frame write failed")
		return
	}
	metrics.MessageSent()
}

func (s *Service) sendError(conn *Connection, socket *websocket.Conn, action, collection, docID, code, message string) {
	s.sendMessage(conn, socket, errorFrame(action, collection, docID, code, message))
}

// rejectWithPolicyViolation closes a just-upgraded socket with a 1008 close
// frame so the client sees the rejection reason instead of a handshake error.
func (s *Service) rejectWithPolicyViolation(socket *websocket.Conn, reason string) {
	deadline := time.Now().Add(s.opts.WriteTimeout)
	_ = socket.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), deadline)
	_ = socket.Close()
}

// writePing sends a control ping under the write mutex.
func (s *Service) writePing(socket *websocket.Conn) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return socket.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.opts.WriteTimeout))
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isExpectedClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return true
	}
	return isConnectionLost(err)
}

// isConnectionLost classifies write/read failures that mean the peer is
// gone. String matching is unavoidable for the syscall-level cases.
func isConnectionLost(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	text := err.Error()
	return strings.Contains(text, "broken pipe") ||
		strings.Contains(text, "connection reset by peer") ||
		strings.Contains(text, "use of closed network connection")
}
