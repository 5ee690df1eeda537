package sharedb

import (
	"context"

	"github.com/gorilla/websocket"

	"github.com/easyspace-ai/easygrid-sub002/internal/adapter"
	"github.com/easyspace-ai/easygrid-sub002/internal/presence"
	"github.com/easyspace-ai/easygrid-sub002/internal/sharedb/opbuilder"
)

// handleMessage routes one parsed frame. Middleware runs first; any
// middleware rejection becomes an error frame and the frame is not
// dispatched.
func (s *Service) handleMessage(ctx context.Context, conn *Connection, socket *websocket.Conn, msg *Message) {
	for _, mw := range s.middleware {
		if perr := mw(conn, msg); perr != nil {
			s.sendMessage(conn, socket, &Message{A: msg.A, C: msg.C, D: msg.D, Error: perr})
			return
		}
	}

	switch msg.A {
	case ActionHandshake:
		s.handleHandshake(conn, socket)
	case ActionFetch:
		s.handleFetch(ctx, conn, socket, msg)
	case ActionSubscribe:
		s.handleSubscribe(ctx, conn, socket, msg)
	case ActionUnsubscribe:
		s.handleUnsubscribe(conn, socket, msg)
	case ActionOp:
		s.handleOp(ctx, conn, socket, msg)
	case ActionPresence:
		s.handlePresence(conn, socket, msg)
	case ActionPresencePing:
		s.sendMessage(conn, socket, &Message{A: ActionPresencePing})
	default:
		s.sendError(conn, socket, msg.A, msg.C, msg.D, CodeOperationInvalid, "Unknown action")
	}
}

func (s *Service) handleHandshake(conn *Connection, socket *websocket.Conn) {
	s.sendMessage(conn, socket, &Message{
		A:        ActionHandshake,
		Protocol: 1,
		Type:     "json0",
		ID:       conn.ID,
	})
}

func (s *Service) handleFetch(ctx context.Context, conn *Connection, socket *websocket.Conn, msg *Message) {
	snap, err := s.adapter.GetSnapshot(ctx, msg.C, msg.D, nil)
	if err != nil {
		s.sendError(conn, socket, ActionFetch, msg.C, msg.D, CodeServerError, "snapshot fetch failed")
		return
	}
	if snap == nil {
		snap = emptySnapshot(msg.D)
	}
	s.sendMessage(conn, socket, &Message{A: ActionFetch, C: msg.C, D: msg.D, Data: snap})
}

// handleSubscribe installs the pub/sub consumer before fetching the
// snapshot, so an op committed between the two is delivered rather than
// lost. A missing document yields an empty skeleton with v:0 and the
// subscription is kept; a later create propagates through it.
func (s *Service) handleSubscribe(ctx context.Context, conn *Connection, socket *websocket.Conn, msg *Message) {
	collection, docID := msg.C, msg.D
	channel := adapter.DocChannel(collection, docID)

	subCtx, cancel := context.WithCancel(s.rootCtx)
	conn.AddSubscription(channel, cancel)

	// Ops committed between Subscribe and the snapshot fetch queue behind
	// this gate; nothing reaches the socket before the subscribe reply.
	ready := make(chan struct{})
	err := s.bus.Subscribe(subCtx, channel, func(op *opbuilder.Operation) {
		select {
		case <-ready:
		case <-subCtx.Done():
			return
		}
		s.deliverRemoteOp(conn, socket, collection, docID, op)
	})
	if err != nil {
		conn.RemoveSubscription(channel)
		s.sendError(conn, socket, ActionSubscribe, collection, docID, CodeServerError, "subscribe failed")
		return
	}

	snap, err := s.adapter.GetSnapshot(ctx, collection, docID, nil)
	if err != nil {
		conn.RemoveSubscription(channel)
		s.sendError(conn, socket, ActionSubscribe, collection, docID, CodeServerError, "snapshot fetch failed")
		return
	}
	if snap == nil {
		snap = emptySnapshot(docID)
	}
	s.sendMessage(conn, socket, &Message{
		A:    ActionSubscribe,
		C:    collection,
		D:    docID,
		Data: snap.Data,
		V:    version(snap.Version),
	})
	close(ready)
}

// deliverRemoteOp forwards one op from the bus to the subscriber's socket.
// The socket is probed first; a dead socket drops the op rather than
// erroring the whole connection from a consumer goroutine.
func (s *Service) deliverRemoteOp(conn *Connection, socket *websocket.Conn, collection, docID string, op *opbuilder.Operation) {
	if !conn.Active() {
		return
	}
	if err := s.writePing(socket); err != nil {
		s.logger.Debug().
			Err(err).
			Str("conn_id", conn.ID).
			Str("collection", collection).
			Str("doc_id", docID).
			Msg("Dropping op for unreachable subscriber")
		return
	}
	// The publish side carries no authoritative version; subscribers
	// re-fetch when they need strict versioning.
	s.sendMessage(conn, socket, &Message{
		A:      ActionOp,
		C:      collection,
		D:      docID,
		V:      version(0),
		Op:     op.Op,
		Create: op.Create,
		Del:    op.Del,
		Src:    op.Src,
		Seq:    op.Seq,
	})
}

func (s *Service) handleUnsubscribe(conn *Connection, socket *websocket.Conn, msg *Message) {
	channel := adapter.DocChannel(msg.C, msg.D)
	conn.RemoveSubscription(channel)
	s.sendMessage(conn, socket, &Message{A: ActionUnsubscribe, C: msg.C, D: msg.D})
}

// handleOp accepts a client submission, publishes it, and acks with the same
// frame. Publication is immediate unless a transaction accumulator is in
// scope on ctx.
func (s *Service) handleOp(ctx context.Context, conn *Connection, socket *websocket.Conn, msg *Message) {
	op, perr := operationFromMessage(msg)
	if perr != nil {
		s.sendMessage(conn, socket, &Message{A: ActionOp, C: msg.C, D: msg.D, Error: perr})
		return
	}

	if tc, ok := TransactionContextFrom(ctx); ok {
		tc.AddRawOpMap(map[string]*opbuilder.Operation{op.DocID: op})
	} else if err := s.PublishOp(ctx, op); err != nil {
		s.logger.Error().
			Err(err).
			Str("collection", op.Collection).
			Str("doc_id", op.DocID).
			Msg("Op publish failed")
		s.sendError(conn, socket, ActionOp, msg.C, msg.D, CodeServerError, "op publish failed")
		return
	}

	s.sendMessage(conn, socket, &Message{
		A:   ActionOp,
		C:   msg.C,
		D:   msg.D,
		V:   msg.V,
		Op:  msg.Op,
		Src: msg.Src,
		Seq: msg.Seq,
	})
}

// operationFromMessage validates an op frame and builds the internal
// envelope. Exactly one of op/create/del must be present.
func operationFromMessage(msg *Message) (*opbuilder.Operation, *ProtocolError) {
	var v int64
	if msg.V != nil {
		v = *msg.V
	}

	switch {
	case msg.Create != nil:
		return &opbuilder.Operation{
			Type:       opbuilder.OpTypeCreate,
			Collection: msg.C,
			DocID:      msg.D,
			Version:    v,
			Create:     msg.Create,
			Src:        msg.Src,
			Seq:        msg.Seq,
		}, nil
	case msg.Del:
		return &opbuilder.Operation{
			Type:       opbuilder.OpTypeDelete,
			Collection: msg.C,
			DocID:      msg.D,
			Version:    v,
			Del:        true,
			Src:        msg.Src,
			Seq:        msg.Seq,
		}, nil
	case len(msg.Op) > 0:
		return &opbuilder.Operation{
			Type:       opbuilder.OpTypeEdit,
			Collection: msg.C,
			DocID:      msg.D,
			Version:    v,
			Op:         msg.Op,
			Src:        msg.Src,
			Seq:        msg.Seq,
		}, nil
	default:
		return nil, &ProtocolError{Code: CodeOperationInvalid, Message: "empty op list"}
	}
}

// handlePresence stores the submission and fans the merged channel presence
// out to every connection subscribed to the document.
func (s *Service) handlePresence(conn *Connection, socket *websocket.Conn, msg *Message) {
	channel := adapter.DocChannel(msg.C, msg.D)
	s.presence.Submit(channel, conn.ID, conn.UserID, msg.Presence)

	merged := presenceMap(s.presence.GetPresences(channel))
	frame := &Message{A: ActionPresence, C: msg.C, D: msg.D, Presence: merged}

	s.sendMessage(conn, socket, frame)
	s.registry.Range(func(other *Connection) bool {
		if other.ID == conn.ID || !other.Active() || !other.HasSubscription(channel) {
			return true
		}
		if otherSocket, ok := s.socketFor(other.ID); ok {
			s.sendMessage(other, otherSocket, frame)
		}
		return true
	})
}

func presenceMap(records []*presence.Record) map[string]any {
	out := make(map[string]any, len(records))
	for _, rec := range records {
		out[rec.ClientID] = map[string]any{
			"userID":    rec.UserID,
			"data":      rec.Data,
			"timestamp": rec.Timestamp.Unix(),
		}
	}
	return out
}

func emptySnapshot(docID string) *adapter.Snapshot {
	return &adapter.Snapshot{
		ID:      docID,
		Type:    "json0",
		Version: 0,
		Data:    map[string]any{"data": map[string]any{}},
	}
}
