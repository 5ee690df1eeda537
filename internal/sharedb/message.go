// Package sharedb implements the ShareDB-compatible realtime session layer:
// the WebSocket protocol dispatcher, connection lifecycle and limits, the
// transactional op propagation path, and presence fanout.
package sharedb

import (
	"fmt"

	"github.com/easyspace-ai/easygrid-sub002/internal/sharedb/opbuilder"
)

// Wire actions. One-letter names follow the ShareDB protocol.
const (
	ActionHandshake    = "hs"
	ActionFetch        = "f"
	ActionSubscribe    = "s"
	ActionUnsubscribe  = "us"
	ActionOp           = "op"
	ActionPresence     = "p"
	ActionPresencePing = "pp"
)

// Error codes carried in error frames.
const (
	CodeOperationInvalid = "OPERATION_INVALID"
	CodeServerError      = "SERVER_ERROR"
)

// ProtocolError is the error payload of an error frame. A protocol error
// keeps the socket open; only connection-level failures tear a session down.
type ProtocolError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Message is one JSON frame on the wire, inbound or outbound. Fields are a
// union over all actions; the dispatcher reads only the fields its action
// defines. V is a pointer so replies can carry an explicit v:0 while other
// frames omit the field entirely.
type Message struct {
	A        string                   `json:"a"`
	C        string                   `json:"c,omitempty"`
	D        string                   `json:"d,omitempty"`
	V        *int64                   `json:"v,omitempty"`
	Op       []opbuilder.OTOp         `json:"op,omitempty"`
	Create   *opbuilder.CreatePayload `json:"create,omitempty"`
	Data     any                      `json:"data,omitempty"`
	Del      bool                     `json:"del,omitempty"`
	Src      string                   `json:"src,omitempty"`
	Seq      int64                    `json:"seq,omitempty"`
	Presence any                      `json:"presence,omitempty"`
	Error    *ProtocolError           `json:"error,omitempty"`
	Protocol int                      `json:"protocol,omitempty"`
	Type     string                   `json:"type,omitempty"`
	ID       string                   `json:"id,omitempty"`
}

func version(v int64) *int64 { return &v }

func errorFrame(action, collection, docID, code, message string) *Message {
	return &Message{
		A: action,
		C: collection,
		D: docID,
		Error: &ProtocolError{
			Code:    code,
			Message: message,
		},
	}
}
