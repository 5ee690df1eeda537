package sharedb

import "github.com/easyspace-ai/easygrid-sub002/internal/adapter"

// Middleware inspects an inbound frame before dispatch. A non-nil return
// short-circuits into an error frame reply; the socket stays open.
type Middleware func(conn *Connection, msg *Message) *ProtocolError

// RecordOnlySubmit rejects op submissions against non-record collections.
// Field, view and table documents are read-only over this protocol; they
// change through the REST surface, which broadcasts the resulting ops
// server-side.
func RecordOnlySubmit(_ *Connection, msg *Message) *ProtocolError {
	if msg.A != ActionOp {
		return nil
	}
	docType, _ := adapter.ParseCollection(msg.C)
	if docType != adapter.DocTypeRecord {
		return &ProtocolError{
			Code:    CodeOperationInvalid,
			Message: "only record op can be committed",
		}
	}
	return nil
}
