// Package opbuilder defines the internal operation envelope exchanged over
// the op bus, plus pure constructors for the JSON0 operations the server
// synthesizes on behalf of business logic.
package opbuilder

import "encoding/json"

// OpType discriminates the three operation variants. Exactly one of
// Operation.Op, Operation.Create or Operation.Del is populated for a given
// type.
type OpType string

const (
	OpTypeCreate OpType = "create"
	OpTypeEdit   OpType = "edit"
	OpTypeDelete OpType = "delete"
)

// OTOp is a single JSON0 operation component.
//
// P is the path; the remaining fields follow json0 semantics: Oi/Od for
// object insert/delete, Li/Ld for list insert/delete, Na for numeric add.
// Pointer-typed values distinguish "absent" from "explicit null/zero" so a
// delete-only op (od without oi) round-trips through JSON unchanged.
type OTOp struct {
	P  []any    `json:"p"`
	Oi any      `json:"oi,omitempty"`
	Od any      `json:"od,omitempty"`
	Li any      `json:"li,omitempty"`
	Ld any      `json:"ld,omitempty"`
	Na *float64 `json:"na,omitempty"`
}

// CreatePayload carries the initial document for a create operation.
type CreatePayload struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Operation is the envelope published on pub/sub channels. Publishers must
// set Collection and DocID; subscribers route by channel name alone and read
// the OT list from Op.
type Operation struct {
	Type       OpType         `json:"type"`
	Collection string         `json:"collection"`
	DocID      string         `json:"docId"`
	Version    int64          `json:"version"`
	Op         []OTOp         `json:"op,omitempty"`
	Create     *CreatePayload `json:"create,omitempty"`
	Del        bool           `json:"del,omitempty"`
	Src        string         `json:"src,omitempty"`
	Seq        int64          `json:"seq,omitempty"`
}

// Marshal serializes the operation for the wire.
func (o *Operation) Marshal() ([]byte, error) {
	return json.Marshal(o)
}

// UnmarshalOperation decodes an operation envelope coming off the bus.
func UnmarshalOperation(data []byte) (*Operation, error) {
	var op Operation
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, err
	}
	return &op, nil
}
