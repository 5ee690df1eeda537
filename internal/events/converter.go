// Package events converts committed operations into coarse business events
// and forwards them to the NATS event bus for downstream consumers
// (automation triggers, webhooks, audit).
package events

import (
	"fmt"
	"time"

	"github.com/easyspace-ai/easygrid-sub002/internal/adapter"
	"github.com/easyspace-ai/easygrid-sub002/internal/sharedb/opbuilder"
)

// BusinessEvent is the payload published per committed change. Name follows
// "<entity>.<action>" (record.updated, field.created, ...). FieldID is set
// only for per-field record updates.
type BusinessEvent struct {
	Name      string    `json:"name"`
	TableID   string    `json:"tableId"`
	DocID     string    `json:"docId"`
	FieldID   string    `json:"fieldId,omitempty"`
	Value     any       `json:"value,omitempty"`
	OldValue  any       `json:"oldValue,omitempty"`
	RawOps    []any     `json:"rawOps,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

var typeToEntity = map[adapter.DocType]string{
	adapter.DocTypeRecord: "record",
	adapter.DocTypeField:  "field",
	adapter.DocTypeView:   "view",
	adapter.DocTypeTable:  "table",
}

// Convert maps one operation to zero or more business events. The mapping is
// deterministic: event order follows op component order, and timestamps are
// taken from the caller-supplied now so identical inputs yield identical
// sequences.
//
// Record edits produce one event per component whose path is
// ["data", fieldID]; anything else on a record edit collapses into a single
// generic record.updated carrying the raw op list. Creates and deletes of any
// entity produce exactly one event.
func Convert(op *opbuilder.Operation, now time.Time) []BusinessEvent {
	if op == nil {
		return nil
	}
	docType, tableID := adapter.ParseCollection(op.Collection)
	entity := typeToEntity[docType]

	switch op.Type {
	case opbuilder.OpTypeCreate:
		return []BusinessEvent{{
			Name:      entity + ".created",
			TableID:   tableID,
			DocID:     op.DocID,
			Timestamp: now,
		}}
	case opbuilder.OpTypeDelete:
		return []BusinessEvent{{
			Name:      entity + ".deleted",
			TableID:   tableID,
			DocID:     op.DocID,
			Timestamp: now,
		}}
	case opbuilder.OpTypeEdit:
		if docType != adapter.DocTypeRecord {
			if len(op.Op) == 0 {
				return nil
			}
			return []BusinessEvent{{
				Name:      entity + ".updated",
				TableID:   tableID,
				DocID:     op.DocID,
				RawOps:    rawOps(op.Op),
				Timestamp: now,
			}}
		}
		return convertRecordEdit(op, tableID, now)
	default:
		return nil
	}
}

func convertRecordEdit(op *opbuilder.Operation, tableID string, now time.Time) []BusinessEvent {
	if len(op.Op) == 0 {
		return nil
	}

	events := make([]BusinessEvent, 0, len(op.Op))
	var leftover []opbuilder.OTOp
	for _, component := range op.Op {
		fieldID, ok := fieldPath(component)
		if !ok {
			leftover = append(leftover, component)
			continue
		}
		events = append(events, BusinessEvent{
			Name:      "record.updated",
			TableID:   tableID,
			DocID:     op.DocID,
			FieldID:   fieldID,
			Value:     component.Oi,
			OldValue:  component.Od,
			Timestamp: now,
		})
	}
	if len(leftover) > 0 {
		events = append(events, BusinessEvent{
			Name:      "record.updated",
			TableID:   tableID,
			DocID:     op.DocID,
			RawOps:    rawOps(leftover),
			Timestamp: now,
		})
	}
	return events
}

// fieldPath extracts the field ID from a ["data", fieldID, ...] path.
func fieldPath(component opbuilder.OTOp) (string, bool) {
	if len(component.P) < 2 {
		return "", false
	}
	head, ok := component.P[0].(string)
	if !ok || head != "data" {
		return "", false
	}
	switch id := component.P[1].(type) {
	case string:
		return id, true
	default:
		return fmt.Sprintf("%v", id), true
	}
}

func rawOps(components []opbuilder.OTOp) []any {
	out := make([]any, len(components))
	for i, c := range components {
		out[i] = c
	}
	return out
}
