package opbuilder

// Record field ops use the path prefix ["data", fieldID] so they line up with
// the record snapshot shape {data: {<fieldID>: <value>}}. Document-level
// create/delete ops use [<kind>, <id>].

// SetRecordField builds an op that sets (or overwrites) one field of a
// record. old is carried as od so clients can transform against it; pass nil
// for a first write.
func SetRecordField(fieldID string, value, old any) OTOp {
	return OTOp{P: []any{"data", fieldID}, Oi: value, Od: old}
}

// DeleteRecordField builds an op that removes one field value.
func DeleteRecordField(fieldID string, old any) OTOp {
	return OTOp{P: []any{"data", fieldID}, Od: old}
}

// AddRecord builds the op broadcast when a record is created.
func AddRecord(recordID string, fields map[string]any) OTOp {
	return OTOp{P: []any{"record", recordID}, Oi: map[string]any{"data": fields}}
}

// DeleteRecord builds the op broadcast when a record is deleted.
func DeleteRecord(recordID string, fields map[string]any) OTOp {
	return OTOp{P: []any{"record", recordID}, Od: map[string]any{"data": fields}}
}

// AddField / DeleteField broadcast table schema changes.
func AddField(fieldID string, field map[string]any) OTOp {
	return OTOp{P: []any{"field", fieldID}, Oi: field}
}

func DeleteField(fieldID string, field map[string]any) OTOp {
	return OTOp{P: []any{"field", fieldID}, Od: field}
}

// AddView / DeleteView broadcast view changes.
func AddView(viewID string, view map[string]any) OTOp {
	return OTOp{P: []any{"view", viewID}, Oi: view}
}

func DeleteView(viewID string, view map[string]any) OTOp {
	return OTOp{P: []any{"view", viewID}, Od: view}
}

// AddTable / DeleteTable broadcast table lifecycle changes.
func AddTable(tableID string, table map[string]any) OTOp {
	return OTOp{P: []any{"table", tableID}, Oi: table}
}

func DeleteTable(tableID string, table map[string]any) OTOp {
	return OTOp{P: []any{"table", tableID}, Od: table}
}

// NewEdit wraps an OT op list in an edit envelope for a document.
func NewEdit(collection, docID string, version int64, ops []OTOp) *Operation {
	return &Operation{
		Type:       OpTypeEdit,
		Collection: collection,
		DocID:      docID,
		Version:    version,
		Op:         ops,
	}
}

// NewCreate wraps an initial document in a create envelope.
func NewCreate(collection, docID string, data any) *Operation {
	return &Operation{
		Type:       OpTypeCreate,
		Collection: collection,
		DocID:      docID,
		Create:     &CreatePayload{Type: "json0", Data: data},
	}
}

// NewDelete builds a delete envelope for a document.
func NewDelete(collection, docID string, version int64) *Operation {
	return &Operation{
		Type:       OpTypeDelete,
		Collection: collection,
		DocID:      docID,
		Version:    version,
		Del:        true,
	}
}
