// Package adapter resolves ShareDB collection strings to typed document
// adapters and serves snapshots and doc-id enumerations from the store.
package adapter

import "strings"

// DocType is the document kind encoded in a collection prefix.
type DocType string

const (
	DocTypeRecord DocType = "record"
	DocTypeField  DocType = "field"
	DocTypeView   DocType = "view"
	DocTypeTable  DocType = "table"
)

var prefixToType = map[string]DocType{
	"rec":   DocTypeRecord,
	"field": DocTypeField,
	"view":  DocTypeView,
	"table": DocTypeTable,
}

var typeToPrefix = map[DocType]string{
	DocTypeRecord: "rec",
	DocTypeField:  "field",
	DocTypeView:   "view",
	DocTypeTable:  "table",
}

// ParseCollection splits "<prefix>_<tableID>" into (docType, tableID). The
// tokens after the first are rejoined with "_" so table IDs that themselves
// contain underscores ("tbl_ABC") survive the round trip. An unknown prefix
// defaults to record, matching client behavior.
func ParseCollection(collection string) (DocType, string) {
	parts := strings.Split(collection, "_")
	if len(parts) < 2 {
		return DocTypeRecord, collection
	}
	docType, ok := prefixToType[parts[0]]
	if !ok {
		return DocTypeRecord, collection
	}
	return docType, strings.Join(parts[1:], "_")
}

// FormatCollection is the inverse of ParseCollection.
func FormatCollection(docType DocType, tableID string) string {
	prefix, ok := typeToPrefix[docType]
	if !ok {
		prefix = "rec"
	}
	return prefix + "_" + tableID
}

// DocChannel returns the per-document pub/sub channel for (collection, docID).
func DocChannel(collection, docID string) string {
	return collection + "." + docID
}
