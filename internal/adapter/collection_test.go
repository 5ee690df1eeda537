package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCollection(t *testing.T) {
	tests := []struct {
		collection string
		docType    DocType
		tableID    string
	}{
		{"rec_tbl1", DocTypeRecord, "tbl1"},
		{"field_tbl1", DocTypeField, "tbl1"},
		{"view_tbl1", DocTypeView, "tbl1"},
		{"table_tbl1", DocTypeTable, "tbl1"},
		// Table IDs containing underscores survive the split.
		{"rec_tbl_ABC", DocTypeRecord, "tbl_ABC"},
		{"view_tbl_A_B", DocTypeView, "tbl_A_B"},
	}
	for _, tc := range tests {
		docType, tableID := ParseCollection(tc.collection)
		assert.Equal(t, tc.docType, docType, tc.collection)
		assert.Equal(t, tc.tableID, tableID, tc.collection)
	}
}

func TestParseCollectionUnknownPrefixDefaultsToRecord(t *testing.T) {
	docType, tableID := ParseCollection("bogus_tbl1")
	assert.Equal(t, DocTypeRecord, docType)
	assert.Equal(t, "bogus_tbl1", tableID)

	docType, tableID = ParseCollection("noseparator")
	assert.Equal(t, DocTypeRecord, docType)
	assert.Equal(t, "noseparator", tableID)
}

func TestCollectionRoundTrip(t *testing.T) {
	for _, docType := range []DocType{DocTypeRecord, DocTypeField, DocTypeView, DocTypeTable} {
		for _, tableID := range []string{"tbl1", "tbl_ABC", "tbl_A_B_C"} {
			gotType, gotTable := ParseCollection(FormatCollection(docType, tableID))
			assert.Equal(t, docType, gotType)
			assert.Equal(t, tableID, gotTable)
		}
	}
}

func TestDocChannel(t *testing.T) {
	assert.Equal(t, "rec_tbl1.rec_X", DocChannel("rec_tbl1", "rec_X"))
}
