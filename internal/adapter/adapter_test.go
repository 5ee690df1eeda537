package adapter

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easyspace-ai/easygrid-sub002/internal/sharedb/opbuilder"
	"github.com/easyspace-ai/easygrid-sub002/internal/store"
)

func newTestAdapter(t *testing.T) (*DispatchAdapter, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	return NewDispatchAdapter(st, zerolog.Nop()), st
}

func TestRecordSnapshotShape(t *testing.T) {
	a, st := newTestAdapter(t)
	st.PutRecord(&store.Record{
		ID:      "rec_X",
		TableID: "tbl_ABC",
		Fields:  map[string]any{"fld1": "hello"},
		Version: 3,
	})

	snap, err := a.GetSnapshot(context.Background(), "rec_tbl_ABC", "rec_X", nil)
	require.NoError(t, err)
	require.NotNil(t, snap)

	assert.Equal(t, "rec_X", snap.ID)
	assert.Equal(t, "json0", snap.Type)
	assert.Equal(t, int64(3), snap.Version)
	// Record data nests under "data" to match client op paths ["data", fieldID].
	assert.Equal(t, map[string]any{"data": map[string]any{"fld1": "hello"}}, snap.Data)
}

func TestSnapshotMissReturnsNilNil(t *testing.T) {
	a, _ := newTestAdapter(t)

	snap, err := a.GetSnapshot(context.Background(), "rec_tbl_ABC", "rec_missing", nil)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestFieldViewTableSnapshots(t *testing.T) {
	a, st := newTestAdapter(t)
	st.PutField(&store.Field{ID: "fld1", TableID: "tbl1", Name: "Name", Type: "text", Version: 1})
	st.PutView(&store.View{ID: "viw1", TableID: "tbl1", Name: "Grid", Type: "grid", Version: 2})
	st.PutTable(&store.Table{ID: "tbl1", Name: "Tasks", Version: 5})

	snap, err := a.GetSnapshot(context.Background(), "field_tbl1", "fld1", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": "fld1", "name": "Name", "type": "text"}, snap.Data)

	snap, err = a.GetSnapshot(context.Background(), "view_tbl1", "viw1", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Version)

	snap, err = a.GetSnapshot(context.Background(), "table_any", "tbl1", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), snap.Version)
	assert.Equal(t, map[string]any{"id": "tbl1", "name": "Tasks"}, snap.Data)
}

func TestGetDocIDsByQuery(t *testing.T) {
	a, st := newTestAdapter(t)
	st.PutRecord(&store.Record{ID: "rec_B", TableID: "tbl1", Fields: map[string]any{}})
	st.PutRecord(&store.Record{ID: "rec_A", TableID: "tbl1", Fields: map[string]any{}})
	st.PutRecord(&store.Record{ID: "rec_C", TableID: "tbl2", Fields: map[string]any{}})

	ids, err := a.GetDocIDsByQuery(context.Background(), "rec_tbl1", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"rec_A", "rec_B"}, ids)
}

func TestGetOpsAlwaysEmpty(t *testing.T) {
	a, _ := newTestAdapter(t)

	ops, err := a.GetOps(context.Background(), "rec_tbl1", "rec_X", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestSkipPoll(t *testing.T) {
	a, _ := newTestAdapter(t)

	assert.True(t, a.SkipPoll("rec_tbl1", "rec_X", nil, nil))
	assert.True(t, a.SkipPoll("rec_tbl1", "rec_X", opbuilder.NewEdit("rec_tbl1", "rec_X", 1, nil), nil))
	assert.False(t, a.SkipPoll("rec_tbl1", "rec_X", opbuilder.NewEdit("rec_tbl1", "rec_X", 1, []opbuilder.OTOp{
		opbuilder.SetRecordField("f", 1, 0),
	}), nil))
	assert.False(t, a.SkipPoll("rec_tbl1", "rec_X", opbuilder.NewCreate("rec_tbl1", "rec_X", nil), nil))
}
