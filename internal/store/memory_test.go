package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordLifecycle(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	_, err := st.GetRecord(ctx, "tbl1", "rec_A")
	assert.ErrorIs(t, err, ErrNotFound)

	st.PutRecord(&Record{ID: "rec_A", TableID: "tbl1", Fields: map[string]any{"f": 1}, Version: 1})

	rec, err := st.GetRecord(ctx, "tbl1", "rec_A")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Version)
	assert.Equal(t, 1, rec.Fields["f"])

	st.DeleteRecord("tbl1", "rec_A")
	_, err = st.GetRecord(ctx, "tbl1", "rec_A")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutRecordBumpsStaleVersion(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	st.PutRecord(&Record{ID: "rec_A", TableID: "tbl1", Fields: map[string]any{}, Version: 5})
	st.PutRecord(&Record{ID: "rec_A", TableID: "tbl1", Fields: map[string]any{}, Version: 2})

	rec, err := st.GetRecord(ctx, "tbl1", "rec_A")
	require.NoError(t, err)
	assert.Equal(t, int64(6), rec.Version)
}

func TestGetRecordReturnsCopy(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	st.PutRecord(&Record{ID: "rec_A", TableID: "tbl1", Fields: map[string]any{"f": "orig"}})

	rec, err := st.GetRecord(ctx, "tbl1", "rec_A")
	require.NoError(t, err)
	rec.Fields["f"] = "mutated"

	again, err := st.GetRecord(ctx, "tbl1", "rec_A")
	require.NoError(t, err)
	assert.Equal(t, "orig", again.Fields["f"])
}

func TestListIDsSorted(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	st.PutRecord(&Record{ID: "rec_B", TableID: "tbl1", Fields: map[string]any{}})
	st.PutRecord(&Record{ID: "rec_A", TableID: "tbl1", Fields: map[string]any{}})
	st.PutField(&Field{ID: "fld_2", TableID: "tbl1"})
	st.PutField(&Field{ID: "fld_1", TableID: "tbl1"})
	st.PutView(&View{ID: "viw_1", TableID: "tbl1"})
	st.PutTable(&Table{ID: "tbl1"})
	st.PutTable(&Table{ID: "tbl0"})

	ids, err := st.ListRecordIDs(ctx, "tbl1")
	require.NoError(t, err)
	assert.Equal(t, []string{"rec_A", "rec_B"}, ids)

	ids, err = st.ListFieldIDs(ctx, "tbl1")
	require.NoError(t, err)
	assert.Equal(t, []string{"fld_1", "fld_2"}, ids)

	ids, err = st.ListViewIDs(ctx, "tbl1")
	require.NoError(t, err)
	assert.Equal(t, []string{"viw_1"}, ids)

	ids, err = st.ListTableIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tbl0", "tbl1"}, ids)
}

func TestEmptyTableListsAreEmpty(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	ids, err := st.ListRecordIDs(ctx, "tbl_missing")
	require.NoError(t, err)
	assert.Empty(t, ids)
}
