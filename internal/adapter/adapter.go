package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/easyspace-ai/easygrid-sub002/internal/sharedb/opbuilder"
	"github.com/easyspace-ai/easygrid-sub002/internal/store"
)

// Snapshot is a point-in-time copy of a document. Version is monotonically
// non-decreasing per (collection, docID); Data for records is
// {data: {<fieldID>: <value>}} so client op paths ["data", fieldID] address
// the right subtree.
type Snapshot struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Version int64  `json:"v"`
	Data    any    `json:"data"`
	Meta    any    `json:"m,omitempty"`
}

// Adapter serves snapshots and doc-id queries for any collection.
//
// GetSnapshot returns (nil, nil) on a miss; the subscribe path supplies an
// empty skeleton so subscriptions persist across create. Backend failures
// return an error and surface as SERVER_ERROR frames.
type Adapter interface {
	GetSnapshot(ctx context.Context, collection, docID string, projection map[string]bool) (*Snapshot, error)
	GetDocIDsByQuery(ctx context.Context, collection string, query map[string]any) ([]string, error)
	GetOps(ctx context.Context, collection, docID string, from, to int64) ([]*opbuilder.Operation, error)
	SkipPoll(collection, docID string, op *opbuilder.Operation, query map[string]any) bool
	Close() error
}

// docAdapter is the per-type snapshot/query surface behind the dispatcher.
type docAdapter interface {
	getSnapshot(ctx context.Context, tableID, docID string) (*Snapshot, error)
	getDocIDs(ctx context.Context, tableID string) ([]string, error)
}

// DispatchAdapter routes by collection prefix to a typed adapter. One
// instance is shared by all connections.
type DispatchAdapter struct {
	byType map[DocType]docAdapter
	store  store.Store
	logger zerolog.Logger
}

func NewDispatchAdapter(st store.Store, logger zerolog.Logger) *DispatchAdapter {
	return &DispatchAdapter{
		byType: map[DocType]docAdapter{
			DocTypeRecord: &recordAdapter{store: st},
			DocTypeField:  &fieldAdapter{store: st},
			DocTypeView:   &viewAdapter{store: st},
			DocTypeTable:  &tableAdapter{store: st},
		},
		store:  st,
		logger: logger,
	}
}

func (a *DispatchAdapter) GetSnapshot(ctx context.Context, collection, docID string, _ map[string]bool) (*Snapshot, error) {
	docType, tableID := ParseCollection(collection)
	snap, err := a.byType[docType].getSnapshot(ctx, tableID, docID)
	if errors.Is(err, store.ErrNotFound) {
		a.logger.Debug().
			Str("collection", collection).
			Str("doc_id", docID).
			Msg("Snapshot miss")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s/%s: %w", collection, docID, err)
	}
	return snap, nil
}

func (a *DispatchAdapter) GetDocIDsByQuery(ctx context.Context, collection string, _ map[string]any) ([]string, error) {
	docType, tableID := ParseCollection(collection)
	ids, err := a.byType[docType].getDocIDs(ctx, tableID)
	if err != nil {
		return nil, fmt.Errorf("list doc ids %s: %w", collection, err)
	}
	return ids, nil
}

// GetOps returns op history between versions. No replay store is kept, so
// the result is always empty; live sessions do not depend on it.
func (a *DispatchAdapter) GetOps(_ context.Context, _, _ string, _, _ int64) ([]*opbuilder.Operation, error) {
	return nil, nil
}

// SkipPoll reports whether an op carries no effective mutation, letting
// query subscribers skip re-evaluation.
func (a *DispatchAdapter) SkipPoll(_, _ string, op *opbuilder.Operation, _ map[string]any) bool {
	if op == nil {
		return true
	}
	return op.Type == opbuilder.OpTypeEdit && len(op.Op) == 0
}

func (a *DispatchAdapter) Close() error {
	return a.store.Close()
}

type recordAdapter struct {
	store store.Store
}

func (r *recordAdapter) getSnapshot(ctx context.Context, tableID, recordID string) (*Snapshot, error) {
	rec, err := r.store.GetRecord(ctx, tableID, recordID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		ID:      rec.ID,
		Type:    "json0",
		Version: rec.Version,
		Data:    map[string]any{"data": rec.Fields},
	}, nil
}

func (r *recordAdapter) getDocIDs(ctx context.Context, tableID string) ([]string, error) {
	return r.store.ListRecordIDs(ctx, tableID)
}

type fieldAdapter struct {
	store store.Store
}

func (f *fieldAdapter) getSnapshot(ctx context.Context, tableID, fieldID string) (*Snapshot, error) {
	fld, err := f.store.GetField(ctx, tableID, fieldID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		ID:      fld.ID,
		Type:    "json0",
		Version: fld.Version,
		Data:    map[string]any{"id": fld.ID, "name": fld.Name, "type": fld.Type},
	}, nil
}

func (f *fieldAdapter) getDocIDs(ctx context.Context, tableID string) ([]string, error) {
	return f.store.ListFieldIDs(ctx, tableID)
}

type viewAdapter struct {
	store store.Store
}

func (v *viewAdapter) getSnapshot(ctx context.Context, tableID, viewID string) (*Snapshot, error) {
	vw, err := v.store.GetView(ctx, tableID, viewID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		ID:      vw.ID,
		Type:    "json0",
		Version: vw.Version,
		Data:    map[string]any{"id": vw.ID, "name": vw.Name, "type": vw.Type},
	}, nil
}

func (v *viewAdapter) getDocIDs(ctx context.Context, tableID string) ([]string, error) {
	return v.store.ListViewIDs(ctx, tableID)
}

type tableAdapter struct {
	store store.Store
}

func (t *tableAdapter) getSnapshot(ctx context.Context, _, tableID string) (*Snapshot, error) {
	tbl, err := t.store.GetTable(ctx, tableID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		ID:      tbl.ID,
		Type:    "json0",
		Version: tbl.Version,
		Data:    map[string]any{"id": tbl.ID, "name": tbl.Name},
	}, nil
}

func (t *tableAdapter) getDocIDs(ctx context.Context, _ string) ([]string, error) {
	return t.store.ListTableIDs(ctx)
}
