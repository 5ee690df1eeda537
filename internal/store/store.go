// Package store provides the persistent document models the adapter reads
// from. The realtime core never mutates documents; writes happen in the CRUD
// surface and arrive here already committed.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a document does not exist. The subscribe path
// treats it as non-fatal (subscribe-before-create).
var ErrNotFound = errors.New("store: document not found")

// Record is one row of a table. Fields maps fieldID to cell value.
type Record struct {
	ID      string
	TableID string
	Fields  map[string]any
	Version int64
}

// Field is one column definition of a table.
type Field struct {
	ID      string
	TableID string
	Name    string
	Type    string
	Version int64
}

// View is a saved configuration (filters, sorts, grouping) over a table.
type View struct {
	ID      string
	TableID string
	Name    string
	Type    string
	Version int64
}

// Table is the table document itself.
type Table struct {
	ID      string
	Name    string
	Version int64
}

// Store is the read surface the document adapter consumes.
type Store interface {
	GetRecord(ctx context.Context, tableID, recordID string) (*Record, error)
	ListRecordIDs(ctx context.Context, tableID string) ([]string, error)

	GetField(ctx context.Context, tableID, fieldID string) (*Field, error)
	ListFieldIDs(ctx context.Context, tableID string) ([]string, error)

	GetView(ctx context.Context, tableID, viewID string) (*View, error)
	ListViewIDs(ctx context.Context, tableID string) ([]string, error)

	GetTable(ctx context.Context, tableID string) (*Table, error)
	ListTableIDs(ctx context.Context) ([]string, error)

	Close() error
}
