package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store used in development mode and tests.
// Put* methods exist so test fixtures and the dev seed can populate it; they
// bump the document version the way the SQL layer does on write.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]*Record // tableID -> recordID -> record
	fields  map[string]map[string]*Field
	views   map[string]map[string]*View
	tables  map[string]*Table
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]map[string]*Record),
		fields:  make(map[string]map[string]*Field),
		views:   make(map[string]map[string]*View),
		tables:  make(map[string]*Table),
	}
}

func (m *MemoryStore) GetRecord(_ context.Context, tableID, recordID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[tableID][recordID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	cp.Fields = copyFields(rec.Fields)
	return &cp, nil
}

func (m *MemoryStore) ListRecordIDs(_ context.Context, tableID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.records[tableID]), nil
}

func (m *MemoryStore) GetField(_ context.Context, tableID, fieldID string) (*Field, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.fields[tableID][fieldID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *MemoryStore) ListFieldIDs(_ context.Context, tableID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.fields[tableID]), nil
}

func (m *MemoryStore) GetView(_ context.Context, tableID, viewID string) (*View, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.views[tableID][viewID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *MemoryStore) ListViewIDs(_ context.Context, tableID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.views[tableID]), nil
}

func (m *MemoryStore) GetTable(_ context.Context, tableID string) (*Table, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[tableID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) ListTableIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.tables))
	for id := range m.tables {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) PutRecord(rec *Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records[rec.TableID] == nil {
		m.records[rec.TableID] = make(map[string]*Record)
	}
	if prev, ok := m.records[rec.TableID][rec.ID]; ok && rec.Version <= prev.Version {
		rec.Version = prev.Version + 1
	}
	cp := *rec
	cp.Fields = copyFields(rec.Fields)
	m.records[rec.TableID][rec.ID] = &cp
}

func (m *MemoryStore) PutField(f *Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fields[f.TableID] == nil {
		m.fields[f.TableID] = make(map[string]*Field)
	}
	cp := *f
	m.fields[f.TableID][f.ID] = &cp
}

func (m *MemoryStore) PutView(v *View) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.views[v.TableID] == nil {
		m.views[v.TableID] = make(map[string]*View)
	}
	cp := *v
	m.views[v.TableID][v.ID] = &cp
}

func (m *MemoryStore) PutTable(t *Table) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tables[t.ID] = &cp
}

func (m *MemoryStore) DeleteRecord(tableID, recordID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records[tableID], recordID)
}

func (m *MemoryStore) Close() error { return nil }

func copyFields(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
