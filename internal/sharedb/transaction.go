package sharedb

import (
	"context"
	"sort"
	"sync"

	"github.com/easyspace-ai/easygrid-sub002/internal/sharedb/opbuilder"
)

// TransactionContext accumulates operations produced by business logic so
// they publish only after the enclosing transaction commits. A rollback
// discards the accumulator and produces no network traffic.
type TransactionContext struct {
	mu        sync.Mutex
	rawOpMaps []map[string]*opbuilder.Operation
	cacheKeys []string
}

func NewTransactionContext() *TransactionContext {
	return &TransactionContext{}
}

// AddRawOpMap appends one batch of operations keyed by document ID.
func (t *TransactionContext) AddRawOpMap(ops map[string]*opbuilder.Operation) {
	if len(ops) == 0 {
		return
	}
	t.mu.Lock()
	t.rawOpMaps = append(t.rawOpMaps, ops)
	t.mu.Unlock()
}

// AddCacheKey records a cache key to invalidate after commit.
func (t *TransactionContext) AddCacheKey(key string) {
	t.mu.Lock()
	t.cacheKeys = append(t.cacheKeys, key)
	t.mu.Unlock()
}

// GetRawOpMaps returns the accumulated batches in insertion order.
func (t *TransactionContext) GetRawOpMaps() []map[string]*opbuilder.Operation {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]map[string]*opbuilder.Operation, len(t.rawOpMaps))
	copy(out, t.rawOpMaps)
	return out
}

func (t *TransactionContext) GetCacheKeys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.cacheKeys))
	copy(out, t.cacheKeys)
	return out
}

func (t *TransactionContext) IsEmpty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rawOpMaps) == 0 && len(t.cacheKeys) == 0
}

// Clear drops everything accumulated. Idempotent.
func (t *TransactionContext) Clear() {
	t.mu.Lock()
	t.rawOpMaps = nil
	t.cacheKeys = nil
	t.mu.Unlock()
}

// sortedDocIDs gives map iteration a stable order so publish order within a
// batch is deterministic.
func sortedDocIDs(ops map[string]*opbuilder.Operation) []string {
	ids := make([]string, 0, len(ops))
	for id := range ops {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type txContextKey struct{}

// WithTransactionContext attaches a transaction accumulator to ctx.
func WithTransactionContext(ctx context.Context, tc *TransactionContext) context.Context {
	return context.WithValue(ctx, txContextKey{}, tc)
}

// TransactionContextFrom extracts the accumulator, if one is in scope.
func TransactionContextFrom(ctx context.Context) (*TransactionContext, bool) {
	tc, ok := ctx.Value(txContextKey{}).(*TransactionContext)
	return tc, ok
}

// GetOrCreateTransactionContext returns the in-scope accumulator or attaches
// a fresh one.
func GetOrCreateTransactionContext(ctx context.Context) (context.Context, *TransactionContext) {
	if tc, ok := TransactionContextFrom(ctx); ok {
		return ctx, tc
	}
	tc := NewTransactionContext()
	return WithTransactionContext(ctx, tc), tc
}
