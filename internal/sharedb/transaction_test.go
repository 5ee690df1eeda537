package sharedb

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easyspace-ai/easygrid-sub002/internal/adapter"
	"github.com/easyspace-ai/easygrid-sub002/internal/events"
	"github.com/easyspace-ai/easygrid-sub002/internal/presence"
	"github.com/easyspace-ai/easygrid-sub002/internal/pubsub"
	"github.com/easyspace-ai/easygrid-sub002/internal/sharedb/opbuilder"
	"github.com/easyspace-ai/easygrid-sub002/internal/store"
)

// recordingBus captures Publish calls in order.
type recordingBus struct {
	mu        sync.Mutex
	published []*opbuilder.Operation
	channels  [][]string
}

func (b *recordingBus) Publish(_ context.Context, channels []string, op *opbuilder.Operation) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, op)
	b.channels = append(b.channels, channels)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string, pubsub.Handler) error {
	return nil
}
func (b *recordingBus) Unsubscribe(context.Context, string) error { return nil }
func (b *recordingBus) Close() error                              { return nil }

func (b *recordingBus) ops() []*opbuilder.Operation {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*opbuilder.Operation, len(b.published))
	copy(out, b.published)
	return out
}

func newTxService(t *testing.T) (*Service, *recordingBus) {
	t.Helper()
	bus := &recordingBus{}
	st := store.NewMemoryStore()
	pm := presence.NewManager(0, zerolog.Nop())
	t.Cleanup(pm.Close)
	svc := NewService(Options{}, adapter.NewDispatchAdapter(st, zerolog.Nop()), bus, pm, events.NopBus{}, zerolog.Nop())
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })
	return svc, bus
}

func TestTransactionContextAccumulates(t *testing.T) {
	tc := NewTransactionContext()
	assert.True(t, tc.IsEmpty())

	tc.AddRawOpMap(map[string]*opbuilder.Operation{
		"rec_A": opbuilder.NewEdit("rec_tbl1", "rec_A", 1, nil),
	})
	tc.AddCacheKey("table:tbl1")

	assert.False(t, tc.IsEmpty())
	assert.Len(t, tc.GetRawOpMaps(), 1)
	assert.Equal(t, []string{"table:tbl1"}, tc.GetCacheKeys())

	// Empty batches are ignored.
	tc.AddRawOpMap(nil)
	assert.Len(t, tc.GetRawOpMaps(), 1)
}

func TestTransactionContextClearIdempotent(t *testing.T) {
	tc := NewTransactionContext()
	tc.AddRawOpMap(map[string]*opbuilder.Operation{
		"rec_A": opbuilder.NewEdit("rec_tbl1", "rec_A", 1, nil),
	})

	tc.Clear()
	assert.True(t, tc.IsEmpty())
	tc.Clear()
	assert.True(t, tc.IsEmpty())
}

func TestGetOrCreateTransactionContext(t *testing.T) {
	ctx, tc := GetOrCreateTransactionContext(context.Background())
	require.NotNil(t, tc)

	again, tc2 := GetOrCreateTransactionContext(ctx)
	assert.Same(t, tc, tc2)
	assert.Equal(t, ctx, again)
}

func TestCommitPublishesInInsertionOrder(t *testing.T) {
	svc, bus := newTxService(t)

	opA := opbuilder.NewEdit("rec_tbl_T1", "rec_R1", 1, []opbuilder.OTOp{opbuilder.SetRecordField("f1", "a", nil)})
	opB := opbuilder.NewEdit("rec_tbl_T1", "rec_R1", 2, []opbuilder.OTOp{opbuilder.SetRecordField("f1", "b", "a")})
	opC := opbuilder.NewEdit("rec_tbl_T1", "rec_R2", 1, []opbuilder.OTOp{opbuilder.SetRecordField("f2", "c", nil)})

	err := svc.WithTransaction(context.Background(), func(ctx context.Context) error {
		tc, ok := TransactionContextFrom(ctx)
		require.True(t, ok)
		tc.AddRawOpMap(map[string]*opbuilder.Operation{"rec_R1": opA})
		tc.AddRawOpMap(map[string]*opbuilder.Operation{"rec_R1": opB})
		tc.AddRawOpMap(map[string]*opbuilder.Operation{"rec_R2": opC})
		// Nothing publishes before commit.
		assert.Empty(t, bus.ops())
		return nil
	})
	require.NoError(t, err)

	published := bus.ops()
	require.Len(t, published, 3)
	assert.Same(t, opA, published[0])
	assert.Same(t, opB, published[1])
	assert.Same(t, opC, published[2])

	// Each publish targets the collection and the per-doc channel.
	assert.Equal(t, []string{"rec_tbl_T1", "rec_tbl_T1.rec_R1"}, bus.channels[0])
	assert.Equal(t, []string{"rec_tbl_T1", "rec_tbl_T1.rec_R2"}, bus.channels[2])
}

func TestRollbackPublishesNothing(t *testing.T) {
	svc, bus := newTxService(t)

	boom := errors.New("business failure")
	err := svc.WithTransaction(context.Background(), func(ctx context.Context) error {
		tc, _ := TransactionContextFrom(ctx)
		tc.AddRawOpMap(map[string]*opbuilder.Operation{
			"rec_R1": opbuilder.NewEdit("rec_tbl_T1", "rec_R1", 1, nil),
		})
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, bus.ops())
}

func TestEmptyTransactionCommitIsNoOp(t *testing.T) {
	svc, bus := newTxService(t)

	err := svc.WithTransaction(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Empty(t, bus.ops())
}

func TestCommitSortsWithinBatch(t *testing.T) {
	svc, bus := newTxService(t)

	err := svc.WithTransaction(context.Background(), func(ctx context.Context) error {
		tc, _ := TransactionContextFrom(ctx)
		tc.AddRawOpMap(map[string]*opbuilder.Operation{
			"rec_Z": opbuilder.NewEdit("rec_tbl_T1", "rec_Z", 1, nil),
			"rec_A": opbuilder.NewEdit("rec_tbl_T1", "rec_A", 1, nil),
		})
		return nil
	})
	require.NoError(t, err)

	published := bus.ops()
	require.Len(t, published, 2)
	assert.Equal(t, "rec_A", published[0].DocID)
	assert.Equal(t, "rec_Z", published[1].DocID)
}

func TestBroadcastRecordOps(t *testing.T) {
	svc, bus := newTxService(t)

	ops := map[string][]opbuilder.OTOp{
		"rec_R1": {opbuilder.SetRecordField("f1", "x", nil)},
		"rec_R2": {},
	}

	// Outside a transaction: immediate publish, empty op lists skipped.
	require.NoError(t, svc.BroadcastRecordOps(context.Background(), "tbl_T1", ops))
	published := bus.ops()
	require.Len(t, published, 1)
	assert.Equal(t, "rec_tbl_T1", published[0].Collection)
	assert.Equal(t, "rec_R1", published[0].DocID)

	// Inside a transaction: deferred until commit.
	err := svc.WithTransaction(context.Background(), func(ctx context.Context) error {
		require.NoError(t, svc.BroadcastRecordOps(ctx, "tbl_T1", ops))
		assert.Len(t, bus.ops(), 1)
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, bus.ops(), 2)
}
