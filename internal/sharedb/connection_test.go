package sharedb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConnectionDefaults(t *testing.T) {
	conn := NewConnection("user-1")

	assert.NotEmpty(t, conn.ID)
	assert.Equal(t, "user-1", conn.UserID)
	assert.True(t, conn.Active())
	assert.False(t, conn.LastSeen().IsZero())
}

func TestDeactivateOnlyOnce(t *testing.T) {
	conn := NewConnection("user-1")

	assert.True(t, conn.Deactivate())
	assert.False(t, conn.Deactivate())
	assert.False(t, conn.Active())
}

func TestAddSubscriptionReplacesPrior(t *testing.T) {
	conn := NewConnection("user-1")

	firstCancelled := false
	conn.AddSubscription("ch1", func() { firstCancelled = true })
	conn.AddSubscription("ch1", func() {})

	assert.True(t, firstCancelled)
	assert.True(t, conn.HasSubscription("ch1"))
}

func TestRemoveSubscription(t *testing.T) {
	conn := NewConnection("user-1")

	cancelled := false
	conn.AddSubscription("ch1", func() { cancelled = true })

	assert.True(t, conn.RemoveSubscription("ch1"))
	assert.True(t, cancelled)
	assert.False(t, conn.HasSubscription("ch1"))
	assert.False(t, conn.RemoveSubscription("ch1"))
}

func TestCancelAllSubscriptions(t *testing.T) {
	conn := NewConnection("user-1")

	cancelled := 0
	for _, ch := range []string{"ch1", "ch2", "ch3"} {
		conn.AddSubscription(ch, func() { cancelled++ })
	}

	channels := conn.CancelAllSubscriptions()
	assert.ElementsMatch(t, []string{"ch1", "ch2", "ch3"}, channels)
	assert.Equal(t, 3, cancelled)
	assert.Empty(t, conn.CancelAllSubscriptions())
}

func TestRegistryCounts(t *testing.T) {
	reg := NewRegistry()

	a1 := NewConnection("alice")
	a2 := NewConnection("alice")
	b1 := NewConnection("bob")
	reg.Add(a1)
	reg.Add(a2)
	reg.Add(b1)

	total, alice := reg.Counts("alice")
	assert.Equal(t, 3, total)
	assert.Equal(t, 2, alice)

	// Inactive connections do not count toward limits.
	require.True(t, a1.Deactivate())
	total, alice = reg.Counts("alice")
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, alice)

	reg.Remove(a2.ID)
	total, alice = reg.Counts("alice")
	assert.Equal(t, 1, total)
	assert.Equal(t, 0, alice)

	got, ok := reg.Get(b1.ID)
	require.True(t, ok)
	assert.Same(t, b1, got)
	_, ok = reg.Get(a2.ID)
	assert.False(t, ok)
}

func TestWithTransactionContextRoundTrip(t *testing.T) {
	tc := NewTransactionContext()
	ctx := WithTransactionContext(context.Background(), tc)

	got, ok := TransactionContextFrom(ctx)
	require.True(t, ok)
	assert.Same(t, tc, got)

	_, ok = TransactionContextFrom(context.Background())
	assert.False(t, ok)
}
