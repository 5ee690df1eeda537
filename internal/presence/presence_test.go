package presence

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(ttl time.Duration) *Manager {
	return NewManager(ttl, zerolog.Nop())
}

func TestSubmitAndGet(t *testing.T) {
	m := newTestManager(DefaultTTL)
	defer m.Close()

	m.Submit("rec_tbl1.doc1", "client-a", "user-1", map[string]any{"cell": "A1"})
	m.Submit("rec_tbl1.doc1", "client-b", "user-2", map[string]any{"cell": "B2"})

	recs := m.GetPresences("rec_tbl1.doc1")
	require.Len(t, recs, 2)

	byClient := map[string]*Record{}
	for _, r := range recs {
		byClient[r.ClientID] = r
	}
	require.Contains(t, byClient, "client-a")
	assert.Equal(t, "user-1", byClient["client-a"].UserID)
	assert.Equal(t, map[string]any{"cell": "A1"}, byClient["client-a"].Data)
}

func TestSubmitReplacesExisting(t *testing.T) {
	m := newTestManager(DefaultTTL)
	defer m.Close()

	m.Submit("ch", "client-a", "user-1", "first")
	m.Submit("ch", "client-a", "user-1", "second")

	recs := m.GetPresences("ch")
	require.Len(t, recs, 1)
	assert.Equal(t, "second", recs[0].Data)
}

func TestNilDataKeptUntilExpiry(t *testing.T) {
	m := newTestManager(DefaultTTL)
	defer m.Close()

	m.Submit("ch", "client-a", "user-1", nil)

	recs := m.GetPresences("ch")
	require.Len(t, recs, 1)
	assert.Nil(t, recs[0].Data)
}

func TestExpiredRecordsFiltered(t *testing.T) {
	m := newTestManager(50 * time.Millisecond)
	defer m.Close()

	m.Submit("ch", "client-a", "user-1", "x")
	require.Len(t, m.GetPresences("ch"), 1)

	time.Sleep(80 * time.Millisecond)
	assert.Empty(t, m.GetPresences("ch"))
}

func TestRemovePresence(t *testing.T) {
	m := newTestManager(DefaultTTL)
	defer m.Close()

	m.Submit("ch", "client-a", "user-1", "x")
	m.Submit("ch", "client-b", "user-2", "y")

	m.RemovePresence("ch", "client-a")
	recs := m.GetPresences("ch")
	require.Len(t, recs, 1)
	assert.Equal(t, "client-b", recs[0].ClientID)

	// Removing an absent client is a no-op.
	m.RemovePresence("ch", "client-a")
	m.RemovePresence("missing-channel", "client-a")
	assert.Len(t, m.GetPresences("ch"), 1)
}

func TestChannelsForClient(t *testing.T) {
	m := newTestManager(DefaultTTL)
	defer m.Close()

	m.Submit("ch1", "client-a", "user-1", "x")
	m.Submit("ch2", "client-a", "user-1", "y")
	m.Submit("ch3", "client-b", "user-2", "z")

	channels := m.ChannelsForClient("client-a")
	assert.ElementsMatch(t, []string{"ch1", "ch2"}, channels)
	assert.Empty(t, m.ChannelsForClient("client-c"))
}

func TestCountAndEviction(t *testing.T) {
	m := newTestManager(50 * time.Millisecond)
	defer m.Close()

	m.Submit("ch1", "client-a", "user-1", "x")
	m.Submit("ch2", "client-b", "user-2", "y")
	assert.Equal(t, 2, m.Count())

	time.Sleep(80 * time.Millisecond)
	m.evictExpired()
	assert.Equal(t, 0, m.Count())
	assert.Empty(t, m.ChannelsForClient("client-a"))
}

func TestGetPresencesReturnsCopies(t *testing.T) {
	m := newTestManager(DefaultTTL)
	defer m.Close()

	m.Submit("ch", "client-a", "user-1", "x")
	recs := m.GetPresences("ch")
	require.Len(t, recs, 1)
	recs[0].UserID = "mutated"

	again := m.GetPresences("ch")
	require.Len(t, again, 1)
	assert.Equal(t, "user-1", again[0].UserID)
}

func TestCloseIdempotent(t *testing.T) {
	m := newTestManager(DefaultTTL)
	m.Close()
	m.Close()
}

func TestCloseDropsAllChannels(t *testing.T) {
	m := newTestManager(DefaultTTL)

	m.Submit("ch1", "client-a", "user-1", "x")
	m.Submit("ch2", "client-b", "user-2", "y")
	require.Equal(t, 2, m.Count())

	m.Close()

	assert.Equal(t, 0, m.Count())
	assert.Empty(t, m.GetPresences("ch1"))
	assert.Empty(t, m.GetPresences("ch2"))
	assert.Empty(t, m.ChannelsForClient("client-a"))
}
