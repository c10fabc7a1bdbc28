package localstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegismesh/sentrynode/internal/storetypes"
	"github.com/aegismesh/sentrynode/internal/vectorclock"
)

func newEntry(id string, priority int32, clock *vectorclock.Clock) *storetypes.BlindedEntry {
	if clock == nil {
		clock = vectorclock.New()
	}
	return &storetypes.BlindedEntry{
		BlindedID: id,
		Payload:   []byte("payload-" + id),
		CreatedAt: uint64(time.Now().Unix()),
		Region:    storetypes.DefaultRegion,
		Priority:  priority,
		Clock:     clock,
	}
}

func TestStoreThenRetrieveRoundTrip(t *testing.T) {
	m := NewMemory(MemoryConfig{})
	ctx := context.Background()

	entry := newEntry("id-1", 0, vectorclock.WithPeer("n1", 1))
	resp, err := m.Store(ctx, entry)
	require.NoError(t, err)
	assert.True(t, resp.Stored)

	got, err := m.Retrieve(ctx, "id-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entry.Payload, got.Payload)
}

func TestStoreAfterReplacesBeforeIsDropped(t *testing.T) {
	m := NewMemory(MemoryConfig{})
	ctx := context.Background()

	older := newEntry("id-1", 0, vectorclock.WithPeer("n1", 1))
	newer := newEntry("id-1", 0, vectorclock.WithPeer("n1", 2))
	newer.Payload = []byte("newer-payload")

	_, err := m.Store(ctx, older)
	require.NoError(t, err)
	resp, err := m.Store(ctx, newer)
	require.NoError(t, err)
	assert.True(t, resp.Stored)

	got, err := m.Retrieve(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, newer.Payload, got.Payload)

	// Re-storing the older, dominated entry must be silently dropped.
	resp, err = m.Store(ctx, older)
	require.NoError(t, err)
	assert.False(t, resp.Stored)
	got, err = m.Retrieve(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, newer.Payload, got.Payload)
}

func TestStoreEqualClockIsIdempotent(t *testing.T) {
	m := NewMemory(MemoryConfig{})
	ctx := context.Background()

	entry := newEntry("id-1", 0, vectorclock.WithPeer("n1", 1))
	_, err := m.Store(ctx, entry)
	require.NoError(t, err)

	again := newEntry("id-1", 0, vectorclock.WithPeer("n1", 1))
	again.Payload = []byte("different-but-equal-clock")
	resp, err := m.Store(ctx, again)
	require.NoError(t, err)
	assert.True(t, resp.Stored)

	got, err := m.Retrieve(ctx, "id-1")
	require.NoError(t, err)
	// Equal-clock store is idempotent: the original payload is retained.
	assert.Equal(t, entry.Payload, got.Payload)
}

func TestStoreConcurrentResolvesByProofHashAndMergesClocks(t *testing.T) {
	m := NewMemory(MemoryConfig{})
	ctx := context.Background()

	a := newEntry("id-1", 0, vectorclock.WithPeer("n1", 1))
	a.ProofHash = [32]byte{0x01}
	b := newEntry("id-1", 0, vectorclock.WithPeer("n2", 1))
	b.ProofHash = [32]byte{0x02}

	_, err := m.Store(ctx, a)
	require.NoError(t, err)
	rel := b.Clock.Compare(a.Clock)
	require.Equal(t, vectorclock.Concurrent.String(), rel.String())

	_, err = m.Store(ctx, b)
	require.NoError(t, err)

	got, err := m.Retrieve(ctx, "id-1")
	require.NoError(t, err)
	// b has the lexicographically greater proof hash, so it wins.
	assert.Equal(t, b.Payload, got.Payload)
	// The surviving entry's clock reflects both writers.
	assert.Equal(t, uint64(1), got.Clock.Get("n1"))
	assert.Equal(t, uint64(1), got.Clock.Get("n2"))
}

func TestRetrieveExpiredEntryReturnsNil(t *testing.T) {
	m := NewMemory(MemoryConfig{})
	ctx := context.Background()

	entry := newEntry("id-1", 0, nil)
	entry.TTL = 1
	entry.CreatedAt = uint64(time.Now().Add(-time.Hour).Unix())
	_, err := m.Store(ctx, entry)
	require.NoError(t, err)

	got, err := m.Retrieve(ctx, "id-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	exists, err := m.Exists(ctx, "id-1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestListReturnsSortedNonExpiredIDs(t *testing.T) {
	m := NewMemory(MemoryConfig{})
	ctx := context.Background()

	for _, id := range []string{"b", "a", "c"} {
		_, err := m.Store(ctx, newEntry(id, 0, nil))
		require.NoError(t, err)
	}

	ids, err := m.List(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestEvictionPrefersLowestPriorityThenLRU(t *testing.T) {
	m := NewMemory(MemoryConfig{MaxEntries: 2})
	ctx := context.Background()

	low := newEntry("low", 1, nil)
	mid1 := newEntry("mid1", 5, nil)
	mid2 := newEntry("mid2", 5, nil)

	_, err := m.Store(ctx, low)
	require.NoError(t, err)
	_, err = m.Store(ctx, mid1)
	require.NoError(t, err)

	// Touch low so it is the most recently used entry: an LRU-only
	// policy would then evict mid1, but "low" must still be evicted
	// first since it has the lowest priority.
	_, err = m.Retrieve(ctx, "low")
	require.NoError(t, err)

	_, err = m.Store(ctx, mid2)
	require.NoError(t, err)

	exists, err := m.Exists(ctx, "low")
	require.NoError(t, err)
	assert.False(t, exists, "lowest-priority entry should have been evicted")

	exists, err = m.Exists(ctx, "mid1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = m.Exists(ctx, "mid2")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestPrunRemovesOnlyExpiredEntries(t *testing.T) {
	m := NewMemory(MemoryConfig{})
	ctx := context.Background()

	fresh := newEntry("fresh", 0, nil)
	expired := newEntry("expired", 0, nil)
	expired.TTL = 1
	expired.CreatedAt = uint64(time.Now().Add(-time.Hour).Unix())

	_, err := m.Store(ctx, fresh)
	require.NoError(t, err)
	_, err = m.Store(ctx, expired)
	require.NoError(t, err)

	removed, err := m.Prune(ctx, func() int64 { return time.Now().Unix() })
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	ids, err := m.List(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, ids)
}

func TestPolicyPeerShims(t *testing.T) {
	m := NewMemory(MemoryConfig{})
	ctx := context.Background()

	stored, err := m.StorePolicy(ctx, &storetypes.PolicyEntry{ID: "p1", Data: []byte("policy-data")})
	require.NoError(t, err)
	assert.True(t, stored)

	got, err := m.GetPolicy(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []byte("policy-data"), got.Data)

	removed, err := m.RemovePolicy(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, removed)

	got, err = m.GetPolicy(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, m.StorePeer(ctx, &storetypes.PeerRecord{ID: "peer-1", Endpoint: "10.0.0.1:9000"}))
	peers, err := m.ListPeers(ctx)
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, "peer-1", peers[0].ID)

	require.NoError(t, m.DeletePeer(ctx, "peer-1"))
	peers, err = m.ListPeers(ctx)
	require.NoError(t, err)
	assert.Empty(t, peers)
}
