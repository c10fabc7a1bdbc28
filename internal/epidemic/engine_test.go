package epidemic

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegismesh/sentrynode/internal/blindlayer"
	"github.com/aegismesh/sentrynode/internal/localstore"
	"github.com/aegismesh/sentrynode/internal/storetypes"
	"github.com/aegismesh/sentrynode/internal/vectorclock"
	"github.com/aegismesh/sentrynode/internal/wire"
)

// loopbackTransport routes every call directly to the peer Engine
// registered under the target's id, used to drive two in-process
// Engines through a real gossip/anti-entropy exchange without any
// actual network stack.
type loopbackTransport struct {
	mu      sync.Mutex
	engines map[string]*Engine
}

func newLoopbackTransport() *loopbackTransport {
	return &loopbackTransport{engines: make(map[string]*Engine)}
}

func (lt *loopbackTransport) register(id string, e *Engine) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	lt.engines[id] = e
}

func (lt *loopbackTransport) peerEngine(id string) *Engine {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.engines[id]
}

func (lt *loopbackTransport) SendDigest(ctx context.Context, peer storetypes.PeerRecord, digest wire.Digest) error {
	target := lt.peerEngine(peer.ID)
	if target == nil {
		return storetypes.New(storetypes.KindNetwork, "unknown peer "+peer.ID)
	}
	target.HandleGossipDigest(ctx, storetypes.PeerRecord{ID: digest.FromPeer}, digest)
	return nil
}

func (lt *loopbackTransport) ExchangeDigest(ctx context.Context, peer storetypes.PeerRecord, digest wire.Digest) (wire.Digest, error) {
	target := lt.peerEngine(peer.ID)
	if target == nil {
		return wire.Digest{}, storetypes.New(storetypes.KindNetwork, "unknown peer "+peer.ID)
	}
	return target.HandleDigest(ctx, digest)
}

func (lt *loopbackTransport) RequestTransfer(ctx context.Context, peer storetypes.PeerRecord, ids []string) (wire.Transfer, error) {
	target := lt.peerEngine(peer.ID)
	if target == nil {
		return wire.Transfer{}, storetypes.New(storetypes.KindNetwork, "unknown peer "+peer.ID)
	}
	var entries []*storetypes.BlindedEntry
	for _, id := range ids {
		entry, err := target.store.Retrieve(ctx, id)
		if err != nil || entry == nil {
			continue
		}
		entries = append(entries, entry)
	}
	return wire.Transfer{FromPeer: peer.ID, Seq: target.nextSeq(), Entries: entries}, nil
}

func (lt *loopbackTransport) SendTransfer(ctx context.Context, peer storetypes.PeerRecord, transfer wire.Transfer) error {
	target := lt.peerEngine(peer.ID)
	if target == nil {
		return storetypes.New(storetypes.KindNetwork, "unknown peer "+peer.ID)
	}
	target.HandleTransfer(ctx, transfer)
	return nil
}

func testConfig(selfID string) Config {
	return Config{
		SelfID:                      selfID,
		ReplicationFactor:           2,
		Fanout:                      3,
		MaxReconciliationDiff:       100,
		MaxLongLinks:                8,
		KNeighbors:                  4,
		NodeExpiry:                  time.Hour,
		GossipInterval:              time.Hour,
		ReconciliationInterval:      time.Hour,
		TopologyMaintenanceInterval: time.Hour,
	}
}

func sealedEntry(id, payload string, clock *vectorclock.Clock) *storetypes.BlindedEntry {
	return &storetypes.BlindedEntry{
		BlindedID: id,
		Payload:   []byte(payload),
		Region:    storetypes.DefaultRegion,
		ProofHash: blindlayer.ProofHash(id, []byte(payload)),
		Clock:     clock,
		CreatedAt: uint64(time.Now().Unix()),
	}
}

func TestApplyIncomingAfterReplaces(t *testing.T) {
	store := localstore.NewMemory(localstore.MemoryConfig{})
	topo := NewTopology("node-a")
	engine := New(testConfig("node-a"), store, topo, nil, NewMetrics(), nil)
	ctx := context.Background()

	older := sealedEntry("id-1", "old", vectorclock.WithPeer("node-b", 1))
	_, err := store.Store(ctx, older)
	require.NoError(t, err)

	newer := sealedEntry("id-1", "new", vectorclock.WithPeer("node-b", 2))
	require.NoError(t, engine.applyIncoming(ctx, newer))

	got, err := store.Retrieve(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, "new", string(got.Payload))
	// Own counter bumped on successful replace.
	assert.Equal(t, uint64(1), got.Clock.Get("node-a"))
}

func TestApplyIncomingRejectsTamperedProofHash(t *testing.T) {
	store := localstore.NewMemory(localstore.MemoryConfig{})
	topo := NewTopology("node-a")
	engine := New(testConfig("node-a"), store, topo, nil, NewMetrics(), nil)
	ctx := context.Background()

	bad := sealedEntry("id-1", "payload", vectorclock.WithPeer("node-b", 1))
	bad.ProofHash[0] ^= 0xFF

	err := engine.applyIncoming(ctx, bad)
	require.Error(t, err)
	assert.Equal(t, storetypes.KindIntegrity, storetypes.KindOf(err))

	got, err := store.Retrieve(ctx, "id-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestApplyIncomingConcurrentResolvesAndMergesClocks(t *testing.T) {
	store := localstore.NewMemory(localstore.MemoryConfig{})
	topo := NewTopology("node-a")
	engine := New(testConfig("node-a"), store, topo, nil, NewMetrics(), nil)
	ctx := context.Background()

	a := sealedEntry("id-1", "a", vectorclock.WithPeer("node-b", 1))
	b := sealedEntry("id-1", "b", vectorclock.WithPeer("node-c", 1))

	_, err := store.Store(ctx, a)
	require.NoError(t, err)
	require.NoError(t, engine.applyIncoming(ctx, b))

	got, err := store.Retrieve(ctx, "id-1")
	require.NoError(t, err)
	// Winner is whichever proof hash sorts greater lexicographically.
	winner := a
	if string(winner.ProofHash[:]) < string(b.ProofHash[:]) {
		winner = b
	}
	assert.Equal(t, winner.Payload, got.Payload)
	assert.Equal(t, uint64(1), got.Clock.Get("node-b"))
	assert.Equal(t, uint64(1), got.Clock.Get("node-c"))
	assert.Equal(t, uint64(1), got.Clock.Get("node-a"))
}

func TestGossipRoundConvergesTwoNodes(t *testing.T) {
	ctx := context.Background()
	storeA := localstore.NewMemory(localstore.MemoryConfig{})
	storeB := localstore.NewMemory(localstore.MemoryConfig{})
	topoA := NewTopology("node-a")
	topoB := NewTopology("node-b")
	transport := newLoopbackTransport()

	engineA := New(testConfig("node-a"), storeA, topoA, transport, NewMetrics(), nil)
	engineB := New(testConfig("node-b"), storeB, topoB, transport, NewMetrics(), nil)
	transport.register("node-a", engineA)
	transport.register("node-b", engineB)

	topoA.Upsert(storetypes.PeerRecord{ID: "node-b", LastSeen: time.Now()})
	topoB.Upsert(storetypes.PeerRecord{ID: "node-a", LastSeen: time.Now()})

	entry := sealedEntry("id-1", "hello", vectorclock.WithPeer("node-a", 1))
	_, err := storeA.Store(ctx, entry)
	require.NoError(t, err)
	engineA.NotifyWritten("id-1")

	engineA.gossipRound(ctx)

	got, err := storeB.Retrieve(ctx, "id-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "hello", string(got.Payload))
}

func TestReconciliationRoundPullsAndPushes(t *testing.T) {
	ctx := context.Background()
	storeA := localstore.NewMemory(localstore.MemoryConfig{})
	storeB := localstore.NewMemory(localstore.MemoryConfig{})
	topoA := NewTopology("node-a")
	topoB := NewTopology("node-b")
	transport := newLoopbackTransport()

	engineA := New(testConfig("node-a"), storeA, topoA, transport, NewMetrics(), nil)
	engineB := New(testConfig("node-b"), storeB, topoB, transport, NewMetrics(), nil)
	transport.register("node-a", engineA)
	transport.register("node-b", engineB)

	topoA.Upsert(storetypes.PeerRecord{ID: "node-b", LastSeen: time.Now()})
	topoB.Upsert(storetypes.PeerRecord{ID: "node-a", LastSeen: time.Now()})

	onlyOnA := sealedEntry("only-a", "a-data", vectorclock.WithPeer("node-a", 1))
	onlyOnB := sealedEntry("only-b", "b-data", vectorclock.WithPeer("node-b", 1))
	_, err := storeA.Store(ctx, onlyOnA)
	require.NoError(t, err)
	_, err = storeB.Store(ctx, onlyOnB)
	require.NoError(t, err)
	engineA.NotifyWritten("only-a")
	engineB.NotifyWritten("only-b")

	engineA.reconciliationRound(ctx)

	gotOnB, err := storeB.Retrieve(ctx, "only-a")
	require.NoError(t, err)
	require.NotNil(t, gotOnB)
	assert.Equal(t, "a-data", string(gotOnB.Payload))

	gotOnA, err := storeA.Retrieve(ctx, "only-b")
	require.NoError(t, err)
	require.NotNil(t, gotOnA)
	assert.Equal(t, "b-data", string(gotOnA.Payload))
}

func TestTopologyMaintainTrimsExpiredPeers(t *testing.T) {
	topo := NewTopology("self")
	topo.Upsert(storetypes.PeerRecord{ID: "stale", LastSeen: time.Now().Add(-time.Hour)})
	topo.Upsert(storetypes.PeerRecord{ID: "fresh", LastSeen: time.Now()})

	trimmed := topo.Maintain(time.Now(), 10*time.Minute, 10, 10)
	assert.Contains(t, trimmed, "stale")

	snapshot := topo.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "fresh", snapshot[0].ID)
}

func TestTopologyMaintainCapsLongLinks(t *testing.T) {
	topo := NewTopology("self")
	for i := 0; i < 10; i++ {
		topo.Upsert(storetypes.PeerRecord{ID: string(rune('a' + i)), LastSeen: time.Now()})
	}
	topo.Maintain(time.Now(), time.Hour, 2, 3)
	snapshot := topo.Snapshot()
	assert.LessOrEqual(t, len(snapshot), 5)
}
