package epidemic

import (
	"encoding/binary"
	"sort"
	"sync"
	"time"

	"github.com/aegismesh/sentrynode/internal/cryptokit"
	"github.com/aegismesh/sentrynode/internal/storetypes"
)

// Topology owns the peer list. Per the cyclic-ownership note for the
// engine/topology relationship, it is owned by a parent alongside the
// Engine and handed down as a non-owning pointer — neither holds the
// other by value, avoiding a reference cycle. Mutation is restricted
// to the topology-maintenance task; every other task only reads
// Snapshot results.
type Topology struct {
	mu       sync.RWMutex
	selfID   string
	peers    map[string]storetypes.PeerRecord
	coord    map[string]uint64
	selfCoord uint64
}

// NewTopology seeds an empty topology for selfID.
func NewTopology(selfID string) *Topology {
	return &Topology{
		selfID:    selfID,
		peers:     make(map[string]storetypes.PeerRecord),
		coord:     make(map[string]uint64),
		selfCoord: idCoordinate(selfID),
	}
}

// idCoordinate maps a peer id into the id-space used for the
// nearest-neighbor metric, analogous to a Kademlia XOR distance over
// a fixed-width identifier.
func idCoordinate(id string) uint64 {
	h := cryptokit.Hash([]byte(id))
	return binary.LittleEndian.Uint64(h[:8])
}

func distance(a, b uint64) uint64 { return a ^ b }

// Upsert records or refreshes a peer's last-seen timestamp.
func (t *Topology) Upsert(peer storetypes.PeerRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[peer.ID] = peer
	if _, known := t.coord[peer.ID]; !known {
		t.coord[peer.ID] = idCoordinate(peer.ID)
	}
}

// Remove drops a peer from the topology.
func (t *Topology) Remove(peerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, peerID)
	delete(t.coord, peerID)
}

// Snapshot returns a read-only copy of the current peer list.
func (t *Topology) Snapshot() []storetypes.PeerRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]storetypes.PeerRecord, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FreshPeers returns peers whose last-seen falls within nodeExpiry of now.
func (t *Topology) FreshPeers(now time.Time, nodeExpiry time.Duration) []storetypes.PeerRecord {
	all := t.Snapshot()
	out := make([]storetypes.PeerRecord, 0, len(all))
	for _, p := range all {
		if p.Fresh(now, nodeExpiry) {
			out = append(out, p)
		}
	}
	return out
}

// Maintain runs the topology-maintenance pass: peers not
// seen within nodeExpiry are trimmed outright; among the survivors,
// the kNeighbors nearest to self (by id-space distance) are always
// kept, and the remaining "long-range" links are capped at
// maxLongLinks, dropping the most distant first.
func (t *Topology) Maintain(now time.Time, nodeExpiry time.Duration, kNeighbors, maxLongLinks int) (trimmed []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	type scored struct {
		id   string
		dist uint64
	}
	var alive []scored
	for id, p := range t.peers {
		if !p.Fresh(now, nodeExpiry) {
			delete(t.peers, id)
			delete(t.coord, id)
			trimmed = append(trimmed, id)
			continue
		}
		alive = append(alive, scored{id: id, dist: distance(t.selfCoord, t.coord[id])})
	}
	sort.Slice(alive, func(i, j int) bool { return alive[i].dist < alive[j].dist })

	if kNeighbors < 0 {
		kNeighbors = 0
	}
	if kNeighbors >= len(alive) {
		return trimmed
	}
	longRange := alive[kNeighbors:]
	if maxLongLinks < 0 {
		maxLongLinks = 0
	}
	if len(longRange) <= maxLongLinks {
		return trimmed
	}
	for _, victim := range longRange[maxLongLinks:] {
		delete(t.peers, victim.id)
		delete(t.coord, victim.id)
		trimmed = append(trimmed, victim.id)
	}
	return trimmed
}
