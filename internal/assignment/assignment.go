// Package assignment implements deterministic and
// threshold-probabilistic peer assignment for an object id, plus a
// consistency audit over an observed peer/object universe.
//
// Ported from original_source/dsm_storage_node/src/storage/deterministic_assignment.rs,
// retargeted from fixed [u8;32] ids to string object/peer
// ids via the canonical hash (internal/cryptokit).
package assignment

import (
	"encoding/binary"
	"sort"

	"github.com/aegismesh/sentrynode/internal/cryptokit"
)

// Replicas computes the fixed-replica assignment for object id o
// against a peer list. Peers are first sorted into a canonical
// lexicographic order so that the result is deterministic and
// permutation-invariant with respect to the caller's input ordering
// the index space is built over
// the sorted list, not the caller's slice order. For k = 1..r it
// hashes (o, k), interprets the first 8 bytes little-endian, and
// selects the peer at that index mod len(peers). Collisions across k
// may collapse the result to fewer than r distinct peers for a small
// peer list.
func Replicas(objectID string, r int, peers []string) []string {
	if len(peers) == 0 || r <= 0 {
		return nil
	}
	sorted := SortedPeers(peers)
	seen := make(map[string]struct{}, r)
	out := make([]string, 0, r)
	for k := 1; k <= r; k++ {
		idx := replicaIndex(objectID, k, len(sorted))
		peer := sorted[idx]
		if _, dup := seen[peer]; dup {
			continue
		}
		seen[peer] = struct{}{}
		out = append(out, peer)
	}
	return out
}

func replicaIndex(objectID string, k, n int) int {
	var kBytes [8]byte
	binary.LittleEndian.PutUint64(kBytes[:], uint64(k))
	hash := cryptokit.Hash([]byte(objectID), kBytes[:])
	h := binary.LittleEndian.Uint64(hash[:8])
	return int(h % uint64(n))
}

// SortedPeers returns peers in a canonical lexicographic order so
// that Replicas is permutation-invariant with respect to the caller's
// original ordering.
func SortedPeers(peers []string) []string {
	out := append([]string(nil), peers...)
	sort.Strings(out)
	return out
}

// Manager wraps a replication factor and the threshold used for cheap
// membership tests without enumerating all peers.
type Manager struct {
	ReplicationFactor int
	threshold         uint64
}

// NewManager builds a Manager whose threshold approximates
// u64::MAX * r/peerCountHint for the expected network size.
// A peerCountHint of 0 falls back to u64::MAX/3, matching the
// original's fixed one-third default.
func NewManager(replicationFactor int, peerCountHint int) *Manager {
	var threshold uint64
	if peerCountHint > 0 {
		threshold = uint64(float64(^uint64(0)) * float64(replicationFactor) / float64(peerCountHint))
	} else {
		threshold = ^uint64(0) / 3
	}
	return &Manager{ReplicationFactor: replicationFactor, threshold: threshold}
}

// IsResponsible reports whether selfID is responsible for objectID
// under the threshold-probabilistic scheme:
// first_u64_le(H(object_id || self_id)) < threshold.
func (m *Manager) IsResponsible(objectID, selfID string) bool {
	hash := cryptokit.Hash([]byte(objectID), []byte(selfID))
	h := binary.LittleEndian.Uint64(hash[:8])
	return h < m.threshold
}

// ResponsibleNodes filters allPeers down to those that test responsible
// for objectID, capped at ReplicationFactor. If none test responsible
// (small peer universe, low threshold), it falls back to a
// deterministic prefix of allPeers so at least one replica exists.
func (m *Manager) ResponsibleNodes(objectID string, allPeers []string) []string {
	out := make([]string, 0, m.ReplicationFactor)
	for _, peer := range allPeers {
		if m.IsResponsible(objectID, peer) {
			out = append(out, peer)
			if len(out) == m.ReplicationFactor {
				break
			}
		}
	}
	if len(out) == 0 && len(allPeers) > 0 {
		limit := m.ReplicationFactor
		if limit > len(allPeers) {
			limit = len(allPeers)
		}
		return append([]string(nil), allPeers[:limit]...)
	}
	return out
}

// MissingReplica pairs an object id with the peers expected to hold a
// copy but observed to have none, per the consistency audit.
type MissingReplica struct {
	ObjectID      string
	ExpectedPeers []string
}

// Audit verifies that, for every object in objectIDs, at least one
// peer from its fixed-replica assignment set is reported (via
// storedOn) to hold a copy. It returns the objects that fail this
// check along with their expected replica set.
func Audit(objectIDs []string, peers []string, replicationFactor int, storedOn func(objectID, peer string) bool) []MissingReplica {
	var missing []MissingReplica
	for _, id := range objectIDs {
		expected := Replicas(id, replicationFactor, peers)
		found := false
		for _, peer := range expected {
			if storedOn(id, peer) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, MissingReplica{ObjectID: id, ExpectedPeers: expected})
		}
	}
	return missing
}
