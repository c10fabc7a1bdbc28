package storetypes

import (
	"time"

	"github.com/aegismesh/sentrynode/internal/vectorclock"
)

// DefaultRegion is assigned to entries that do not specify one.
const DefaultRegion = "global"

// DeviceIdentityPrefix marks blinded ids that carry a canonical
// device-identity record. The core storage components never
// interpret this prefix themselves — see internal/deviceidentity.
const DeviceIdentityPrefix = "device_identity:"

// BlindedEntry is the unit of replicated storage: an opaque,
// proof-hashed payload keyed by a blinded identifier.
type BlindedEntry struct {
	BlindedID string            `json:"blinded_id"`
	Payload   []byte            `json:"payload"`
	CreatedAt uint64            `json:"created_at"`
	TTL       uint64            `json:"ttl"`
	Region    string            `json:"region"`
	Priority  int32             `json:"priority"`
	ProofHash [32]byte          `json:"proof_hash"`
	Metadata  map[string]string `json:"metadata"`
	Clock     *vectorclock.Clock `json:"clock"`
}

// Expired reports whether the entry is logically absent at instant now.
func (e *BlindedEntry) Expired(now time.Time) bool {
	if e.TTL == 0 {
		return false
	}
	nowSec := uint64(now.Unix())
	if nowSec < e.CreatedAt {
		return false
	}
	return nowSec-e.CreatedAt >= e.TTL
}

// Clone returns a deep copy safe to mutate independently of e.
func (e *BlindedEntry) Clone() *BlindedEntry {
	out := *e
	out.Payload = append([]byte(nil), e.Payload...)
	out.Metadata = make(map[string]string, len(e.Metadata))
	for k, v := range e.Metadata {
		out.Metadata[k] = v
	}
	if e.Clock != nil {
		out.Clock = e.Clock.Clone()
	}
	return &out
}

// Size is the approximate byte footprint counted toward eviction ceilings.
func (e *BlindedEntry) Size() int64 {
	size := int64(len(e.BlindedID) + len(e.Payload) + len(e.Region) + 32)
	for k, v := range e.Metadata {
		size += int64(len(k) + len(v))
	}
	return size
}

// StorageResponse reports the outcome of a store() call.
type StorageResponse struct {
	BlindedID string `json:"blinded_id"`
	Stored    bool   `json:"stored"`
	Timestamp uint64 `json:"timestamp"`
}

// StorageStats summarizes the current contents of a Local Store.
type StorageStats struct {
	TotalEntries      uint64         `json:"total_entries"`
	TotalBytes        uint64         `json:"total_bytes"`
	TotalExpired      uint64         `json:"total_expired"`
	OldestEntry       *uint64        `json:"oldest_entry,omitempty"`
	NewestEntry       *uint64        `json:"newest_entry,omitempty"`
	AverageEntrySize  float64        `json:"average_entry_size"`
	TotalRegions      uint64         `json:"total_regions"`
	LastUpdated       uint64         `json:"last_updated"`
}

// PolicyEntry is the unit of the content-addressed policy store (CTPA).
type PolicyEntry struct {
	ID        string            `json:"id"`
	Hash      [32]byte          `json:"hash"`
	Data      []byte            `json:"data"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp uint64            `json:"timestamp"`
}

// Clone returns a deep copy of the policy entry.
func (p *PolicyEntry) Clone() *PolicyEntry {
	out := *p
	out.Data = append([]byte(nil), p.Data...)
	out.Metadata = make(map[string]string, len(p.Metadata))
	for k, v := range p.Metadata {
		out.Metadata[k] = v
	}
	return &out
}

// PeerRecord describes a peer known to this node.
type PeerRecord struct {
	ID           string    `json:"id"`
	Endpoint     string    `json:"endpoint"`
	Region       string    `json:"region"`
	LastSeen     time.Time `json:"last_seen"`
	Capabilities []string  `json:"capabilities"`
}

// Fresh reports whether the peer has been seen within nodeExpiry of now.
func (p *PeerRecord) Fresh(now time.Time, nodeExpiry time.Duration) bool {
	return now.Sub(p.LastSeen) < nodeExpiry
}
