// Package localstore implements the uniform typed key→entry store
// used by every other core component: an in-memory backend with
// LRU/size eviction and a durable, crash-safe backend on top of
// go.etcd.io/bbolt. Both honor the exact same CRUD + list contract
// including the vector-clock conflict-resolution rule used to
// decide whether an incoming entry replaces an existing one.
package localstore

import (
	"context"

	"github.com/aegismesh/sentrynode/internal/storetypes"
)

// Backend is the capability surface every storage implementation
// (memory, durable, or a future SQL backend) must provide. This
// mirrors the source's trait-object StorageEngine: callers hold a
// Backend value and never care which concrete implementation backs
// it, selected once at construction time.
type Backend interface {
	Store(ctx context.Context, entry *storetypes.BlindedEntry) (storetypes.StorageResponse, error)
	Retrieve(ctx context.Context, blindedID string) (*storetypes.BlindedEntry, error)
	Delete(ctx context.Context, blindedID string) (bool, error)
	Exists(ctx context.Context, blindedID string) (bool, error)
	List(ctx context.Context, limit, offset int) ([]string, error)
	Stats(ctx context.Context) (storetypes.StorageStats, error)

	StorePolicy(ctx context.Context, entry *storetypes.PolicyEntry) (bool, error)
	GetPolicy(ctx context.Context, id string) (*storetypes.PolicyEntry, error)
	ListPolicies(ctx context.Context, limit, offset int) ([]storetypes.PolicyEntry, error)
	RemovePolicy(ctx context.Context, id string) (bool, error)

	StorePeer(ctx context.Context, peer *storetypes.PeerRecord) error
	ListPeers(ctx context.Context) ([]storetypes.PeerRecord, error)
	DeletePeer(ctx context.Context, id string) error

	// Prune removes all entries expired as of now and returns how many were removed.
	Prune(ctx context.Context, now func() int64) (int, error)

	Close() error
}

// EvictionPolicy selects which entries are candidates for removal
// when a memory ceiling is exceeded. LRU is the only policy specified
// today, but the type keeps the door open without widening the
// Backend surface.
type EvictionPolicy int

const (
	// EvictionLRU evicts the strictly lowest-priority entries first,
	// breaking ties by least-recently-used.
	EvictionLRU EvictionPolicy = iota
)
