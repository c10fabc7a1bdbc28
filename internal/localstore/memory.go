package localstore

import (
	"container/list"
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aegismesh/sentrynode/internal/storetypes"
	"github.com/aegismesh/sentrynode/internal/vectorclock"
)

// MemoryConfig configures the in-memory Backend.
type MemoryConfig struct {
	// MaxEntries caps the number of blinded entries held; 0 means unbounded.
	MaxEntries int
	// MaxBytes caps the approximate total payload+metadata footprint; 0 means unbounded.
	MaxBytes int64
	// Eviction selects the eviction policy applied once a ceiling is exceeded.
	Eviction EvictionPolicy
	// Logger receives component-scoped log lines; defaults to slog.Default().
	Logger *slog.Logger
}

// Memory is an in-memory Backend built on a hash map plus a doubly
// linked list for LRU ordering, generalized from the same
// map[string]*list.Element / container/list combination used by a
// generic TTL cache in the example pack, specialized here to typed
// BlindedEntry records with priority-aware eviction
// and the vector-clock conflict-resolution rule.
type Memory struct {
	mu   sync.RWMutex
	data map[string]*list.Element
	lru  *list.List

	policies map[string]*storetypes.PolicyEntry
	peers    map[string]*storetypes.PeerRecord

	maxEntries int
	maxBytes   int64
	totalBytes int64

	logger *slog.Logger
}

type memRecord struct {
	blindedID string
	entry     *storetypes.BlindedEntry
}

// NewMemory constructs an empty in-memory backend.
func NewMemory(cfg MemoryConfig) *Memory {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{
		data:       make(map[string]*list.Element),
		lru:        list.New(),
		policies:   make(map[string]*storetypes.PolicyEntry),
		peers:      make(map[string]*storetypes.PeerRecord),
		maxEntries: cfg.MaxEntries,
		maxBytes:   cfg.MaxBytes,
		logger:     logger.With("component", "localstore.memory"),
	}
}

// Store implements the conflict-resolution contract. The
// incoming entry's vector clock is compared against any existing
// entry under the same id: After replaces, Equal is idempotent,
// Before is dropped, and Concurrent resolves by keeping the
// lexicographically greater proof hash and merging both clocks onto
// the survivor.
func (m *Memory) Store(_ context.Context, entry *storetypes.BlindedEntry) (storetypes.StorageResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := uint64(time.Now().Unix())
	resp := storetypes.StorageResponse{BlindedID: entry.BlindedID, Timestamp: now}

	if elem, found := m.data[entry.BlindedID]; found {
		existing := elem.Value.(*memRecord).entry
		rel := entry.Clock.Compare(existing.Clock)
		switch rel {
		case vectorclock.Before:
			resp.Stored = false
			return resp, nil
		case vectorclock.Equal:
			m.lru.MoveToFront(elem)
			resp.Stored = true
			return resp, nil
		case vectorclock.Concurrent:
			winner := resolveConflict(existing, entry)
			winner.Clock = existing.Clock.Clone()
			winner.Clock.Merge(entry.Clock)
			m.replaceLocked(elem, winner)
			resp.Stored = entriesEqualContent(winner, entry)
			return resp, nil
		default: // After
			m.replaceLocked(elem, entry)
			resp.Stored = true
			return resp, nil
		}
	}

	if err := m.ensureCapacityLocked(entry.Size()); err != nil {
		return resp, err
	}
	rec := &memRecord{blindedID: entry.BlindedID, entry: entry}
	elem := m.lru.PushFront(rec)
	m.data[entry.BlindedID] = elem
	m.totalBytes += entry.Size()
	resp.Stored = true
	return resp, nil
}

// resolveConflict implements the deterministic tiebreak: keep
// the entry with the lexicographically greater proof hash.
func resolveConflict(a, b *storetypes.BlindedEntry) *storetypes.BlindedEntry {
	for i := range a.ProofHash {
		if a.ProofHash[i] != b.ProofHash[i] {
			if a.ProofHash[i] > b.ProofHash[i] {
				return a.Clone()
			}
			return b.Clone()
		}
	}
	return a.Clone()
}

func entriesEqualContent(a, b *storetypes.BlindedEntry) bool {
	return a.ProofHash == b.ProofHash
}

func (m *Memory) replaceLocked(elem *list.Element, entry *storetypes.BlindedEntry) {
	old := elem.Value.(*memRecord).entry
	m.totalBytes += entry.Size() - old.Size()
	elem.Value = &memRecord{blindedID: entry.BlindedID, entry: entry}
	m.lru.MoveToFront(elem)
}

// ensureCapacityLocked evicts lowest-priority, then least-recently-used
// entries until adding incomingSize more bytes (and one more entry)
// would still fit within the configured ceilings.
func (m *Memory) ensureCapacityLocked(incomingSize int64) error {
	for m.overCapacityLocked(incomingSize) {
		victim := m.pickEvictionVictimLocked()
		if victim == nil {
			return storetypes.New(storetypes.KindStorage, "capacity exceeded and no eviction candidate available")
		}
		m.evictLocked(victim)
	}
	return nil
}

func (m *Memory) overCapacityLocked(incomingSize int64) bool {
	if m.maxEntries > 0 && len(m.data)+1 > m.maxEntries {
		return true
	}
	if m.maxBytes > 0 && m.totalBytes+incomingSize > m.maxBytes {
		return true
	}
	return false
}

// pickEvictionVictimLocked finds the global minimum-priority entry,
// then returns the least-recently-used element among entries at that
// priority (the back-to-front scan order is itself LRU-first, so the
// first minimum-priority element encountered scanning from the back
// is the correct tie-break winner).
func (m *Memory) pickEvictionVictimLocked() *list.Element {
	if m.lru.Len() == 0 {
		return nil
	}
	minPriority := int32(0)
	first := true
	for e := m.lru.Back(); e != nil; e = e.Prev() {
		p := e.Value.(*memRecord).entry.Priority
		if first || p < minPriority {
			minPriority = p
			first = false
		}
	}
	for e := m.lru.Back(); e != nil; e = e.Prev() {
		if e.Value.(*memRecord).entry.Priority == minPriority {
			return e
		}
	}
	return nil
}

func (m *Memory) evictLocked(elem *list.Element) {
	rec := elem.Value.(*memRecord)
	m.totalBytes -= rec.entry.Size()
	m.lru.Remove(elem)
	delete(m.data, rec.blindedID)
}

func (m *Memory) Retrieve(_ context.Context, blindedID string) (*storetypes.BlindedEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, found := m.data[blindedID]
	if !found {
		return nil, nil
	}
	entry := elem.Value.(*memRecord).entry
	if entry.Expired(time.Now()) {
		m.evictLocked(elem)
		return nil, nil
	}
	m.lru.MoveToFront(elem)
	return entry.Clone(), nil
}

func (m *Memory) Delete(_ context.Context, blindedID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, found := m.data[blindedID]
	if !found {
		return false, nil
	}
	m.evictLocked(elem)
	return true, nil
}

func (m *Memory) Exists(_ context.Context, blindedID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	elem, found := m.data[blindedID]
	if !found {
		return false, nil
	}
	entry := elem.Value.(*memRecord).entry
	if entry.Expired(time.Now()) {
		return false, nil
	}
	return true, nil
}

func (m *Memory) List(_ context.Context, limit, offset int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.data))
	now := time.Now()
	for id, elem := range m.data {
		if elem.Value.(*memRecord).entry.Expired(now) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return paginate(ids, limit, offset), nil
}

func paginate(ids []string, limit, offset int) []string {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(ids) {
		return []string{}
	}
	ids = ids[offset:]
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}
	return ids
}

func (m *Memory) Stats(_ context.Context) (storetypes.StorageStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := storetypes.StorageStats{}
	now := time.Now()
	regions := make(map[string]struct{})
	var oldest, newest *uint64

	for _, elem := range m.data {
		entry := elem.Value.(*memRecord).entry
		if entry.Expired(now) {
			stats.TotalExpired++
			continue
		}
		stats.TotalEntries++
		stats.TotalBytes += uint64(entry.Size())
		regions[entry.Region] = struct{}{}
		if oldest == nil || entry.CreatedAt < *oldest {
			v := entry.CreatedAt
			oldest = &v
		}
		if newest == nil || entry.CreatedAt > *newest {
			v := entry.CreatedAt
			newest = &v
		}
	}
	stats.OldestEntry = oldest
	stats.NewestEntry = newest
	stats.TotalRegions = uint64(len(regions))
	if stats.TotalEntries > 0 {
		stats.AverageEntrySize = float64(stats.TotalBytes) / float64(stats.TotalEntries)
	}
	stats.LastUpdated = uint64(now.Unix())
	return stats, nil
}

func (m *Memory) StorePolicy(_ context.Context, entry *storetypes.PolicyEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, found := m.policies[entry.ID]; found {
		_ = existing
		return true, nil
	}
	m.policies[entry.ID] = entry.Clone()
	return true, nil
}

func (m *Memory) GetPolicy(_ context.Context, id string) (*storetypes.PolicyEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, found := m.policies[id]
	if !found {
		return nil, nil
	}
	return entry.Clone(), nil
}

func (m *Memory) ListPolicies(_ context.Context, limit, offset int) ([]storetypes.PolicyEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.policies))
	for id := range m.policies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	ids = paginate(ids, limit, offset)

	out := make([]storetypes.PolicyEntry, 0, len(ids))
	for _, id := range ids {
		out = append(out, *m.policies[id].Clone())
	}
	return out, nil
}

func (m *Memory) RemovePolicy(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, found := m.policies[id]; !found {
		return false, nil
	}
	delete(m.policies, id)
	return true, nil
}

func (m *Memory) StorePeer(_ context.Context, peer *storetypes.PeerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *peer
	m.peers[peer.ID] = &cp
	return nil
}

func (m *Memory) ListPeers(_ context.Context) ([]storetypes.PeerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]storetypes.PeerRecord, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) DeletePeer(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.peers, id)
	return nil
}

// Prune removes every entry expired as of now().
// It is idempotent and safe to run concurrently with traffic since it
// takes the same exclusive lock as Store/Delete.
func (m *Memory) Prune(_ context.Context, now func() int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	nowTime := time.Unix(now(), 0)
	removed := 0
	for e := m.lru.Back(); e != nil; {
		prev := e.Prev()
		rec := e.Value.(*memRecord)
		if rec.entry.Expired(nowTime) {
			m.evictLocked(e)
			removed++
		}
		e = prev
	}
	return removed, nil
}

func (m *Memory) Close() error { return nil }
