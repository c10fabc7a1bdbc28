// Package policystore implements the content-addressed, immutable
// token-policy map (CTPA): a cache-through layer in front of the
// Local Store's policy shims.
//
// Ported from original_source/dsm_storage_node/src/policy/policy_store.rs.
package policystore

import (
	"context"
	"encoding/hex"
	"log/slog"
	"sort"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/aegismesh/sentrynode/internal/cryptokit"
	"github.com/aegismesh/sentrynode/internal/localstore"
	"github.com/aegismesh/sentrynode/internal/storetypes"
)

// Store is the token-policy store: an in-memory cache backed by the
// Local Store's durable policy shims.
type Store struct {
	backend localstore.Backend
	logger  *slog.Logger

	mu    sync.RWMutex
	cache map[string]storetypes.PolicyEntry
}

// New wraps backend with an empty cache. Call Initialize before
// serving traffic to populate it from durable storage.
func New(backend localstore.Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend: backend,
		logger:  logger.With("component", "policystore"),
		cache:   make(map[string]storetypes.PolicyEntry),
	}
}

// InitOptions configures the Initialize cache rebuild.
type InitOptions struct {
	// ShowProgress renders a progressbar.ProgressBar for the rebuild;
	// CLI verbose mode sets this.
	ShowProgress bool
}

// Initialize rebuilds the cache from the backing store in bounded
// memory: it pages through ListPolicies rather than loading everything
// in one call.
func (s *Store) Initialize(ctx context.Context, opts InitOptions) error {
	const pageSize = 256
	s.logger.Info("initializing policy cache")

	var bar *progressbar.ProgressBar
	if opts.ShowProgress {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("rebuilding policy cache"),
			progressbar.OptionSpinnerType(14),
		)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]storetypes.PolicyEntry)

	offset := 0
	for {
		page, err := s.backend.ListPolicies(ctx, pageSize, offset)
		if err != nil {
			return storetypes.Wrap(storetypes.KindStorage, "load policies", err)
		}
		if len(page) == 0 {
			break
		}
		for _, entry := range page {
			s.cache[entry.ID] = entry
		}
		if bar != nil {
			_ = bar.Add(len(page))
		}
		offset += len(page)
		if len(page) < pageSize {
			break
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}
	s.logger.Info("policy cache initialized", "count", len(s.cache))
	return nil
}

// StorePolicy computes id = hex(H(canonicalBytes)) and persists the
// policy iff it is not already present, returning the (possibly
// pre-existing) id.
func (s *Store) StorePolicy(ctx context.Context, canonicalBytes []byte, metadata map[string]string) (string, error) {
	hash := cryptokit.Hash(canonicalBytes)
	id := hex.EncodeToString(hash[:])

	s.mu.RLock()
	_, known := s.cache[id]
	s.mu.RUnlock()
	if known {
		return id, nil
	}

	entry := &storetypes.PolicyEntry{
		ID:       id,
		Hash:     hash,
		Data:     canonicalBytes,
		Metadata: metadata,
	}
	if _, err := s.backend.StorePolicy(ctx, entry); err != nil {
		return "", storetypes.Wrap(storetypes.KindStorage, "store policy", err)
	}

	s.mu.Lock()
	s.cache[id] = *entry.Clone()
	s.mu.Unlock()

	s.logger.Info("stored policy", "id", id)
	return id, nil
}

// GetPolicy is a cache-through read: a cache hit returns immediately;
// a miss consults the backing store and, on a hit there, repopulates
// the cache before returning.
func (s *Store) GetPolicy(ctx context.Context, id string) (*storetypes.PolicyEntry, error) {
	s.mu.RLock()
	entry, found := s.cache[id]
	s.mu.RUnlock()
	if found {
		clone := entry
		return &clone, nil
	}

	stored, err := s.backend.GetPolicy(ctx, id)
	if err != nil {
		return nil, storetypes.Wrap(storetypes.KindStorage, "get policy", err)
	}
	if stored == nil {
		return nil, nil
	}
	recomputed := cryptokit.Hash(stored.Data)
	if hex.EncodeToString(recomputed[:]) != id {
		return nil, storetypes.New(storetypes.KindIntegrity, "policy content hash does not match id "+id)
	}

	s.mu.Lock()
	s.cache[id] = *stored.Clone()
	s.mu.Unlock()
	return stored, nil
}

// ListPolicies returns policy ids sorted for reproducibility, paginated.
func (s *Store) ListPolicies(limit, offset int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.cache))
	for id := range s.cache {
		ids = append(ids, id)
	}
	sort.Strings(ids)

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

// RemovePolicy purges both tiers and reports whether anything existed.
func (s *Store) RemovePolicy(ctx context.Context, id string) (bool, error) {
	removed, err := s.backend.RemovePolicy(ctx, id)
	if err != nil {
		return false, storetypes.Wrap(storetypes.KindStorage, "remove policy", err)
	}
	if removed {
		s.mu.Lock()
		delete(s.cache, id)
		s.mu.Unlock()
		s.logger.Info("removed policy", "id", id)
	}
	return removed, nil
}

// Count returns the number of cached policies, used by status reporting.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}
