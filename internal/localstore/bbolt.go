package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/aegismesh/sentrynode/internal/storetypes"
	"github.com/aegismesh/sentrynode/internal/vectorclock"
)

var (
	bucketEntries  = []byte("entries")
	bucketPolicies = []byte("policies")
	bucketPeers    = []byte("peers")
)

// Durable is a crash-safe Backend on top of go.etcd.io/bbolt, one
// bucket per entity family, values JSON-encoded as in the embedded
// BoltDB layer the rest of the example pack uses for cluster state.
// Scans (List, Stats, policy and peer reads) run inside a db.View, so
// they never block on the one writer at a time bbolt allows. Retrieve,
// and Exists through it, run inside a db.Update because they delete an
// expired entry lazily; every mutation runs inside a single db.Update.
type Durable struct {
	db     *bbolt.DB
	logger *slog.Logger
}

// OpenDurable creates (if needed) the parent directory and the bbolt
// file at path, and ensures all three buckets exist.
func OpenDurable(path string, logger *slog.Logger) (*Durable, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, storetypes.Wrap(storetypes.KindStorage, "create data directory", err)
		}
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, storetypes.Wrap(storetypes.KindStorage, "open bbolt database", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketEntries, bucketPolicies, bucketPeers} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, storetypes.Wrap(storetypes.KindStorage, "initialize buckets", err)
	}
	return &Durable{db: db, logger: logger.With("component", "localstore.bbolt")}, nil
}

type wireEntry struct {
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

func toWire(e *storetypes.BlindedEntry) wireEntry {
	return wireEntry{
		BlindedID: e.BlindedID,
		Payload:   e.Payload,
		CreatedAt: e.CreatedAt,
		TTL:       e.TTL,
		Region:    e.Region,
		Priority:  e.Priority,
		ProofHash: e.ProofHash,
		Metadata:  e.Metadata,
		Clock:     e.Clock,
	}
}

func (w wireEntry) toEntry() *storetypes.BlindedEntry {
	return &storetypes.BlindedEntry{
		BlindedID: w.BlindedID,
		Payload:   w.Payload,
		CreatedAt: w.CreatedAt,
		TTL:       w.TTL,
		Region:    w.Region,
		Priority:  w.Priority,
		ProofHash: w.ProofHash,
		Metadata:  w.Metadata,
		Clock:     w.Clock,
	}
}

// Store applies the same conflict-resolution rule as Memory, but
// inside a single bbolt write transaction so the read-compare-write is
// atomic with respect to other writers.
func (d *Durable) Store(_ context.Context, entry *storetypes.BlindedEntry) (storetypes.StorageResponse, error) {
	now := uint64(time.Now().Unix())
	resp := storetypes.StorageResponse{BlindedID: entry.BlindedID, Timestamp: now}

	err := d.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		raw := b.Get([]byte(entry.BlindedID))
		if raw == nil {
			resp.Stored = true
			return putEntry(b, entry)
		}

		var existingWire wireEntry
		if err := json.Unmarshal(raw, &existingWire); err != nil {
			return storetypes.Wrap(storetypes.KindSerialization, "decode existing entry", err)
		}
		existing := existingWire.toEntry()

		rel := entry.Clock.Compare(existing.Clock)
		switch rel {
		case vectorclock.Before:
			resp.Stored = false
			return nil
		case vectorclock.Equal:
			resp.Stored = true
			return nil
		case vectorclock.Concurrent:
			winner := resolveConflict(existing, entry)
			winner.Clock = existing.Clock.Clone()
			winner.Clock.Merge(entry.Clock)
			resp.Stored = entriesEqualContent(winner, entry)
			return putEntry(b, winner)
		default: // After
			resp.Stored = true
			return putEntry(b, entry)
		}
	})
	if err != nil {
		return storetypes.StorageResponse{}, err
	}
	return resp, nil
}

func putEntry(b *bbolt.Bucket, entry *storetypes.BlindedEntry) error {
	data, err := json.Marshal(toWire(entry))
	if err != nil {
		return storetypes.Wrap(storetypes.KindSerialization, "encode entry", err)
	}
	return b.Put([]byte(entry.BlindedID), data)
}

func (d *Durable) Retrieve(_ context.Context, blindedID string) (*storetypes.BlindedEntry, error) {
	var out *storetypes.BlindedEntry
	var expired bool
	err := d.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		raw := b.Get([]byte(blindedID))
		if raw == nil {
			return nil
		}
		var w wireEntry
		if err := json.Unmarshal(raw, &w); err != nil {
			return storetypes.Wrap(storetypes.KindSerialization, "decode entry", err)
		}
		entry := w.toEntry()
		if entry.Expired(time.Now()) {
			expired = true
			return b.Delete([]byte(blindedID))
		}
		out = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, nil
	}
	return out, nil
}

func (d *Durable) Delete(_ context.Context, blindedID string) (bool, error) {
	var existed bool
	err := d.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		if b.Get([]byte(blindedID)) != nil {
			existed = true
		}
		return b.Delete([]byte(blindedID))
	})
	return existed, err
}

func (d *Durable) Exists(ctx context.Context, blindedID string) (bool, error) {
	entry, err := d.Retrieve(ctx, blindedID)
	if err != nil {
		return false, err
	}
	return entry != nil, nil
}

func (d *Durable) List(_ context.Context, limit, offset int) ([]string, error) {
	var ids []string
	now := time.Now()
	err := d.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		return b.ForEach(func(k, v []byte) error {
			var w wireEntry
			if err := json.Unmarshal(v, &w); err != nil {
				return storetypes.Wrap(storetypes.KindSerialization, "decode entry", err)
			}
			if w.toEntry().Expired(now) {
				return nil
			}
			ids = append(ids, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	// bbolt's cursor iterates keys in byte-lexicographic order already,
	// so no separate sort is required.
	return paginate(ids, limit, offset), nil
}

func (d *Durable) Stats(_ context.Context) (storetypes.StorageStats, error) {
	stats := storetypes.StorageStats{}
	now := time.Now()
	regions := make(map[string]struct{})
	var oldest, newest *uint64

	err := d.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		return b.ForEach(func(_, v []byte) error {
			var w wireEntry
			if err := json.Unmarshal(v, &w); err != nil {
				return storetypes.Wrap(storetypes.KindSerialization, "decode entry", err)
			}
			entry := w.toEntry()
			if entry.Expired(now) {
				stats.TotalExpired++
				return nil
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
			return nil
		})
	})
	if err != nil {
		return storetypes.StorageStats{}, err
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

func (d *Durable) StorePolicy(_ context.Context, entry *storetypes.PolicyEntry) (bool, error) {
	err := d.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPolicies)
		if b.Get([]byte(entry.ID)) != nil {
			return nil
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return storetypes.Wrap(storetypes.KindSerialization, "encode policy", err)
		}
		return b.Put([]byte(entry.ID), data)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *Durable) GetPolicy(_ context.Context, id string) (*storetypes.PolicyEntry, error) {
	var out *storetypes.PolicyEntry
	err := d.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketPolicies).Get([]byte(id))
		if raw == nil {
			return nil
		}
		var p storetypes.PolicyEntry
		if err := json.Unmarshal(raw, &p); err != nil {
			return storetypes.Wrap(storetypes.KindSerialization, "decode policy", err)
		}
		out = &p
		return nil
	})
	return out, err
}

func (d *Durable) ListPolicies(_ context.Context, limit, offset int) ([]storetypes.PolicyEntry, error) {
	var out []storetypes.PolicyEntry
	err := d.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPolicies).ForEach(func(_, v []byte) error {
			var p storetypes.PolicyEntry
			if err := json.Unmarshal(v, &p); err != nil {
				return storetypes.Wrap(storetypes.KindSerialization, "decode policy", err)
			}
			out = append(out, p)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(out))
	for i, p := range out {
		ids[i] = p.ID
	}
	selected := paginate(ids, limit, offset)
	lookup := make(map[string]storetypes.PolicyEntry, len(out))
	for _, p := range out {
		lookup[p.ID] = p
	}
	result := make([]storetypes.PolicyEntry, 0, len(selected))
	for _, id := range selected {
		result = append(result, lookup[id])
	}
	return result, nil
}

func (d *Durable) RemovePolicy(_ context.Context, id string) (bool, error) {
	var existed bool
	err := d.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPolicies)
		if b.Get([]byte(id)) != nil {
			existed = true
		}
		return b.Delete([]byte(id))
	})
	return existed, err
}

func (d *Durable) StorePeer(_ context.Context, peer *storetypes.PeerRecord) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(peer)
		if err != nil {
			return storetypes.Wrap(storetypes.KindSerialization, "encode peer", err)
		}
		return tx.Bucket(bucketPeers).Put([]byte(peer.ID), data)
	})
}

func (d *Durable) ListPeers(_ context.Context) ([]storetypes.PeerRecord, error) {
	var out []storetypes.PeerRecord
	err := d.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPeers).ForEach(func(_, v []byte) error {
			var p storetypes.PeerRecord
			if err := json.Unmarshal(v, &p); err != nil {
				return storetypes.Wrap(storetypes.KindSerialization, "decode peer", err)
			}
			out = append(out, p)
			return nil
		})
	})
	return out, err
}

func (d *Durable) DeletePeer(_ context.Context, id string) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPeers).Delete([]byte(id))
	})
}

// Prune scans the entries bucket once and removes everything expired
// as of now(), batched in a single write transaction.
func (d *Durable) Prune(_ context.Context, now func() int64) (int, error) {
	nowTime := time.Unix(now(), 0)
	removed := 0
	err := d.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var w wireEntry
			if err := json.Unmarshal(v, &w); err != nil {
				return storetypes.Wrap(storetypes.KindSerialization, "decode entry", err)
			}
			if w.toEntry().Expired(nowTime) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

func (d *Durable) Close() error {
	if err := d.db.Close(); err != nil && !errors.Is(err, bbolt.ErrDatabaseNotOpen) {
		return storetypes.Wrap(storetypes.KindStorage, "close bbolt database", err)
	}
	return nil
}
