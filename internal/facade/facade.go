// Package facade implements the thin request contract layer above
// Local Store, Epidemic Engine, and the optional device-identity
// adapter: validation, defaulting, and the single-operation
// write-then-enqueue-gossip path.
package facade

import (
	"context"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aegismesh/sentrynode/internal/blindlayer"
	"github.com/aegismesh/sentrynode/internal/deviceidentity"
	"github.com/aegismesh/sentrynode/internal/localstore"
	"github.com/aegismesh/sentrynode/internal/storetypes"
	"github.com/aegismesh/sentrynode/internal/vectorclock"
)

// Gossiper is the subset of the Epidemic Engine the facade needs: a
// single write hands the new id to the pending-gossip queue in the
// same operation, never triggering network I/O itself.
type Gossiper interface {
	NotifyWritten(blindedID string)
}

// SignatureVerifier performs the actual cryptographic check a delete
// request's signature must pass. The facade only validates the
// signature's wire format (hex, length 64-256); do not treat that
// format check as a substitute for a real verifier here.
type SignatureVerifier interface {
	Verify(ctx context.Context, blindedID string, signature []byte) error
}

// StoreRequest is the facade's store() input contract.
type StoreRequest struct {
	BlindedID string            `json:"blinded_id"`
	Payload   []byte            `json:"payload"`
	TTL       *uint64           `json:"ttl,omitempty"`
	Region    *string           `json:"region,omitempty"`
	Priority  *int32            `json:"priority,omitempty"`
	ProofHash *[32]byte         `json:"proof_hash,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Metrics counts facade-level request outcomes.
type Metrics struct {
	StoresTotal      prometheus.Counter
	RetrievesTotal   prometheus.Counter
	DeletesTotal     prometheus.Counter
	RateLimitedTotal prometheus.Counter
	RejectedTotal    prometheus.Counter
}

// NewMetrics registers the facade's prometheus counters.
func NewMetrics() *Metrics {
	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sentrynode", Subsystem: "facade", Name: name, Help: help,
		})
		_ = prometheus.Register(c)
		return c
	}
	return &Metrics{
		StoresTotal:      counter("stores_total", "Store requests accepted."),
		RetrievesTotal:   counter("retrieves_total", "Retrieve requests served."),
		DeletesTotal:     counter("deletes_total", "Delete requests served."),
		RateLimitedTotal: counter("rate_limited_total", "Requests rejected by the sliding-window limiter."),
		RejectedTotal:    counter("rejected_total", "Requests rejected by input validation."),
	}
}

// Facade is the thin contract layer above local storage and gossip.
type Facade struct {
	selfID   string
	store    localstore.Backend
	gossiper Gossiper
	verifier SignatureVerifier
	limiter  *RateLimiter
	metrics  *Metrics
	logger   *slog.Logger
}

// New constructs a Facade. selfID is this node's peer id, used to bump
// the local counter on every write ("Local Store upserts with
// timestamp and vector clock bumped for local node"). verifier and
// limiter may be nil: a nil verifier means only the delete signature's
// wire format is checked; a nil limiter disables rate limiting entirely.
func New(selfID string, store localstore.Backend, gossiper Gossiper, verifier SignatureVerifier, limiter *RateLimiter, metrics *Metrics, logger *slog.Logger) *Facade {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Facade{selfID: selfID, store: store, gossiper: gossiper, verifier: verifier, limiter: limiter, metrics: metrics, logger: logger.With("component", "facade")}
}

func (f *Facade) checkRateLimit(sourceID string) error {
	if f.limiter == nil || sourceID == "" {
		return nil
	}
	if !f.limiter.Allow(sourceID) {
		f.metrics.RateLimitedTotal.Inc()
		return storetypes.New(storetypes.KindRateLimited, "rate limit exceeded for "+sourceID)
	}
	return nil
}

// Store validates req, applies defaults, writes through the
// Local Store, and hands the id to the gossiper in the same call.
func (f *Facade) Store(ctx context.Context, req StoreRequest, sourceID string) (storetypes.StorageResponse, error) {
	if err := f.checkRateLimit(sourceID); err != nil {
		return storetypes.StorageResponse{}, err
	}
	if req.BlindedID == "" {
		f.metrics.RejectedTotal.Inc()
		return storetypes.StorageResponse{}, storetypes.New(storetypes.KindInvalidState, "blinded_id must not be empty")
	}
	if len(req.Payload) == 0 {
		f.metrics.RejectedTotal.Inc()
		return storetypes.StorageResponse{}, storetypes.New(storetypes.KindInvalidState, "payload must not be empty")
	}

	expected := blindlayer.ProofHash(req.BlindedID, req.Payload)
	proofHash := expected
	if req.ProofHash != nil {
		if *req.ProofHash != expected {
			f.metrics.RejectedTotal.Inc()
			return storetypes.StorageResponse{}, storetypes.New(storetypes.KindInvalidState, "supplied proof_hash does not match H(blinded_id||payload)")
		}
		proofHash = *req.ProofHash
	}

	existing, err := f.store.Retrieve(ctx, req.BlindedID)
	if err != nil {
		return storetypes.StorageResponse{}, err
	}
	clock := vectorclock.New()
	if existing != nil && existing.Clock != nil {
		clock = existing.Clock.Clone()
	}
	clock.Inc(f.selfID)

	createdAt := uint64(time.Now().Unix())
	if existing != nil {
		createdAt = existing.CreatedAt
	}

	entry := &storetypes.BlindedEntry{
		BlindedID: req.BlindedID,
		Payload:   req.Payload,
		CreatedAt: createdAt,
		Region:    storetypes.DefaultRegion,
		ProofHash: proofHash,
		Metadata:  req.Metadata,
		Clock:     clock,
	}
	if req.TTL != nil {
		entry.TTL = *req.TTL
	}
	if req.Region != nil && *req.Region != "" {
		entry.Region = *req.Region
	}
	if req.Priority != nil {
		entry.Priority = *req.Priority
	}
	if entry.Metadata == nil {
		entry.Metadata = map[string]string{}
	}

	resp, err := f.store.Store(ctx, entry)
	if err != nil {
		return storetypes.StorageResponse{}, err
	}
	if f.gossiper != nil {
		f.gossiper.NotifyWritten(req.BlindedID)
	}
	f.metrics.StoresTotal.Inc()
	return resp, nil
}

// RetrieveResult carries either the raw entry or, for a
// device_identity: id, its reshaped view.
type RetrieveResult struct {
	Entry      *storetypes.BlindedEntry
	DeviceView *deviceidentity.View
}

// Retrieve consults only the Local Store and never triggers network I/O.
func (f *Facade) Retrieve(ctx context.Context, blindedID string) (*RetrieveResult, error) {
	entry, err := f.store.Retrieve(ctx, blindedID)
	if err != nil {
		return nil, err
	}
	f.metrics.RetrievesTotal.Inc()
	if entry == nil {
		return nil, nil
	}
	if deviceidentity.IsDeviceIdentity(blindedID) {
		view, err := deviceidentity.Reshape(entry.Payload)
		if err == nil {
			return &RetrieveResult{Entry: entry, DeviceView: view}, nil
		}
		f.logger.Warn("device identity reshape failed, returning raw entry", "id", blindedID, "error", err)
	}
	return &RetrieveResult{Entry: entry}, nil
}

// Exists mirrors Local Store's exists() without reshaping.
func (f *Facade) Exists(ctx context.Context, blindedID string) (bool, error) {
	return f.store.Exists(ctx, blindedID)
}

// Delete validates an optional signature's wire format (and, if a
// SignatureVerifier is configured, its cryptographic validity) before
// deleting.
func (f *Facade) Delete(ctx context.Context, blindedID string, signatureHex *string) (bool, error) {
	if blindedID == "" {
		return false, storetypes.New(storetypes.KindInvalidState, "blinded_id must not be empty")
	}
	if signatureHex != nil {
		if len(*signatureHex) < 64 || len(*signatureHex) > 256 {
			return false, storetypes.New(storetypes.KindAuthentication, "signature length out of range")
		}
		sig, err := hex.DecodeString(*signatureHex)
		if err != nil {
			return false, storetypes.New(storetypes.KindAuthentication, "signature is not valid hex")
		}
		if f.verifier != nil {
			if err := f.verifier.Verify(ctx, blindedID, sig); err != nil {
				return false, storetypes.Wrap(storetypes.KindAuthentication, "signature verification failed", err)
			}
		}
	}

	removed, err := f.store.Delete(ctx, blindedID)
	if err != nil {
		return false, err
	}
	f.metrics.DeletesTotal.Inc()
	return removed, nil
}

// List mirrors Local Store's list().
func (f *Facade) List(ctx context.Context, limit, offset int) ([]string, error) {
	return f.store.List(ctx, limit, offset)
}

// Stats mirrors Local Store's stats().
func (f *Facade) Stats(ctx context.Context) (storetypes.StorageStats, error) {
	return f.store.Stats(ctx)
}
