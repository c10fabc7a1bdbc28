// Package epidemic implements the three-timer replication engine:
// gossip push, anti-entropy pull/push, and topology maintenance, plus
// the conflict-resolution rule applied to every incoming entry.
package epidemic

import (
	"container/list"
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/aegismesh/sentrynode/internal/assignment"
	"github.com/aegismesh/sentrynode/internal/blindlayer"
	"github.com/aegismesh/sentrynode/internal/localstore"
	"github.com/aegismesh/sentrynode/internal/storetypes"
	"github.com/aegismesh/sentrynode/internal/vectorclock"
	"github.com/aegismesh/sentrynode/internal/wire"
)

// Transport abstracts the peer-to-peer RPCs the engine needs. No
// specific transport is mandated; a real implementation (HTTP, QUIC,
// in-process for tests) satisfies this interface and is supplied at
// construction time.
type Transport interface {
	// SendDigest pushes a gossip digest to peer; fire-and-forget from
	// the caller's perspective, no reply is awaited.
	SendDigest(ctx context.Context, peer storetypes.PeerRecord, digest wire.Digest) error
	// ExchangeDigest sends our digest and returns the peer's digest in
	// the same round trip, used by anti-entropy.
	ExchangeDigest(ctx context.Context, peer storetypes.PeerRecord, digest wire.Digest) (wire.Digest, error)
	// RequestTransfer asks peer for the full entries named by ids.
	RequestTransfer(ctx context.Context, peer storetypes.PeerRecord, ids []string) (wire.Transfer, error)
	// SendTransfer pushes full entries to peer.
	SendTransfer(ctx context.Context, peer storetypes.PeerRecord, transfer wire.Transfer) error
}

// SessionState names a gossip/anti-entropy round's current phase, per
// the {Idle -> Selecting -> Exchanging-Digest -> Exchanging-Payload -> Idle}
// state machine.
type SessionState int

const (
	Idle SessionState = iota
	Selecting
	ExchangingDigest
	ExchangingPayload
)

func (s SessionState) String() string {
	switch s {
	case Selecting:
		return "selecting"
	case ExchangingDigest:
		return "exchanging_digest"
	case ExchangingPayload:
		return "exchanging_payload"
	default:
		return "idle"
	}
}

// Config tunes the three timers and the node's named bounds.
type Config struct {
	SelfID                       string
	ReplicationFactor            int
	Fanout                       int
	MaxReconciliationDiff        int
	MaxLongLinks                 int
	KNeighbors                   int
	NodeExpiry                   time.Duration
	GossipInterval               time.Duration
	ReconciliationInterval       time.Duration
	TopologyMaintenanceInterval  time.Duration
}

// Engine drives the three background tasks. It owns no reference back
// to anything that owns it; Topology is a sibling handed down by the
// parent that constructs both, avoiding the cyclic-ownership the
// source resolves with arena-style indices.
type Engine struct {
	cfg      Config
	store    localstore.Backend
	topology *Topology
	assigner *assignment.Manager
	transport Transport
	metrics  *Metrics
	logger   *slog.Logger
	dedup    *wire.Deduper
	seq      uint64

	mu          sync.Mutex
	recent      *list.List // front = most recently written blinded id
	recentIndex map[string]*list.Element
	failedPeers map[string]time.Time
}

// New constructs an Engine. transport may be nil only in tests that
// never run the timers; a nil metrics is replaced by NewMetrics().
func New(cfg Config, store localstore.Backend, topology *Topology, transport Transport, metrics *Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Engine{
		cfg:         cfg,
		store:       store,
		topology:    topology,
		assigner:    assignment.NewManager(cfg.ReplicationFactor, 0),
		transport:   transport,
		metrics:     metrics,
		logger:      logger.With("component", "epidemic"),
		dedup:       wire.NewDeduper(8192),
		recent:      list.New(),
		recentIndex: make(map[string]*list.Element),
		failedPeers: make(map[string]time.Time),
	}
}

// NotifyWritten records blindedID as recently modified so it is
// eligible for the next gossip digest. Called by the facade in the
// same operation that writes to the Local Store.
func (e *Engine) NotifyWritten(blindedID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if elem, found := e.recentIndex[blindedID]; found {
		e.recent.MoveToFront(elem)
		return
	}
	elem := e.recent.PushFront(blindedID)
	e.recentIndex[blindedID] = elem
	if e.recent.Len() > e.cfg.MaxReconciliationDiff && e.cfg.MaxReconciliationDiff > 0 {
		oldest := e.recent.Back()
		e.recent.Remove(oldest)
		delete(e.recentIndex, oldest.Value.(string))
	}
}

func (e *Engine) recentIDsLocked() []string {
	out := make([]string, 0, e.recent.Len())
	for el := e.recent.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(string))
	}
	return out
}

func (e *Engine) nextSeq() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	return e.seq
}

func (e *Engine) markFailed(peerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failedPeers[peerID] = time.Now()
}

// recentlyFailed reports whether peerID failed within the last round
// and should be skipped for exactly one round, per the engine's state
// machine ("failure ... marking peer as recently failed (skipped for
// one round)").
func (e *Engine) recentlyFailed(peerID string, roundInterval time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	failedAt, found := e.failedPeers[peerID]
	if !found {
		return false
	}
	if time.Since(failedAt) >= roundInterval {
		delete(e.failedPeers, peerID)
		return false
	}
	return true
}

// Run starts the three cancellation-aware background tasks and blocks
// until ctx is canceled.
func (e *Engine) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); e.loop(ctx, e.cfg.GossipInterval, e.gossipRound) }()
	go func() { defer wg.Done(); e.loop(ctx, e.cfg.ReconciliationInterval, e.reconciliationRound) }()
	go func() { defer wg.Done(); e.loop(ctx, e.cfg.TopologyMaintenanceInterval, e.topologyRound) }()
	wg.Wait()
}

func (e *Engine) loop(ctx context.Context, interval time.Duration, round func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			round(ctx)
		}
	}
}

// withNetworkRetry retries op up to three more times, with exponential
// backoff, on a Network-kind failure; any other kind of error is
// returned at once without a retry. The backoff is not bounded by the
// schedule tick. A Network error that survives every attempt is
// returned to the caller, which logs it, marks the peer
// recently-failed and counts it; the next tick tries again. These
// errors never surface to clients.
func withNetworkRetry(ctx context.Context, op func() error) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err != nil && storetypes.KindOf(err) != storetypes.KindNetwork {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
}

// GossipNow runs one gossip round immediately, outside the regular
// timer, for on-demand use (e.g. a CLI "gossip-now" command).
func (e *Engine) GossipNow(ctx context.Context) {
	e.gossipRound(ctx)
}

// gossipRound implements the gossip timer: fanout random fresh
// peers get a one-way digest push of the most recently modified ids.
func (e *Engine) gossipRound(ctx context.Context) {
	e.metrics.GossipRounds.Inc()
	state := Selecting
	peers := e.topology.FreshPeers(time.Now(), e.cfg.NodeExpiry)
	candidates := make([]storetypes.PeerRecord, 0, len(peers))
	for _, p := range peers {
		if !e.recentlyFailed(p.ID, e.cfg.GossipInterval) {
			candidates = append(candidates, p)
		}
	}
	rand.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	if len(candidates) > e.cfg.Fanout {
		candidates = candidates[:e.cfg.Fanout]
	}

	e.mu.Lock()
	ids := e.recentIDsLocked()
	e.mu.Unlock()
	digestEntries, err := e.buildDigest(ctx, ids)
	if err != nil {
		e.logger.Error("gossip: build digest", "error", err)
		return
	}
	if len(digestEntries) == 0 || len(candidates) == 0 {
		return
	}

	state = ExchangingDigest
	digest := wire.Digest{FromPeer: e.cfg.SelfID, Seq: e.nextSeq(), Entries: digestEntries}
	for _, peer := range candidates {
		err := withNetworkRetry(ctx, func() error { return e.transport.SendDigest(ctx, peer, digest) })
		if err != nil {
			e.logger.Warn("gossip: push failed", "peer", peer.ID, "state", state.String(), "error", err)
			e.markFailed(peer.ID)
			e.metrics.NetworkErrors.Inc()
			continue
		}
	}
}

func (e *Engine) buildDigest(ctx context.Context, ids []string) ([]wire.DigestEntry, error) {
	limit := e.cfg.MaxReconciliationDiff
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]wire.DigestEntry, 0, len(ids))
	for _, id := range ids {
		entry, err := e.store.Retrieve(ctx, id)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			continue
		}
		out = append(out, wire.DigestEntry{ID: entry.BlindedID, Clock: entry.Clock, ProofHash: entry.ProofHash})
	}
	return out, nil
}

// reconciliationRound implements the anti-entropy timer: exchange
// digests with one fresh peer, pull what they have that we lack (or
// that dominates our copy), and push what we have that dominates
// theirs.
func (e *Engine) reconciliationRound(ctx context.Context) {
	e.metrics.ReconciliationRounds.Inc()
	peers := e.topology.FreshPeers(time.Now(), e.cfg.NodeExpiry)
	var partner *storetypes.PeerRecord
	for _, p := range peers {
		if !e.recentlyFailed(p.ID, e.cfg.ReconciliationInterval) {
			picked := p
			partner = &picked
			break
		}
	}
	if partner == nil {
		return
	}

	ids, err := e.store.List(ctx, 0, 0)
	if err != nil {
		e.logger.Error("reconciliation: list store", "error", err)
		return
	}
	ourDigest, err := e.buildDigest(ctx, ids)
	if err != nil {
		e.logger.Error("reconciliation: build digest", "error", err)
		return
	}
	outgoing := wire.Digest{FromPeer: e.cfg.SelfID, Seq: e.nextSeq(), Entries: ourDigest}

	var theirDigest wire.Digest
	err = withNetworkRetry(ctx, func() error {
		d, err := e.transport.ExchangeDigest(ctx, *partner, outgoing)
		if err != nil {
			return err
		}
		theirDigest = d
		return nil
	})
	if err != nil {
		e.logger.Warn("reconciliation: exchange failed", "peer", partner.ID, "error", err)
		e.markFailed(partner.ID)
		e.metrics.NetworkErrors.Inc()
		return
	}

	ourByID := make(map[string]wire.DigestEntry, len(ourDigest))
	for _, d := range ourDigest {
		ourByID[d.ID] = d
	}
	var needFromPeer []string
	var sendToPeer []*storetypes.BlindedEntry
	for _, theirs := range theirDigest.Entries {
		ours, known := ourByID[theirs.ID]
		if !known || theirs.Clock.Compare(ours.Clock) == vectorclock.After {
			needFromPeer = append(needFromPeer, theirs.ID)
		}
	}
	theirByID := make(map[string]wire.DigestEntry, len(theirDigest.Entries))
	for _, d := range theirDigest.Entries {
		theirByID[d.ID] = d
	}
	for _, ours := range ourDigest {
		theirs, known := theirByID[ours.ID]
		if known && ours.Clock.Compare(theirs.Clock) != vectorclock.After {
			continue
		}
		entry, err := e.store.Retrieve(ctx, ours.ID)
		if err != nil || entry == nil {
			continue
		}
		sendToPeer = append(sendToPeer, entry)
	}

	if len(sendToPeer) > 0 {
		transfer := wire.Transfer{FromPeer: e.cfg.SelfID, Seq: e.nextSeq(), Entries: sendToPeer}
		err := withNetworkRetry(ctx, func() error { return e.transport.SendTransfer(ctx, *partner, transfer) })
		if err != nil {
			e.logger.Warn("reconciliation: send transfer failed", "peer", partner.ID, "error", err)
			e.markFailed(partner.ID)
			e.metrics.NetworkErrors.Inc()
		} else {
			e.metrics.EntriesTransferredOut.Add(float64(len(sendToPeer)))
		}
	}

	if len(needFromPeer) > 0 {
		var pulled wire.Transfer
		err := withNetworkRetry(ctx, func() error {
			t, err := e.transport.RequestTransfer(ctx, *partner, needFromPeer)
			if err != nil {
				return err
			}
			pulled = t
			return nil
		})
		if err != nil {
			e.logger.Warn("reconciliation: request transfer failed", "peer", partner.ID, "error", err)
			e.markFailed(partner.ID)
			e.metrics.NetworkErrors.Inc()
			return
		}
		e.ApplyTransfer(ctx, pulled)
	}
}

// topologyRound implements the topology-maintenance timer plus the
// replication-factor maintenance pass described as a fourth lightweight
// step of the same tick.
func (e *Engine) topologyRound(ctx context.Context) {
	e.metrics.TopologyRounds.Inc()
	trimmed := e.topology.Maintain(time.Now(), e.cfg.NodeExpiry, e.cfg.KNeighbors, e.cfg.MaxLongLinks)
	if len(trimmed) > 0 {
		e.metrics.PeersTrimmed.Add(float64(len(trimmed)))
	}
	e.maintainReplicationFactor(ctx)
}

// maintainReplicationFactor re-evaluates the fixed-replica assignment
// for each owned id and pushes payloads to assignees believed not to
// hold a copy yet.
func (e *Engine) maintainReplicationFactor(ctx context.Context) {
	peers := e.topology.Snapshot()
	if len(peers) == 0 {
		return
	}
	peerIDs := make([]string, len(peers), len(peers)+1)
	for i, p := range peers {
		peerIDs[i] = p.ID
	}
	peerIDs = append(peerIDs, e.cfg.SelfID)

	ids, err := e.store.List(ctx, 0, 0)
	if err != nil {
		e.logger.Error("replication maintenance: list", "error", err)
		return
	}
	byID := make(map[string]storetypes.PeerRecord, len(peers))
	for _, p := range peers {
		byID[p.ID] = p
	}

	for _, id := range ids {
		replicas := assignment.Replicas(id, e.cfg.ReplicationFactor, peerIDs)
		owned := false
		for _, r := range replicas {
			if r == e.cfg.SelfID {
				owned = true
				break
			}
		}
		if !owned {
			continue
		}
		entry, err := e.store.Retrieve(ctx, id)
		if err != nil || entry == nil {
			continue
		}
		for _, r := range replicas {
			peer, known := byID[r]
			if !known || r == e.cfg.SelfID {
				continue
			}
			transfer := wire.Transfer{FromPeer: e.cfg.SelfID, Seq: e.nextSeq(), Entries: []*storetypes.BlindedEntry{entry}}
			err := withNetworkRetry(ctx, func() error { return e.transport.SendTransfer(ctx, peer, transfer) })
			if err != nil {
				e.markFailed(peer.ID)
				e.metrics.NetworkErrors.Inc()
				continue
			}
			e.metrics.EntriesTransferredOut.Inc()
		}
	}
}

// ApplyTransfer applies every entry in t per the conflict-resolution
// algorithm: verify proof hash, compare clocks, deterministically
// tiebreak Concurrent writes, and bump this node's own clock counter
// on a successful replace so future gossip converges monotonically.
// Callers driving an inbound RPC (HandleTransfer) and the anti-entropy
// pull path both route through this.
func (e *Engine) ApplyTransfer(ctx context.Context, t wire.Transfer) {
	for _, incoming := range t.Entries {
		if err := e.applyIncoming(ctx, incoming); err != nil {
			if storetypes.KindOf(err) == storetypes.KindIntegrity {
				e.metrics.ProofHashFailures.Inc()
			}
			e.logger.Warn("apply incoming entry failed", "id", incoming.BlindedID, "error", err)
			continue
		}
		e.metrics.EntriesTransferredIn.Inc()
	}
}

func (e *Engine) applyIncoming(ctx context.Context, incoming *storetypes.BlindedEntry) error {
	if !blindlayer.VerifyProofHash(incoming.BlindedID, incoming.Payload, incoming.ProofHash) {
		return storetypes.New(storetypes.KindIntegrity, "proof hash mismatch on incoming entry "+incoming.BlindedID)
	}

	existing, err := e.store.Retrieve(ctx, incoming.BlindedID)
	if err != nil {
		return storetypes.Wrap(storetypes.KindStorage, "retrieve existing entry", err)
	}

	var rel vectorclock.Relation
	if existing == nil {
		rel = vectorclock.After
	} else {
		rel = incoming.Clock.Compare(existing.Clock)
	}

	resp, err := e.store.Store(ctx, incoming)
	if err != nil {
		return storetypes.Wrap(storetypes.KindStorage, "store incoming entry", err)
	}
	if rel == vectorclock.Concurrent {
		e.metrics.ConflictsResolved.Inc()
	}
	// An Equal clock is reported as stored but nothing was replaced.
	if !resp.Stored || rel == vectorclock.Equal {
		return nil
	}

	// A received entry is just as eligible for re-advertisement as a
	// locally-originated one; otherwise gossip dies after one hop.
	e.NotifyWritten(incoming.BlindedID)

	// Bump this node's own counter on the entry now resident so
	// monotonic local progress is guaranteed even for purely-received
	// writes.
	stored, err := e.store.Retrieve(ctx, incoming.BlindedID)
	if err != nil || stored == nil {
		return nil
	}
	stored.Clock.Inc(e.cfg.SelfID)
	if _, err := e.store.Store(ctx, stored); err != nil {
		return storetypes.Wrap(storetypes.KindStorage, "bump local clock counter", err)
	}
	return nil
}

// HandleDigest answers an inbound anti-entropy exchange: returns our
// own digest so the peer's reconciliationRound can diff it, with
// (peer, seq) dedup applied first.
func (e *Engine) HandleDigest(ctx context.Context, incoming wire.Digest) (wire.Digest, error) {
	if e.dedup.Seen(incoming.FromPeer, incoming.Seq) {
		return wire.Digest{}, nil
	}
	ids, err := e.store.List(ctx, 0, 0)
	if err != nil {
		return wire.Digest{}, err
	}
	entries, err := e.buildDigest(ctx, ids)
	if err != nil {
		return wire.Digest{}, err
	}
	return wire.Digest{FromPeer: e.cfg.SelfID, Seq: e.nextSeq(), Entries: entries}, nil
}

// HandleGossipDigest answers an inbound one-way gossip push: pulls
// full entries for any id the peer has that we lack or that
// dominates our copy.
func (e *Engine) HandleGossipDigest(ctx context.Context, peer storetypes.PeerRecord, incoming wire.Digest) {
	if e.dedup.Seen(incoming.FromPeer, incoming.Seq) {
		return
	}
	var need []string
	for _, d := range incoming.Entries {
		existing, err := e.store.Retrieve(ctx, d.ID)
		if err != nil {
			continue
		}
		if existing == nil || d.Clock.Compare(existing.Clock) == vectorclock.After {
			need = append(need, d.ID)
		}
	}
	if len(need) == 0 {
		return
	}
	var pulled wire.Transfer
	err := withNetworkRetry(ctx, func() error {
		t, err := e.transport.RequestTransfer(ctx, peer, need)
		if err != nil {
			return err
		}
		pulled = t
		return nil
	})
	if err != nil {
		e.markFailed(peer.ID)
		e.metrics.NetworkErrors.Inc()
		return
	}
	e.ApplyTransfer(ctx, pulled)
}

// HandleTransfer applies an inbound push (anti-entropy reply or
// replication-factor maintenance push) after (peer, seq) dedup.
func (e *Engine) HandleTransfer(ctx context.Context, t wire.Transfer) {
	if e.dedup.Seen(t.FromPeer, t.Seq) {
		return
	}
	e.ApplyTransfer(ctx, t)
}

// HandleTransferRequest answers an inbound RequestTransfer RPC: the
// serving side of anti-entropy's pull, returning whatever entries this
// node actually holds among the requested ids.
func (e *Engine) HandleTransferRequest(ctx context.Context, ids []string) (wire.Transfer, error) {
	entries := make([]*storetypes.BlindedEntry, 0, len(ids))
	for _, id := range ids {
		entry, err := e.store.Retrieve(ctx, id)
		if err != nil {
			return wire.Transfer{}, err
		}
		if entry != nil {
			entries = append(entries, entry)
		}
	}
	return wire.Transfer{FromPeer: e.cfg.SelfID, Seq: e.nextSeq(), Entries: entries}, nil
}
