package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/aegismesh/sentrynode/internal/storetypes"
	"github.com/aegismesh/sentrynode/internal/wire"
)

// Engine is the subset of *epidemic.Engine the inbound HTTP routes
// dispatch to. Declared as an interface so the handlers can be
// exercised against a fake in tests without spinning up a real engine.
type Engine interface {
	HandleDigest(ctx context.Context, incoming wire.Digest) (wire.Digest, error)
	HandleGossipDigest(ctx context.Context, peer storetypes.PeerRecord, incoming wire.Digest)
	HandleTransfer(ctx context.Context, t wire.Transfer)
	HandleTransferRequest(ctx context.Context, ids []string) (wire.Transfer, error)
}

// PeerLookup resolves a peer id to its known record, reporting whether
// the node has one on file (e.g. via its topology).
type PeerLookup func(id string) (storetypes.PeerRecord, bool)

// NewMux wires the four peer-facing RPCs onto an http.ServeMux, each
// behind the path constant the HTTP client in this package posts to.
func NewMux(engine Engine, peerLookup PeerLookup, logger *slog.Logger) *http.ServeMux {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "transport.server")
	mux := http.NewServeMux()

	mux.HandleFunc(pathDigestPush, func(w http.ResponseWriter, r *http.Request) {
		var digest wire.Digest
		if err := json.NewDecoder(r.Body).Decode(&digest); err != nil {
			http.Error(w, "invalid digest", http.StatusBadRequest)
			return
		}
		peer, known := peerLookup(digest.FromPeer)
		if !known {
			peer = storetypes.PeerRecord{ID: digest.FromPeer}
		}
		engine.HandleGossipDigest(r.Context(), peer, digest)
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc(pathDigestExchange, func(w http.ResponseWriter, r *http.Request) {
		var digest wire.Digest
		if err := json.NewDecoder(r.Body).Decode(&digest); err != nil {
			http.Error(w, "invalid digest", http.StatusBadRequest)
			return
		}
		reply, err := engine.HandleDigest(r.Context(), digest)
		if err != nil {
			logger.Warn("handle digest exchange failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, reply)
	})

	mux.HandleFunc(pathTransferPull, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			IDs []string `json:"ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		transfer, err := engine.HandleTransferRequest(r.Context(), req.IDs)
		if err != nil {
			logger.Warn("handle transfer request failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, transfer)
	})

	mux.HandleFunc(pathTransferPush, func(w http.ResponseWriter, r *http.Request) {
		var transfer wire.Transfer
		if err := json.NewDecoder(r.Body).Decode(&transfer); err != nil {
			http.Error(w, "invalid transfer", http.StatusBadRequest)
			return
		}
		engine.HandleTransfer(r.Context(), transfer)
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
