package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/aegismesh/sentrynode/internal/config"
	"github.com/aegismesh/sentrynode/internal/cryptokit"
	"github.com/aegismesh/sentrynode/internal/epidemic"
	"github.com/aegismesh/sentrynode/internal/facade"
	"github.com/aegismesh/sentrynode/internal/policystore"
	"github.com/aegismesh/sentrynode/internal/storetypes"
	"github.com/aegismesh/sentrynode/internal/transport"
	"github.com/aegismesh/sentrynode/internal/ui"
)

// engineConfig translates a loaded node config into the epidemic
// engine's tunables.
func engineConfig(cfg *config.Config) epidemic.Config {
	return epidemic.Config{
		SelfID:                      cfg.NodeID,
		ReplicationFactor:           cfg.ReplicationFactor,
		Fanout:                      cfg.Fanout,
		MaxReconciliationDiff:       cfg.MaxReconciliationDiff,
		MaxLongLinks:                cfg.MaxLongLinks,
		KNeighbors:                  cfg.KNeighbors,
		NodeExpiry:                  cfg.NodeExpiry(),
		GossipInterval:              cfg.GossipInterval(),
		ReconciliationInterval:      cfg.ReconciliationInterval(),
		TopologyMaintenanceInterval: cfg.TopologyMaintenanceInterval(),
	}
}

func runServe(args []string, configPath string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: sentrynode serve [options]\n\nRun the node: gossip, reconciliation, and topology maintenance timers, plus the peer and client HTTP surfaces.\n")
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}

	level := slog.LevelWarn
	switch {
	case globals.Verbose >= 2:
		level = slog.LevelDebug
	case globals.Verbose >= 1:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		ui.Errorf("cannot load config: %v", err)
		return 1
	}

	backend, closeBackend, err := openBackend(cfg)
	if err != nil {
		ui.Errorf("cannot open storage: %v", err)
		return 1
	}
	defer closeBackend()

	signingKeys, err := cryptokit.GenerateSignatureKeyPair()
	if err != nil {
		ui.Errorf("cannot generate node signing key: %v", err)
		return 1
	}
	logger.Info("node identity ready", "node_id", cfg.NodeID, "public_key", fmt.Sprintf("%x", signingKeys.Public))

	topo := epidemic.NewTopology(cfg.NodeID)
	for _, seed := range cfg.BootstrapPeers {
		topo.Upsert(storetypes.PeerRecord{ID: seed.ID, Endpoint: seed.Endpoint, LastSeen: time.Now()})
	}

	peerTransport := transport.NewHTTP(5 * time.Second)
	engine := epidemic.New(engineConfig(cfg), backend, topo, peerTransport, epidemic.NewMetrics(), logger)

	policies := policystore.New(backend, logger)
	if err := policies.Initialize(context.Background(), policystore.InitOptions{ShowProgress: globals.Verbose >= 1}); err != nil {
		ui.Errorf("cannot rebuild policy cache: %v", err)
		return 1
	}

	limiter := facade.NewRateLimiter(cfg.RateLimitWindow(), cfg.RateLimitMaxRequests)
	f := facade.New(cfg.NodeID, backend, engine, nil, limiter, facade.NewMetrics(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go engine.Run(ctx)

	go runPruneJanitor(ctx, backend, cfg.PruneInterval(), logger)

	reloadCh := make(chan *config.Config, 1)
	go func() {
		if err := config.Watch(ctx, configPath, logger, func(c *config.Config) {
			select {
			case reloadCh <- c:
			default:
			}
		}); err != nil {
			logger.Warn("config watch stopped", "error", err)
		}
	}()
	go func() {
		for c := range reloadCh {
			logger.Info("config reloaded", "fanout", c.Fanout, "replication_factor", c.ReplicationFactor)
		}
	}()

	peerMux := transport.NewMux(engine, func(id string) (storetypes.PeerRecord, bool) {
		for _, p := range topo.Snapshot() {
			if p.ID == id {
				return p, true
			}
		}
		return storetypes.PeerRecord{}, false
	}, logger)

	mux := http.NewServeMux()
	for _, path := range []string{"/v1/gossip/digest", "/v1/reconcile/digest", "/v1/reconcile/transfer", "/v1/transfer"} {
		mux.Handle(path, peerMux)
	}
	mountClientAPI(mux, f)
	mountPolicyAPI(mux, policies)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down")
		cancel()
		shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shCancel()
		_ = server.Shutdown(shCtx)
	}()

	ui.Successf("node %s listening on %s", cfg.NodeID, cfg.ListenAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		ui.Errorf("server error: %v", err)
		return 1
	}
	return 0
}

func runPruneJanitor(ctx context.Context, backend interface {
	Prune(ctx context.Context, now func() int64) (int, error)
}, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := backend.Prune(ctx, func() int64 { return time.Now().Unix() })
			if err != nil {
				logger.Warn("prune failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("pruned expired entries", "count", n)
			}
		}
	}
}

// mountClientAPI wires the client-facing store/retrieve/delete surface.
// Its wire shape is unconstrained, so this is plain JSON-over-HTTP in
// the same idiom as the peer RPCs.
func mountClientAPI(mux *http.ServeMux, f *facade.Facade) {
	mux.HandleFunc("/v1/store", func(w http.ResponseWriter, r *http.Request) {
		var req facade.StoreRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		resp, err := f.Store(r.Context(), req, r.RemoteAddr)
		if err != nil {
			writeFacadeError(w, err)
			return
		}
		writeJSONResponse(w, resp)
	})

	mux.HandleFunc("/v1/retrieve/", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/v1/retrieve/"):]
		result, err := f.Retrieve(r.Context(), id)
		if err != nil {
			writeFacadeError(w, err)
			return
		}
		if result == nil {
			http.NotFound(w, r)
			return
		}
		writeJSONResponse(w, result)
	})

	mux.HandleFunc("/v1/delete/", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/v1/delete/"):]
		var sig *string
		if s := r.URL.Query().Get("signature"); s != "" {
			sig = &s
		}
		ok, err := f.Delete(r.Context(), id, sig)
		if err != nil {
			writeFacadeError(w, err)
			return
		}
		writeJSONResponse(w, map[string]bool{"deleted": ok})
	})
}

// mountPolicyAPI wires the content-addressed policy cache's CRUD
// surface: POST to store a policy blob (id derived from its content
// hash), GET/DELETE by id, and a paginated listing.
func mountPolicyAPI(mux *http.ServeMux, policies *policystore.Store) {
	mux.HandleFunc("/v1/policy", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var req struct {
				Data     []byte            `json:"data"`
				Metadata map[string]string `json:"metadata"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "invalid request", http.StatusBadRequest)
				return
			}
			id, err := policies.StorePolicy(r.Context(), req.Data, req.Metadata)
			if err != nil {
				writeFacadeError(w, err)
				return
			}
			writeJSONResponse(w, map[string]string{"id": id})
		case http.MethodGet:
			limit, offset := 0, 0
			fmt.Sscanf(r.URL.Query().Get("limit"), "%d", &limit)
			fmt.Sscanf(r.URL.Query().Get("offset"), "%d", &offset)
			writeJSONResponse(w, policies.ListPolicies(limit, offset))
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/v1/policy/", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/v1/policy/"):]
		switch r.Method {
		case http.MethodGet:
			entry, err := policies.GetPolicy(r.Context(), id)
			if err != nil {
				writeFacadeError(w, err)
				return
			}
			if entry == nil {
				http.NotFound(w, r)
				return
			}
			writeJSONResponse(w, entry)
		case http.MethodDelete:
			removed, err := policies.RemovePolicy(r.Context(), id)
			if err != nil {
				writeFacadeError(w, err)
				return
			}
			writeJSONResponse(w, map[string]bool{"removed": removed})
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

func writeJSONResponse(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeFacadeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch storetypes.KindOf(err) {
	case storetypes.KindInvalidState, storetypes.KindSerialization:
		status = http.StatusBadRequest
	case storetypes.KindAuthentication:
		status = http.StatusUnauthorized
	case storetypes.KindNotFound:
		status = http.StatusNotFound
	case storetypes.KindRateLimited:
		status = http.StatusTooManyRequests
	}
	http.Error(w, err.Error(), status)
}
