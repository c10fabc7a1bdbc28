package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/aegismesh/sentrynode/internal/config"
	"github.com/aegismesh/sentrynode/internal/localstore"
	"github.com/aegismesh/sentrynode/internal/policystore"
	"github.com/aegismesh/sentrynode/internal/ui"
)

type statusReport struct {
	NodeID      string         `json:"node_id"`
	Storage     map[string]any `json:"storage"`
	PolicyCount int            `json:"policy_count"`
	Peers       []peerStatus   `json:"peers"`
}

type peerStatus struct {
	ID       string `json:"id"`
	Endpoint string `json:"endpoint"`
	Fresh    bool   `json:"fresh"`
}

func runStatus(args []string, configPath string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	jsonOutput := fs.Bool("json", false, "Output in JSON format")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: sentrynode status [--json]\n\nShow local storage stats, policy cache size, and peer freshness.\n")
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *jsonOutput {
		globals.JSON = true
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		ui.Errorf("cannot load config: %v", err)
		return 1
	}

	backend, closeFn, err := openBackend(cfg)
	if err != nil {
		ui.Errorf("cannot open storage: %v", err)
		return 1
	}
	defer closeFn()

	ctx := context.Background()
	stats, err := backend.Stats(ctx)
	if err != nil {
		ui.Errorf("cannot read stats: %v", err)
		return 1
	}

	policies := policystore.New(backend, nil)
	if err := policies.Initialize(ctx, policystore.InitOptions{}); err != nil {
		ui.Errorf("cannot read policy cache: %v", err)
		return 1
	}
	peers, err := backend.ListPeers(ctx)
	if err != nil {
		ui.Errorf("cannot list peers: %v", err)
		return 1
	}

	report := statusReport{
		NodeID: cfg.NodeID,
		Storage: map[string]any{
			"total_entries": stats.TotalEntries,
			"total_bytes":   stats.TotalBytes,
			"total_expired": stats.TotalExpired,
			"total_regions": stats.TotalRegions,
		},
		PolicyCount: policies.Count(),
	}
	now := time.Now()
	for _, p := range peers {
		report.Peers = append(report.Peers, peerStatus{
			ID:       p.ID,
			Endpoint: p.Endpoint,
			Fresh:    p.Fresh(now, cfg.NodeExpiry()),
		})
	}

	if globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return boolToExit(enc.Encode(report) == nil)
	}

	ui.Header(fmt.Sprintf("sentrynode status: %s", cfg.NodeID))
	fmt.Printf("  %s %s\n", ui.Label("entries:"), ui.CountText(int(stats.TotalEntries)))
	fmt.Printf("  %s %d bytes\n", ui.Label("total size:"), stats.TotalBytes)
	fmt.Printf("  %s %s\n", ui.Label("expired:"), ui.CountText(int(stats.TotalExpired)))
	fmt.Printf("  %s %s\n", ui.Label("policies:"), ui.CountText(report.PolicyCount))
	ui.SubHeader("Peers")
	if len(report.Peers) == 0 {
		ui.Info("  (none known)")
	}
	for _, p := range report.Peers {
		marker := ui.Green.Sprint("fresh")
		if !p.Fresh {
			marker = ui.Yellow.Sprint("stale")
		}
		fmt.Printf("  %s  %s  %s\n", p.ID, p.Endpoint, marker)
	}
	return 0
}

func boolToExit(ok bool) int {
	if ok {
		return 0
	}
	return 1
}

// openBackend opens the node's configured storage backend, returning
// a close function that the caller must defer.
func openBackend(cfg *config.Config) (localstore.Backend, func(), error) {
	if cfg.DataDir == "" || cfg.DataDir == "memory" {
		backend := localstore.NewMemory(localstore.MemoryConfig{
			MaxEntries: cfg.MaxEntries,
			MaxBytes:   cfg.MaxBytes,
		})
		return backend, func() { _ = backend.Close() }, nil
	}
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, func() {}, err
	}
	dbPath := cfg.DataDir + "/sentrynode.db"
	backend, err := localstore.OpenDurable(dbPath, nil)
	if err != nil {
		return nil, func() {}, err
	}
	return backend, func() { _ = backend.Close() }, nil
}
