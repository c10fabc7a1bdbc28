package main

import (
	"context"
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/aegismesh/sentrynode/internal/config"
	"github.com/aegismesh/sentrynode/internal/epidemic"
	"github.com/aegismesh/sentrynode/internal/storetypes"
	"github.com/aegismesh/sentrynode/internal/transport"
	"github.com/aegismesh/sentrynode/internal/ui"
)

func runGossipNow(args []string, configPath string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("gossip-now", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: sentrynode gossip-now\n\nRun one gossip round against bootstrap_peers and exit.\n")
	}
	if err := fs.Parse(args); err != nil {
		return 1
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

	topo := epidemic.NewTopology(cfg.NodeID)
	for _, seed := range cfg.BootstrapPeers {
		topo.Upsert(storetypes.PeerRecord{ID: seed.ID, Endpoint: seed.Endpoint, LastSeen: time.Now()})
	}
	if len(topo.Snapshot()) == 0 {
		ui.Warning("no bootstrap_peers configured; nothing to gossip to")
		return 0
	}

	engine := epidemic.New(engineConfig(cfg), backend, topo, transport.NewHTTP(5*time.Second), epidemic.NewMetrics(), nil)
	engine.GossipNow(context.Background())
	ui.Success("gossip round complete")
	return 0
}
