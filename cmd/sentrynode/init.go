package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/aegismesh/sentrynode/internal/config"
	"github.com/aegismesh/sentrynode/internal/ui"
)

func runInit(args []string, configPath string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	force := fs.Bool("force", false, "Overwrite existing configuration")
	nodeID := fs.String("node-id", "", "Node identifier (default: hostname)")
	listenAddr := fs.String("listen-addr", "", "Address to listen on for peer RPCs")
	dataDir := fs.String("data-dir", "", "Directory for local storage and policy cache")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: sentrynode init [options]

Description:
  Create a config.yaml for a new node, with sensible single-node
  defaults for replication, gossip, and topology maintenance.

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if _, err := os.Stat(configPath); err == nil && !*force {
		ui.Errorf("%s already exists; use --force to overwrite", configPath)
		return 1
	}

	id := *nodeID
	if id == "" {
		if host, err := os.Hostname(); err == nil {
			id = host
		} else {
			id = "node-0"
		}
	}

	cfg := config.DefaultConfig(id)
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	if err := config.SaveConfig(cfg, configPath); err != nil {
		ui.Errorf("cannot save configuration: %v", err)
		return 1
	}

	ui.Successf("Created %s", configPath)
	fmt.Println()
	ui.SubHeader("Next steps:")
	fmt.Printf("  1. Edit %s to add bootstrap_peers\n", ui.DimText(configPath))
	fmt.Printf("  2. Run '%s' to start the node\n", ui.Cyan.Sprint("sentrynode serve"))
	return 0
}
