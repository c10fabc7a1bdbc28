package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/aegismesh/sentrynode/internal/config"
	"github.com/aegismesh/sentrynode/internal/ui"
)

func runReset(args []string, configPath string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	confirm := fs.Bool("yes", false, "Confirm the reset (required)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: sentrynode reset [options]

Description:
  WARNING: destructive. Deletes the node's entire local storage
  directory, including stored entries, the policy cache, and known
  peers. Configuration (config.yaml) is not touched.

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if !*confirm {
		ui.Error("the --yes flag is required to confirm this destructive operation")
		return 1
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		ui.Errorf("cannot load config: %v", err)
		return 1
	}

	if cfg.DataDir == "" || cfg.DataDir == "memory" {
		ui.Info("node uses an in-memory backend; nothing on disk to reset")
		return 0
	}

	if _, err := os.Stat(cfg.DataDir); os.IsNotExist(err) {
		fmt.Printf("No local data found for node %s\n", cfg.NodeID)
		return 0
	}

	fmt.Printf("Resetting node %s (deleting %s)...\n", cfg.NodeID, cfg.DataDir)
	if err := os.RemoveAll(cfg.DataDir); err != nil {
		ui.Errorf("cannot delete data directory: %v", err)
		return 1
	}

	ui.Success("Reset complete. All local storage and policy cache data has been deleted.")
	return 0
}
