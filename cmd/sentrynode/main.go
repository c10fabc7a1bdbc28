// Package main implements the sentrynode CLI: a single-binary
// blinded-storage network node with anti-entropy gossip, deterministic
// peer assignment, and a content-addressed transfer policy cache.
//
// Usage:
//
//	sentrynode init                 Create config.yaml for a new node
//	sentrynode serve                Run the node (gossip + reconciliation + topology maintenance)
//	sentrynode status [--json]      Show storage stats and peer freshness
//	sentrynode reset                Wipe local storage and policy cache (destructive!)
//	sentrynode gossip-now           Trigger one gossip round against bootstrap peers and exit
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/aegismesh/sentrynode/internal/ui"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// GlobalFlags holds the global CLI flags that apply to every command.
type GlobalFlags struct {
	JSON    bool
	NoColor bool
	Verbose int
	Quiet   bool
}

func main() {
	var (
		showVersion = flag.BoolP("version", "V", false, "Show version and exit")
		configPath  = flag.StringP("config", "c", "config.yaml", "Path to node config.yaml")
		jsonOutput  = flag.Bool("json", false, "Output in JSON format (for applicable commands)")
		noColor     = flag.Bool("no-color", false, "Disable color output")
		verbose     = flag.CountP("verbose", "v", "Increase verbosity (-v for info, -vv for debug)")
		quiet       = flag.BoolP("quiet", "q", false, "Suppress non-essential output")
	)

	// Stop parsing at the first non-flag argument so subcommand flags
	// like "reset --yes" reach the subcommand handler untouched.
	flag.SetInterspersed(false)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `sentrynode - blinded storage network node

A node in a decentralized, content-addressed storage network: clients
push blinded payloads, the node gossips them to peers via anti-entropy,
and a local policy cache governs what gets replicated where.

Usage:
  sentrynode <command> [options]

Commands:
  init          Create config.yaml for a new node
  serve         Run the node
  status        Show storage stats and peer freshness
  reset         Wipe local storage and policy cache (destructive!)
  gossip-now    Trigger one gossip round against bootstrap peers and exit

Global Options:
  --json            Output in JSON format (for applicable commands)
  --no-color        Disable color output (respects NO_COLOR env var)
  -v, --verbose     Increase verbosity (-v for info, -vv for debug)
  -q, --quiet       Suppress non-essential output
  -c, --config      Path to config.yaml (default: ./config.yaml)
  -V, --version     Show version and exit

For detailed command help: sentrynode <command> --help

`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("sentrynode version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", date)
		os.Exit(0)
	}

	if os.Getenv("NO_COLOR") != "" {
		*noColor = true
	}

	if *quiet && *verbose > 0 {
		fmt.Fprintf(os.Stderr, "Error: cannot use --quiet and --verbose together\n")
		os.Exit(1)
	}
	if *jsonOutput {
		*quiet = true
	}

	globals := GlobalFlags{
		JSON:    *jsonOutput,
		NoColor: *noColor,
		Verbose: *verbose,
		Quiet:   *quiet,
	}
	ui.InitColors(globals.NoColor)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "init":
		os.Exit(runInit(cmdArgs, *configPath, globals))
	case "serve":
		os.Exit(runServe(cmdArgs, *configPath, globals))
	case "status":
		os.Exit(runStatus(cmdArgs, *configPath, globals))
	case "reset":
		os.Exit(runReset(cmdArgs, *configPath, globals))
	case "gossip-now":
		os.Exit(runGossipNow(cmdArgs, *configPath, globals))
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}
