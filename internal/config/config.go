// Package config loads and hot-reloads the node's YAML configuration,
// the way cmd/cie/config.go loads .cie/project.yaml: defaulted,
// versioned, overridable by environment variables, and watched on
// disk for live tunable changes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aegismesh/sentrynode/internal/storetypes"
)

const configVersion = "1"

// PeerSeed names a bootstrap peer the node dials at startup, before
// topology maintenance has discovered anything on its own.
type PeerSeed struct {
	ID       string `yaml:"id"`
	Endpoint string `yaml:"endpoint"`
}

// Config is the node's complete on-disk configuration.
type Config struct {
	Version string `yaml:"version"`

	NodeID     string `yaml:"node_id"`
	ListenAddr string `yaml:"listen_addr"`
	DataDir    string `yaml:"data_dir"`

	// Replication and topology tunables.
	ReplicationFactor     int `yaml:"replication_factor"`
	Fanout                int `yaml:"fanout"`
	MaxReconciliationDiff int `yaml:"max_reconciliation_diff"`
	MaxLongLinks          int `yaml:"max_long_links"`
	KNeighbors            int `yaml:"k_neighbors"`
	NodeExpirySeconds     int `yaml:"node_expiry_seconds"`

	// Timer intervals, all in milliseconds on the wire to match the
	// *_interval_ms naming.
	GossipIntervalMS              int `yaml:"gossip_interval_ms"`
	ReconciliationIntervalMS      int `yaml:"reconciliation_interval_ms"`
	TopologyMaintenanceIntervalMS int `yaml:"topology_maintenance_interval_ms"`
	PruneIntervalMS               int `yaml:"prune_interval_ms"`

	// Local store eviction ceilings; 0 means unbounded.
	MaxEntries int   `yaml:"max_entries"`
	MaxBytes   int64 `yaml:"max_bytes"`

	// Rate limiting, per-source-identifier sliding window.
	RateLimitWindowSeconds int `yaml:"rate_limit_window_seconds"`
	RateLimitMaxRequests   int `yaml:"rate_limit_max_requests"`

	BootstrapPeers []PeerSeed `yaml:"bootstrap_peers,omitempty"`
}

// DefaultConfig returns a config with sensible single-node defaults,
// suitable for local development before any tuning.
func DefaultConfig(nodeID string) *Config {
	return &Config{
		Version:                        configVersion,
		NodeID:                         nodeID,
		ListenAddr:                     "0.0.0.0:7946",
		DataDir:                        "./data",
		ReplicationFactor:              3,
		Fanout:                         3,
		MaxReconciliationDiff:          256,
		MaxLongLinks:                   8,
		KNeighbors:                     8,
		NodeExpirySeconds:              300,
		GossipIntervalMS:               1000,
		ReconciliationIntervalMS:       5000,
		TopologyMaintenanceIntervalMS:  10000,
		PruneIntervalMS:                60000,
		MaxEntries:                     0,
		MaxBytes:                       0,
		RateLimitWindowSeconds:         60,
		RateLimitMaxRequests:           0,
	}
}

// GossipInterval, ReconciliationInterval, TopologyMaintenanceInterval,
// PruneInterval, and NodeExpiry convert the YAML millisecond/second
// fields into time.Duration for the components that consume them.
func (c *Config) GossipInterval() time.Duration { return time.Duration(c.GossipIntervalMS) * time.Millisecond }
func (c *Config) ReconciliationInterval() time.Duration {
	return time.Duration(c.ReconciliationIntervalMS) * time.Millisecond
}
func (c *Config) TopologyMaintenanceInterval() time.Duration {
	return time.Duration(c.TopologyMaintenanceIntervalMS) * time.Millisecond
}
func (c *Config) PruneInterval() time.Duration { return time.Duration(c.PruneIntervalMS) * time.Millisecond }
func (c *Config) NodeExpiry() time.Duration    { return time.Duration(c.NodeExpirySeconds) * time.Second }
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}

// applyDefaults fills any zero-valued tunable with DefaultConfig's
// value, so a minimal on-disk file (just node_id and bootstrap_peers)
// is enough to run.
func (c *Config) applyDefaults() {
	d := DefaultConfig(c.NodeID)
	if c.Version == "" {
		c.Version = configVersion
	}
	if c.ListenAddr == "" {
		c.ListenAddr = d.ListenAddr
	}
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.ReplicationFactor == 0 {
		c.ReplicationFactor = d.ReplicationFactor
	}
	if c.Fanout == 0 {
		c.Fanout = d.Fanout
	}
	if c.MaxReconciliationDiff == 0 {
		c.MaxReconciliationDiff = d.MaxReconciliationDiff
	}
	if c.MaxLongLinks == 0 {
		c.MaxLongLinks = d.MaxLongLinks
	}
	if c.KNeighbors == 0 {
		c.KNeighbors = d.KNeighbors
	}
	if c.NodeExpirySeconds == 0 {
		c.NodeExpirySeconds = d.NodeExpirySeconds
	}
	if c.GossipIntervalMS == 0 {
		c.GossipIntervalMS = d.GossipIntervalMS
	}
	if c.ReconciliationIntervalMS == 0 {
		c.ReconciliationIntervalMS = d.ReconciliationIntervalMS
	}
	if c.TopologyMaintenanceIntervalMS == 0 {
		c.TopologyMaintenanceIntervalMS = d.TopologyMaintenanceIntervalMS
	}
	if c.PruneIntervalMS == 0 {
		c.PruneIntervalMS = d.PruneIntervalMS
	}
	if c.RateLimitWindowSeconds == 0 {
		c.RateLimitWindowSeconds = d.RateLimitWindowSeconds
	}
}

// applyEnvOverrides lets environment variables override file-based
// configuration, the same precedence cmd/cie/config.go uses.
func (c *Config) applyEnvOverrides() {
	if id := os.Getenv("SENTRYNODE_ID"); id != "" {
		c.NodeID = id
	}
	if addr := os.Getenv("SENTRYNODE_LISTEN_ADDR"); addr != "" {
		c.ListenAddr = addr
	}
	if dir := os.Getenv("SENTRYNODE_DATA_DIR"); dir != "" {
		c.DataDir = dir
	}
}

// LoadConfig reads and validates a YAML config file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator-supplied via --config
	if err != nil {
		return nil, storetypes.Wrap(storetypes.KindInvalidState, fmt.Sprintf("read config %s", path), err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, storetypes.Wrap(storetypes.KindSerialization, "parse config yaml", err)
	}
	if cfg.Version != "" && cfg.Version != configVersion {
		return nil, storetypes.New(storetypes.KindInvalidState, fmt.Sprintf("unsupported config version %q (expected %q)", cfg.Version, configVersion))
	}
	if cfg.NodeID == "" {
		return nil, storetypes.New(storetypes.KindInvalidState, "node_id is required")
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	return &cfg, nil
}

// SaveConfig writes cfg to path as YAML, creating the parent
// directory if needed.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return storetypes.Wrap(storetypes.KindSerialization, "marshal config", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return storetypes.Wrap(storetypes.KindStorage, "create config directory", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return storetypes.Wrap(storetypes.KindStorage, "write config file", err)
	}
	return nil
}
