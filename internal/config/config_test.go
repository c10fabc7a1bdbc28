package config

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigAppliesDefaultsForOmittedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, SaveConfig(&Config{NodeID: "node-a"}, path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "node-a", cfg.NodeID)
	assert.Equal(t, configVersion, cfg.Version)
	assert.Equal(t, 3, cfg.ReplicationFactor)
	assert.Equal(t, 3, cfg.Fanout)
	assert.Equal(t, "0.0.0.0:7946", cfg.ListenAddr)
	assert.Equal(t, 1000*time.Millisecond, cfg.GossipInterval())
}

func TestLoadConfigRejectsMissingNodeID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, SaveConfig(&Config{}, path))

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfigRejectsUnsupportedVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, SaveConfig(&Config{NodeID: "node-a", Version: "99"}, path))

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestSaveConfigRoundTripsBootstrapPeers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := DefaultConfig("node-a")
	cfg.BootstrapPeers = []PeerSeed{{ID: "node-b", Endpoint: "10.0.0.2:7946"}}
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, loaded.BootstrapPeers, 1)
	assert.Equal(t, "node-b", loaded.BootstrapPeers[0].ID)
}

func TestWatchReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, SaveConfig(DefaultConfig("node-a"), path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 1)
	go func() {
		_ = Watch(ctx, path, nil, func(cfg *Config) {
			select {
			case reloaded <- cfg:
			default:
			}
		})
	}()

	time.Sleep(50 * time.Millisecond)
	updated := DefaultConfig("node-a")
	updated.Fanout = 9
	require.NoError(t, SaveConfig(updated, path))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 9, cfg.Fanout)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}
