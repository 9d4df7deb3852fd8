package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsInternallyConsistent(t *testing.T) {
	cfg := Default()

	assert.Less(t, cfg.Scaling.MinNodes, cfg.Scaling.MaxNodes)
	assert.Less(t, cfg.Scaling.ScaleDownThreshold, cfg.Scaling.ScaleUpThreshold)
	assert.Equal(t, EnvDevelopment, cfg.Environment)
}

func TestLoadBytesOverlaysDefaults(t *testing.T) {
	yaml := []byte(`
scaling:
  min_nodes: 3
  max_nodes: 8
environment: production
`)

	cfg, err := LoadBytes(yaml, FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Scaling.MinNodes)
	assert.Equal(t, 8, cfg.Scaling.MaxNodes)
	assert.Equal(t, EnvProduction, cfg.Environment)
	// Untouched sections keep their defaults.
	assert.Equal(t, "localhost", cfg.Redis.Host)
	assert.Equal(t, 85.0, cfg.Monitoring.AlertThresholds.CPUUsage)
}

func TestLoadBytesRejectsUnknownFormat(t *testing.T) {
	_, err := LoadBytes([]byte("{}"), Format("toml"))
	assert.Error(t, err)
}

func TestLoadPicksFormatFromExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"environment":"staging"}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, EnvStaging, cfg.Environment)

	_, err = Load(filepath.Join(t.TempDir(), "cfg.toml"))
	assert.Error(t, err)
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("environment: development\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Config, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, path, func(c Config) { got <- c }, nil)
	}()

	// Give the watcher time to install before the write.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("environment: production\n"), 0o600))

	select {
	case cfg := <-got:
		assert.Equal(t, EnvProduction, cfg.Environment)
	case <-time.After(10 * time.Second):
		t.Fatal("watcher never delivered the reloaded config")
	}

	cancel()
	<-done
}
