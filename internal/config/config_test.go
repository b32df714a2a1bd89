package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesDocumentedDefaults(t *testing.T) {
	c := Default()
	assert.Equal(t, 10*time.Second, time.Duration(c.Monitor.Interval))
	assert.Equal(t, 5*time.Second, time.Duration(c.Telemetry.Timeout))
	assert.Equal(t, 60*time.Second, time.Duration(c.Provider.Timeout))
	assert.Equal(t, "/director/leader", c.Leader.Path)
	assert.Equal(t, 80.0, c.Thresholds.CPUTemperatureUp)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestLoadParsesYAMLDurationsAndOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleetd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
monitor:
  interval: 30s
telemetry:
  timeout: 2
leader:
  path: /custom/leader
`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, time.Duration(c.Monitor.Interval))
	assert.Equal(t, 2*time.Second, time.Duration(c.Telemetry.Timeout))
	assert.Equal(t, "/custom/leader", c.Leader.Path)
	// untouched key keeps its default
	assert.Equal(t, 60*time.Second, time.Duration(c.Provider.Timeout))
}

func TestEnvOverrideWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleetd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("monitor:\n  interval: 30s\n"), 0o644))

	t.Setenv("FLEETD_MONITOR_INTERVAL", "45s")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, time.Duration(c.Monitor.Interval))
}

func TestEnvOverrideShardCountAndLogLevel(t *testing.T) {
	t.Setenv("FLEETD_REGISTRY_SHARDCOUNT", "16")
	t.Setenv("FLEETD_LOG_LEVEL", "debug")

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 16, c.Registry.ShardCount)
	assert.Equal(t, "debug", c.Log.Level)
}
