package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadCoordinatorDefaults(t *testing.T) {
	cfg, err := LoadCoordinator("")
	require.NoError(t, err)
	assert.Equal(t, DefaultCoordinatorConfig(), cfg)
	assert.Equal(t, 9*time.Second, cfg.DeadAfter())
	assert.Equal(t, 2*time.Minute, cfg.ActionTimeout, "unconfirmed actions expire by default")
}

func TestLoadCoordinatorFromFile(t *testing.T) {
	path := writeFile(t, `
listen: ":9000"
replication_factor: 2
heartbeat_interval: 1s
dead_node_after: 5
action_timeout: 30s
logging:
  level: DEBUG
  format: json
metrics:
  enabled: false
`)

	cfg, err := LoadCoordinator(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, 2, cfg.ReplicationFactor)
	assert.Equal(t, time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 5*time.Second, cfg.DeadAfter())
	assert.Equal(t, 30*time.Second, cfg.ActionTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, DefaultMetricsPath, cfg.Metrics.Path)
	assert.Equal(t, DefaultShutdownTimeout, cfg.ShutdownTimeout)
}

func TestLoadCoordinatorEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "replication_factor: 2\n")
	t.Setenv("BLOCKFS_REPLICATION_FACTOR", "4")
	t.Setenv("BLOCKFS_LOGGING_LEVEL", "warn")

	cfg, err := LoadCoordinator(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.ReplicationFactor)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadCoordinator(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestLoadCoordinatorInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"zero replication", "replication_factor: 0\n", "ReplicationFactor"},
		{"replication above 16", "replication_factor: 17\n", "max"},
		{"bad level", "logging:\n  level: loud\n", "oneof"},
		{"bad format", "logging:\n  format: xml\n", "oneof"},
		{"negative timeout", "action_timeout: -1s\n", "ActionTimeout"},
		{"relative metrics path", "metrics:\n  path: metrics\n", "startswith"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadCoordinator(writeFile(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadNode(t *testing.T) {
	path := writeFile(t, `
coordinator: "10.0.0.1:8080"
listen: ":7000"
advertise: "10.0.0.7:7000"
capacity: 512MiB
heartbeat_interval: 500ms
`)

	cfg, err := LoadNode(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:8080", cfg.Coordinator)
	assert.Equal(t, "10.0.0.7:7000", cfg.Advertise)
	assert.Equal(t, ByteSize(512<<20), cfg.Capacity)
	assert.Equal(t, 500*time.Millisecond, cfg.HeartbeatInterval)
}

func TestLoadNodeDefaults(t *testing.T) {
	cfg, err := LoadNode("")
	require.NoError(t, err)
	assert.Equal(t, DefaultNodeConfig(), cfg)
}

func TestLoadNodeCapacityFromEnv(t *testing.T) {
	t.Setenv("BLOCKFS_CAPACITY", "2GiB")

	cfg, err := LoadNode("")
	require.NoError(t, err)
	assert.Equal(t, ByteSize(2<<30), cfg.Capacity)
}

func TestLoadNodeInvalidCapacity(t *testing.T) {
	_, err := LoadNode(writeFile(t, "capacity: lots\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid size")
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "coordinator.yaml")

	cfg := DefaultCoordinatorConfig()
	cfg.ReplicationFactor = 5
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadCoordinator(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	node := DefaultNodeConfig()
	nodePath := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, SaveConfig(node, nodePath))

	data, err := os.ReadFile(nodePath)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "capacity: 1.0 GiB"), string(data))

	loadedNode, err := LoadNode(nodePath)
	require.NoError(t, err)
	assert.Equal(t, node, loadedNode)
}

func TestByteSizeString(t *testing.T) {
	assert.Equal(t, "1.0 GiB", ByteSize(1<<30).String())
}
