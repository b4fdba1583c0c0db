package config

import "time"

// Default values shared by the coordinator and storage nodes.
const (
	DefaultCoordinatorListen = ":8080"
	DefaultNodeListen        = ":8081"
	DefaultReplicationFactor = 3
	DefaultHeartbeatInterval = 3 * time.Second
	DefaultDeadNodeAfter     = 3
	DefaultActionTimeout     = 2 * time.Minute
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultNodeCapacity      = "1GiB"
	DefaultMetricsPath       = "/metrics"
)

func coordinatorDefaults() map[string]any {
	return map[string]any{
		"listen":             DefaultCoordinatorListen,
		"replication_factor": DefaultReplicationFactor,
		"heartbeat_interval": DefaultHeartbeatInterval,
		"dead_node_after":    DefaultDeadNodeAfter,
		"action_timeout":     DefaultActionTimeout,
		"shutdown_timeout":   DefaultShutdownTimeout,
		"logging.level":      "info",
		"logging.format":     "console",
		"metrics.enabled":    true,
		"metrics.path":       DefaultMetricsPath,
	}
}

func nodeDefaults() map[string]any {
	return map[string]any{
		"coordinator":        "http://127.0.0.1:8080",
		"listen":             DefaultNodeListen,
		"advertise":          "",
		"capacity":           DefaultNodeCapacity,
		"heartbeat_interval": DefaultHeartbeatInterval,
		"shutdown_timeout":   DefaultShutdownTimeout,
		"logging.level":      "info",
		"logging.format":     "console",
	}
}

// DefaultCoordinatorConfig returns the coordinator configuration used when
// nothing is overridden. `coordinator init` writes it to disk.
func DefaultCoordinatorConfig() *CoordinatorConfig {
	return &CoordinatorConfig{
		Listen:            DefaultCoordinatorListen,
		ReplicationFactor: DefaultReplicationFactor,
		HeartbeatInterval: DefaultHeartbeatInterval,
		DeadNodeAfter:     DefaultDeadNodeAfter,
		ActionTimeout:     DefaultActionTimeout,
		ShutdownTimeout:   DefaultShutdownTimeout,
		Logging:           LoggingConfig{Level: "info", Format: "console"},
		Metrics:           MetricsConfig{Enabled: true, Path: DefaultMetricsPath},
	}
}

// DefaultNodeConfig returns the storage-node configuration used when nothing
// is overridden.
func DefaultNodeConfig() *NodeConfig {
	return &NodeConfig{
		Coordinator:       "http://127.0.0.1:8080",
		Listen:            DefaultNodeListen,
		Capacity:          1 << 30,
		HeartbeatInterval: DefaultHeartbeatInterval,
		ShutdownTimeout:   DefaultShutdownTimeout,
		Logging:           LoggingConfig{Level: "info", Format: "console"},
	}
}
