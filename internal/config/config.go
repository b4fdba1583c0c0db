// Package config loads the coordinator and storage-node configuration.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (BLOCKFS_*, dots become underscores)
//  2. Configuration file (YAML)
//  3. Default values
//
// Example:
//
//	BLOCKFS_REPLICATION_FACTOR=2 BLOCKFS_LOGGING_LEVEL=debug blockfs-coordinator serve
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "BLOCKFS"

// CoordinatorConfig configures the metadata coordinator.
type CoordinatorConfig struct {
	// Listen is the HTTP listen address of the coordinator API.
	Listen string `mapstructure:"listen" validate:"required" yaml:"listen"`

	// ReplicationFactor is the number of nodes each written block goes to.
	ReplicationFactor int `mapstructure:"replication_factor" validate:"min=1,max=16" yaml:"replication_factor"`

	// HeartbeatInterval is the interval storage nodes are expected to
	// heartbeat at. The liveness check runs on the same period.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" validate:"gt=0" yaml:"heartbeat_interval"`

	// DeadNodeAfter is how many heartbeat intervals may pass in silence
	// before a node is declared dead and its blocks re-replicated.
	DeadNodeAfter int `mapstructure:"dead_node_after" validate:"min=1" yaml:"dead_node_after"`

	// ActionTimeout expires unconfirmed deletes and replications so they
	// can be reissued. Zero keeps them until confirmed.
	ActionTimeout time.Duration `mapstructure:"action_timeout" validate:"gte=0" yaml:"action_timeout"`

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0" yaml:"shutdown_timeout"`

	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// DeadAfter returns the heartbeat silence after which a node is dead.
func (c *CoordinatorConfig) DeadAfter() time.Duration {
	return time.Duration(c.DeadNodeAfter) * c.HeartbeatInterval
}

// NodeConfig configures a storage node.
type NodeConfig struct {
	// Coordinator is the coordinator's base URL or host:port.
	Coordinator string `mapstructure:"coordinator" validate:"required" yaml:"coordinator"`

	// Listen is the HTTP listen address for block transfers.
	Listen string `mapstructure:"listen" validate:"required" yaml:"listen"`

	// Advertise is the host:port peers and clients use to reach this node.
	// Empty derives it from Listen.
	Advertise string `mapstructure:"advertise" yaml:"advertise"`

	// Capacity is the number of bytes this node offers, e.g. "1GiB".
	Capacity ByteSize `mapstructure:"capacity" validate:"gt=0" yaml:"capacity"`

	// HeartbeatInterval is how often the node reports its manifest.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" validate:"gt=0" yaml:"heartbeat_interval"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0" yaml:"shutdown_timeout"`

	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error" yaml:"level"`

	// Format is "console" for human-readable output or "json".
	Format string `mapstructure:"format" validate:"required,oneof=console json" yaml:"format"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" validate:"required,startswith=/" yaml:"path"`
}

// ByteSize is a byte count that config files may spell in human units
// ("512MiB", "1GB") or as a plain number.
type ByteSize int64

// MarshalYAML renders the size in IEC units.
func (b ByteSize) MarshalYAML() (any, error) {
	return humanize.IBytes(uint64(b)), nil
}

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// LoadCoordinator reads the coordinator configuration from configPath (may be
// empty), the environment, and defaults, then validates it.
func LoadCoordinator(configPath string) (*CoordinatorConfig, error) {
	cfg := &CoordinatorConfig{}
	if err := load(configPath, coordinatorDefaults(), cfg); err != nil {
		return nil, err
	}
	normalizeLogging(&cfg.Logging)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadNode reads the storage-node configuration from configPath (may be
// empty), the environment, and defaults, then validates it.
func LoadNode(configPath string) (*NodeConfig, error) {
	cfg := &NodeConfig{}
	if err := load(configPath, nodeDefaults(), cfg); err != nil {
		return nil, err
	}
	normalizeLogging(&cfg.Logging)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks struct tags on a configuration value.
func Validate(cfg any) error {
	return validate.Struct(cfg)
}

// SaveConfig writes cfg to path as YAML, creating parent directories.
func SaveConfig(cfg any, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// load layers defaults, file and environment into out.
func load(configPath string, defaults map[string]any, out any) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || os.IsNotExist(err) {
				return fmt.Errorf("configuration file not found: %s", configPath)
			}
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(out, viper.DecodeHook(decodeHooks())); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}

func normalizeLogging(cfg *LoggingConfig) {
	cfg.Level = strings.ToLower(cfg.Level)
	cfg.Format = strings.ToLower(cfg.Format)
}

func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		byteSizeDecodeHook(),
	)
}

// byteSizeDecodeHook converts human-readable strings and raw numbers to
// ByteSize.
func byteSizeDecodeHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			n, err := humanize.ParseBytes(v)
			if err != nil {
				return nil, fmt.Errorf("invalid size %q: %w", v, err)
			}
			return ByteSize(n), nil
		case int:
			return ByteSize(v), nil
		case int64:
			return ByteSize(v), nil
		case uint64:
			return ByteSize(v), nil
		case float64:
			return ByteSize(v), nil
		default:
			return data, nil
		}
	}
}
