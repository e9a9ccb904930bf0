// Package config loads the daemon's configuration via viper, layering
// defaults, an optional config file, and TORU_-prefixed environment
// variable overrides.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable named or implied by spec.md §4/§5.
type Config struct {
	// PluginsDir is scanned for <id>.binary executables (spec.md §6).
	PluginsDir string `mapstructure:"plugins_dir"`
	// SocketsDir holds <id>.sock files created by plugins (spec.md §6).
	SocketsDir string `mapstructure:"sockets_dir"`
	// DataDir holds core.db (KV store + event log) and instance.json;
	// config.json lives under <PluginsDir>/.metadata.
	DataDir string `mapstructure:"data_dir"`

	// ListenAddr is the management API bind address.
	ListenAddr string `mapstructure:"listen_addr"`

	MaxRestarts     int           `mapstructure:"max_restarts"`
	RestartCooldown time.Duration `mapstructure:"restart_cooldown"`
	MaxFrameBytes   uint32        `mapstructure:"max_frame_bytes"`

	SpawnSocketDeadline time.Duration `mapstructure:"spawn_socket_deadline"`
	MetadataDeadline    time.Duration `mapstructure:"metadata_deadline"`
	ForwardDeadline     time.Duration `mapstructure:"forward_deadline"`
	ConnectDeadline     time.Duration `mapstructure:"connect_deadline"`
	ShutdownDeadline    time.Duration `mapstructure:"shutdown_deadline"`

	// WatchPluginsDir enables the supplemental fsnotify-based hot-discovery
	// of newly-appeared plugin binaries (see SPEC_FULL.md §C).
	WatchPluginsDir bool `mapstructure:"watch_plugins_dir"`

	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
}

// Defaults returns a Config populated with every default named in spec.md.
func Defaults() Config {
	return Config{
		PluginsDir:          "./plugins",
		SocketsDir:          "./run/sockets",
		DataDir:             "./data",
		ListenAddr:          ":8090",
		MaxRestarts:         10,
		RestartCooldown:     60 * time.Second,
		MaxFrameBytes:       10 * 1024 * 1024,
		SpawnSocketDeadline: 2 * time.Second,
		MetadataDeadline:    5 * time.Second,
		ForwardDeadline:     30 * time.Second,
		ConnectDeadline:     2 * time.Second,
		ShutdownDeadline:    5 * time.Second,
		WatchPluginsDir:     false,
		LogLevel:            "info",
		LogJSON:             true,
	}
}

// Load reads configuration from an optional file at configPath (if
// non-empty), then applies TORU_-prefixed environment variable overrides,
// matching viper's normal layering: defaults < file < env.
func Load(configPath string) (Config, error) {
	v := viper.New()
	d := Defaults()

	v.SetDefault("plugins_dir", d.PluginsDir)
	v.SetDefault("sockets_dir", d.SocketsDir)
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("listen_addr", d.ListenAddr)
	v.SetDefault("max_restarts", d.MaxRestarts)
	v.SetDefault("restart_cooldown", d.RestartCooldown)
	v.SetDefault("max_frame_bytes", d.MaxFrameBytes)
	v.SetDefault("spawn_socket_deadline", d.SpawnSocketDeadline)
	v.SetDefault("metadata_deadline", d.MetadataDeadline)
	v.SetDefault("forward_deadline", d.ForwardDeadline)
	v.SetDefault("connect_deadline", d.ConnectDeadline)
	v.SetDefault("shutdown_deadline", d.ShutdownDeadline)
	v.SetDefault("watch_plugins_dir", d.WatchPluginsDir)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_json", d.LogJSON)

	v.SetEnvPrefix("TORU")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}
