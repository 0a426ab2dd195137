// Package config provides configuration management for tessera using Viper
// for flexible configuration loading from files, environment variables, and
// command-line flags.
//
// The configuration covers the world directory and its on-disk encoding,
// the streaming worker pool and cache eviction timing, the tile registry
// file, the optional monitor HTTP server and logging. Environment variables
// use the TESSERA_ prefix.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	World     WorldConfig     `mapstructure:"world" yaml:"world"`
	Streaming StreamingConfig `mapstructure:"streaming" yaml:"streaming"`
	Registry  RegistryConfig  `mapstructure:"registry" yaml:"registry"`
	Monitor   MonitorConfig   `mapstructure:"monitor" yaml:"monitor"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

type WorldConfig struct {
	Dir         string `mapstructure:"dir" yaml:"dir"`
	Name        string `mapstructure:"name" yaml:"name"`
	Seed        int64  `mapstructure:"seed" yaml:"seed"`
	Format      string `mapstructure:"format" yaml:"format"`
	Compression string `mapstructure:"compression" yaml:"compression"`
	Watch       bool   `mapstructure:"watch" yaml:"watch"`
}

type StreamingConfig struct {
	Workers       int           `mapstructure:"workers" yaml:"workers"`
	QueueSize     int           `mapstructure:"queue_size" yaml:"queue_size"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	Shards        int           `mapstructure:"shards" yaml:"shards"`
}

type RegistryConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type MonitorConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	Addr         string        `mapstructure:"addr" yaml:"addr"`
	MaxConns     int           `mapstructure:"max_conns" yaml:"max_conns"`
	PushInterval time.Duration `mapstructure:"push_interval" yaml:"push_interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Dir    string `mapstructure:"dir" yaml:"dir"`
}

// Defaults used when a value is unset.
const (
	DefaultWorldDir      = "./world"
	DefaultFormat        = "tagged"
	DefaultCompression   = "gzip"
	DefaultQueueSize     = 256
	DefaultIdleTimeout   = 30 * time.Second
	DefaultSweepInterval = 5 * time.Second
	DefaultShards        = 32
	DefaultMonitorAddr   = "127.0.0.1:7878"
	DefaultMaxConns      = 16
	DefaultPushInterval  = time.Second
)

func Load() (*Config, error) {
	config, err := Read()
	if err != nil {
		return nil, err
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Read unmarshals the configuration and applies defaults without
// validating it, for tools that report problems instead of failing.
func Read() (*Config, error) {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	applyDefaults(&config)

	// Handle bools set via viper (workaround for viper bool handling)
	if viper.IsSet("monitor.enabled") {
		config.Monitor.Enabled = viper.GetBool("monitor.enabled")
	}
	if viper.IsSet("world.watch") {
		config.World.Watch = viper.GetBool("world.watch")
	}

	return &config, nil
}

// Default returns a configuration holding only default values.
func Default() *Config {
	var config Config
	applyDefaults(&config)
	return &config
}

func applyDefaults(config *Config) {
	if config.World.Dir == "" {
		config.World.Dir = DefaultWorldDir
	}
	if config.World.Name == "" {
		config.World.Name = filepath.Base(filepath.Clean(config.World.Dir))
	}
	if config.World.Format == "" {
		config.World.Format = DefaultFormat
	}
	if config.World.Compression == "" {
		config.World.Compression = DefaultCompression
	}

	// Zero workers means runtime.GOMAXPROCS(0), decided by the pool.
	if config.Streaming.QueueSize == 0 {
		config.Streaming.QueueSize = DefaultQueueSize
	}
	if config.Streaming.IdleTimeout == 0 {
		config.Streaming.IdleTimeout = DefaultIdleTimeout
	}
	if config.Streaming.SweepInterval == 0 {
		config.Streaming.SweepInterval = DefaultSweepInterval
	}
	if config.Streaming.Shards == 0 {
		config.Streaming.Shards = DefaultShards
	}

	if config.Monitor.Addr == "" {
		config.Monitor.Addr = DefaultMonitorAddr
	}
	if config.Monitor.MaxConns == 0 {
		config.Monitor.MaxConns = DefaultMaxConns
	}
	if config.Monitor.PushInterval == 0 {
		config.Monitor.PushInterval = DefaultPushInterval
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}
}

// validateConfig validates configuration values for correctness
func validateConfig(config *Config) error {
	if err := validateWorldConfig(&config.World); err != nil {
		return fmt.Errorf("world config: %w", err)
	}

	if err := validateStreamingConfig(&config.Streaming); err != nil {
		return fmt.Errorf("streaming config: %w", err)
	}

	if config.Registry.Path != "" {
		if err := validatePath(config.Registry.Path); err != nil {
			return fmt.Errorf("registry config: %w", err)
		}
	}

	if err := validateMonitorConfig(&config.Monitor); err != nil {
		return fmt.Errorf("monitor config: %w", err)
	}

	return nil
}

func validateWorldConfig(config *WorldConfig) error {
	if err := validatePath(config.Dir); err != nil {
		return fmt.Errorf("invalid dir '%s': %w", config.Dir, err)
	}

	switch config.Format {
	case "tagged", "compact":
	default:
		return fmt.Errorf("unknown format %q (supported: tagged, compact)", config.Format)
	}

	switch config.Compression {
	case "none", "gzip", "zstd":
	default:
		return fmt.Errorf("unknown compression %q (supported: none, gzip, zstd)", config.Compression)
	}

	return nil
}

func validateStreamingConfig(config *StreamingConfig) error {
	if config.Workers < 0 {
		return fmt.Errorf("workers %d must not be negative", config.Workers)
	}
	if config.QueueSize < 1 {
		return fmt.Errorf("queue_size %d must be positive", config.QueueSize)
	}
	if config.IdleTimeout < 0 {
		return fmt.Errorf("idle_timeout %s must not be negative", config.IdleTimeout)
	}
	if config.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval %s must be positive", config.SweepInterval)
	}
	if config.Shards < 1 || config.Shards&(config.Shards-1) != 0 {
		return fmt.Errorf("shards %d must be a positive power of two", config.Shards)
	}
	return nil
}

func validateMonitorConfig(config *MonitorConfig) error {
	if !config.Enabled {
		return nil
	}
	if _, port, err := splitAddr(config.Addr); err != nil {
		return err
	} else if port < 0 || port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", port)
	}
	if config.MaxConns < 1 {
		return fmt.Errorf("max_conns %d must be positive", config.MaxConns)
	}
	return nil
}

func splitAddr(addr string) (string, int, error) {
	i := strings.LastIndex(addr, ":")
	if i < 0 {
		return "", 0, fmt.Errorf("addr %q is missing a port", addr)
	}
	var port int
	if _, err := fmt.Sscanf(addr[i+1:], "%d", &port); err != nil {
		return "", 0, fmt.Errorf("addr %q has an invalid port", addr)
	}
	return addr[:i], port, nil
}

// validatePath validates a file path
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	// Reject dangerous characters
	dangerousChars := []string{";", "&", "|", "$", "`", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(path, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}
