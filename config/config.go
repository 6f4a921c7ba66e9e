// File: config/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/protocol"
	"github.com/momentics/hioload-pipeline/server"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. HIOLOAD_PIPELINE_MAX_DEPTH.
const EnvPrefix = "HIOLOAD"

// Config is the complete file/environment configuration.
//
// Precedence, highest first:
//  1. CLI flags (applied by the caller)
//  2. Environment variables (HIOLOAD_*)
//  3. Configuration file (YAML)
//  4. Defaults
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Listener   ListenerConfig   `mapstructure:"listener" yaml:"listener"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline" yaml:"pipeline"`
	Connection ConnectionConfig `mapstructure:"connection" yaml:"connection"`
	Reactor    ReactorConfig    `mapstructure:"reactor" yaml:"reactor"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level accepts DEBUG, INFO, WARN, ERROR in either case; normalized to uppercase
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format is text or json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output is stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ListenerConfig describes the listening socket and accept policy.
type ListenerConfig struct {
	Address        string        `mapstructure:"address" yaml:"address" validate:"omitempty,ip"`
	Port           int           `mapstructure:"port" yaml:"port" validate:"gte=0,lte=65535"`
	Backlog        int           `mapstructure:"backlog" yaml:"backlog" validate:"gt=0"`
	ReusePort      bool          `mapstructure:"reuse_port" yaml:"reuse_port"`
	NoDelay        bool          `mapstructure:"no_delay" yaml:"no_delay"`
	KeepAlive      bool          `mapstructure:"keepalive" yaml:"keepalive"`
	KeepAliveIdle  time.Duration `mapstructure:"keepalive_idle" yaml:"keepalive_idle" validate:"gte=0"`
	AcceptBatch    int           `mapstructure:"accept_batch" yaml:"accept_batch" validate:"gt=0"`
	AcceptRate     uint          `mapstructure:"accept_rate" yaml:"accept_rate"`
	AcceptBurst    uint          `mapstructure:"accept_burst" yaml:"accept_burst"`
	MaxConnections int           `mapstructure:"max_connections" yaml:"max_connections" validate:"gte=0"`
}

// PipelineConfig sizes the reply batches and per-connection buffers.
type PipelineConfig struct {
	// MaxDepth is the deepest pipeline still answered with 200 replies
	MaxDepth        int    `mapstructure:"max_depth" yaml:"max_depth" validate:"gt=0"`
	ReadBufferSize  int    `mapstructure:"read_buffer_size" yaml:"read_buffer_size" validate:"gte=64"`
	MaxPendingBytes int    `mapstructure:"max_pending_bytes" yaml:"max_pending_bytes" validate:"gt=0"`
	ServerName      string `mapstructure:"server_name" yaml:"server_name" validate:"required,printascii"`

	// Framing is "delimiter" (count CRLFCRLF) or "per_read" (one request per read)
	Framing string `mapstructure:"framing" yaml:"framing" validate:"required,oneof=delimiter per_read"`
}

// ConnectionConfig controls idle connection reaping.
type ConnectionConfig struct {
	// IdleTimeout of 0 keeps idle connections forever
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout" validate:"gte=0"`

	// LingerTimeout bounds how long a rejected connection drains input before close
	LingerTimeout time.Duration `mapstructure:"linger_timeout" yaml:"linger_timeout" validate:"gte=0"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval" validate:"gt=0"`
}

// ReactorConfig tunes the event loop.
type ReactorConfig struct {
	MaxEvents int `mapstructure:"max_events" yaml:"max_events" validate:"gt=0,lte=65536"`

	// CPU pins the reactor thread to one logical CPU; -1 leaves it unpinned
	CPU int `mapstructure:"cpu" yaml:"cpu" validate:"gte=-1,lt=1024"`
}

// MetricsConfig controls the Prometheus and debug endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen" validate:"omitempty,hostname_port"`
}

// Load reads configuration from file, environment and defaults, then
// validates it. An empty path searches the default location; a missing
// file there is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v, configPath); err != nil {
		return nil, api.NewError(api.ErrCodeConfiguration, "read config", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, api.NewError(api.ErrCodeConfiguration, "unmarshal config", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, api.NewError(api.ErrCodeConfiguration, "configuration validation failed", err)
	}
	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	// HIOLOAD_PIPELINE_MAX_DEPTH=64 overrides pipeline.max_depth
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about.
	registerDefaults(v, GetDefaultConfig())

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper, configPath string) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "hioload-pipeline")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "hioload-pipeline")
}

// GetDefaultConfigPath returns the file Load reads when no path is given.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ServerConfig maps the file configuration onto the runtime server.Config.
func (c *Config) ServerConfig() *server.Config {
	return &server.Config{
		Listener: server.ListenerConfig{
			Address:       c.Listener.Address,
			Port:          c.Listener.Port,
			Backlog:       c.Listener.Backlog,
			ReusePort:     c.Listener.ReusePort,
			NoDelay:       c.Listener.NoDelay,
			KeepAlive:     c.Listener.KeepAlive,
			KeepAliveIdle: c.Listener.KeepAliveIdle,
			AcceptBatch:   c.Listener.AcceptBatch,
		},
		MaxDepth:        c.Pipeline.MaxDepth,
		ReadBufferSize:  c.Pipeline.ReadBufferSize,
		MaxPendingBytes: c.Pipeline.MaxPendingBytes,
		ServerName:      c.Pipeline.ServerName,
		Framing:         protocol.Framing(c.Pipeline.Framing),
		IdleTimeout:     c.Connection.IdleTimeout,
		LingerTimeout:   c.Connection.LingerTimeout,
		SweepInterval:   c.Connection.SweepInterval,
		MaxEvents:       c.Reactor.MaxEvents,
		PinLoop:         c.Reactor.CPU >= 0,
		CPU:             c.Reactor.CPU,
		MaxConnections:  c.Listener.MaxConnections,
		AcceptRate:      c.Listener.AcceptRate,
		AcceptBurst:     c.Listener.AcceptBurst,
	}
}
