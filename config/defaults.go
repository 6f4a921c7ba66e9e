// File: config/defaults.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package config

import (
	"strings"

	"github.com/momentics/hioload-pipeline/affinity"
	"github.com/momentics/hioload-pipeline/server"
	"github.com/spf13/viper"
)

// DefaultMetricsListen is the metrics endpoint address when enabled without one.
const DefaultMetricsListen = "127.0.0.1:9090"

// ApplyDefaults fills zero-valued fields. Booleans are left alone since a
// zero value cannot be told apart from an explicit false; Load seeds them
// through viper instead.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyListenerDefaults(&cfg.Listener)
	applyPipelineDefaults(&cfg.Pipeline)
	applyConnectionDefaults(&cfg.Connection)
	if cfg.Reactor.MaxEvents == 0 {
		cfg.Reactor.MaxEvents = server.DefaultConfig().MaxEvents
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = DefaultMetricsListen
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyListenerDefaults(cfg *ListenerConfig) {
	d := server.DefaultListenerConfig()
	if cfg.Address == "" {
		cfg.Address = d.Address
	}
	if cfg.Backlog == 0 {
		cfg.Backlog = d.Backlog
	}
	if cfg.AcceptBatch == 0 {
		cfg.AcceptBatch = d.AcceptBatch
	}
}

func applyPipelineDefaults(cfg *PipelineConfig) {
	d := server.DefaultConfig()
	if cfg.MaxDepth == 0 {
		cfg.MaxDepth = d.MaxDepth
	}
	if cfg.ReadBufferSize == 0 {
		cfg.ReadBufferSize = d.ReadBufferSize
	}
	if cfg.MaxPendingBytes == 0 {
		cfg.MaxPendingBytes = d.MaxPendingBytes
	}
	if cfg.ServerName == "" {
		cfg.ServerName = d.ServerName
	}
	if cfg.Framing == "" {
		cfg.Framing = string(d.Framing)
	}
	cfg.Framing = strings.ToLower(cfg.Framing)
}

func applyConnectionDefaults(cfg *ConnectionConfig) {
	d := server.DefaultConfig()
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = d.SweepInterval
	}
}

// GetDefaultConfig returns a fully populated configuration.
func GetDefaultConfig() *Config {
	d := server.DefaultConfig()
	cfg := &Config{
		Listener: ListenerConfig{
			Port:          d.Listener.Port,
			ReusePort:     d.Listener.ReusePort,
			NoDelay:       d.Listener.NoDelay,
			KeepAlive:     d.Listener.KeepAlive,
			KeepAliveIdle: d.Listener.KeepAliveIdle,
		},
		Connection: ConnectionConfig{
			IdleTimeout:   d.IdleTimeout,
			LingerTimeout: d.LingerTimeout,
		},
		Reactor: ReactorConfig{
			CPU: affinity.NoCPU,
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

// registerDefaults teaches viper every key so environment overrides apply
// even without a config file.
func registerDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)

	v.SetDefault("listener.address", d.Listener.Address)
	v.SetDefault("listener.port", d.Listener.Port)
	v.SetDefault("listener.backlog", d.Listener.Backlog)
	v.SetDefault("listener.reuse_port", d.Listener.ReusePort)
	v.SetDefault("listener.no_delay", d.Listener.NoDelay)
	v.SetDefault("listener.keepalive", d.Listener.KeepAlive)
	v.SetDefault("listener.keepalive_idle", d.Listener.KeepAliveIdle)
	v.SetDefault("listener.accept_batch", d.Listener.AcceptBatch)
	v.SetDefault("listener.accept_rate", d.Listener.AcceptRate)
	v.SetDefault("listener.accept_burst", d.Listener.AcceptBurst)
	v.SetDefault("listener.max_connections", d.Listener.MaxConnections)

	v.SetDefault("pipeline.max_depth", d.Pipeline.MaxDepth)
	v.SetDefault("pipeline.read_buffer_size", d.Pipeline.ReadBufferSize)
	v.SetDefault("pipeline.max_pending_bytes", d.Pipeline.MaxPendingBytes)
	v.SetDefault("pipeline.server_name", d.Pipeline.ServerName)
	v.SetDefault("pipeline.framing", d.Pipeline.Framing)

	v.SetDefault("connection.idle_timeout", d.Connection.IdleTimeout)
	v.SetDefault("connection.linger_timeout", d.Connection.LingerTimeout)
	v.SetDefault("connection.sweep_interval", d.Connection.SweepInterval)

	v.SetDefault("reactor.max_events", d.Reactor.MaxEvents)
	v.SetDefault("reactor.cpu", d.Reactor.CPU)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.listen", d.Metrics.Listen)
}
