// File: server/types.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/protocol"
	"github.com/momentics/hioload-pipeline/reply"
)

var ErrAlreadyRunning = errors.New("server already running")

// ListenerConfig describes the listening socket. Immutable once Listen returns.
type ListenerConfig struct {
	Address       string        // bind address, e.g. "127.0.0.1"
	Port          int           // 0 lets the kernel pick
	Backlog       int           // listen(2) backlog
	ReusePort     bool          // SO_REUSEPORT in addition to SO_REUSEADDR
	NoDelay       bool          // TCP_NODELAY on accepted sockets
	KeepAlive     bool          // SO_KEEPALIVE on accepted sockets
	KeepAliveIdle time.Duration // TCP_KEEPIDLE, 0 keeps the kernel default
	AcceptBatch   int           // accepts per readiness event
}

// DefaultListenerConfig mirrors the reference benchmark: 127.0.0.1:3000, backlog 1024.
func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		Address:     "127.0.0.1",
		Port:        3000,
		Backlog:     1024,
		ReusePort:   true,
		NoDelay:     true,
		KeepAlive:   true,
		AcceptBatch: 1,
	}
}

// Config holds all server-side configuration parameters.
type Config struct {
	Listener        ListenerConfig
	MaxDepth        int              // P_max, deepest pipeline answered with 200s
	ReadBufferSize  int              // per-connection read buffer
	MaxPendingBytes int              // unsent reply bytes tolerated before dropping a slow reader
	ServerName      string           // Server header value
	Framing         protocol.Framing // request boundary detection
	IdleTimeout     time.Duration    // 0 disables the idle sweep
	LingerTimeout   time.Duration    // how long a rejected connection drains input before close
	SweepInterval   time.Duration    // how often idle and draining connections are checked
	MaxEvents       int              // readiness events per wait
	PinLoop         bool             // bind the reactor thread to CPU
	CPU             int              // logical CPU used when PinLoop is set
	MaxConnections  int              // 0 = unlimited
	AcceptRate      uint             // accepted connections per second, 0 = unlimited
	AcceptBurst     uint
}

// DefaultConfig returns the reference values.
func DefaultConfig() *Config {
	return &Config{
		Listener:        DefaultListenerConfig(),
		MaxDepth:        1024,
		ReadBufferSize:  64 * 1024,
		MaxPendingBytes: 16 << 20,
		ServerName:      reply.DefaultServerName,
		Framing:         protocol.FramingDelimiter,
		IdleTimeout:     30 * time.Second,
		LingerTimeout:   2 * time.Second,
		SweepInterval:   time.Second,
		MaxEvents:       128,
	}
}

func (c *Config) validate() error {
	switch {
	case c.MaxDepth <= 0:
		return fmt.Errorf("max depth %d: %w", c.MaxDepth, api.ErrInvalidArgument)
	case c.ReadBufferSize <= 0:
		return fmt.Errorf("read buffer size %d: %w", c.ReadBufferSize, api.ErrInvalidArgument)
	case c.Listener.Port < 0 || c.Listener.Port > 65535:
		return fmt.Errorf("port %d: %w", c.Listener.Port, api.ErrInvalidArgument)
	case c.IdleTimeout < 0:
		return fmt.Errorf("idle timeout %s: %w", c.IdleTimeout, api.ErrInvalidArgument)
	case c.LingerTimeout < 0:
		return fmt.Errorf("linger timeout %s: %w", c.LingerTimeout, api.ErrInvalidArgument)
	case c.PinLoop && c.CPU < 0:
		return fmt.Errorf("cpu %d: %w", c.CPU, api.ErrInvalidArgument)
	}
	if _, err := protocol.ParseFraming(string(c.Framing)); err != nil {
		return err
	}
	return nil
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Listener.Backlog <= 0 {
		c.Listener.Backlog = d.Listener.Backlog
	}
	if c.Listener.AcceptBatch <= 0 {
		c.Listener.AcceptBatch = 1
	}
	if c.MaxPendingBytes <= 0 {
		c.MaxPendingBytes = d.MaxPendingBytes
	}
	if c.ServerName == "" {
		c.ServerName = d.ServerName
	}
	if c.Framing == "" {
		c.Framing = d.Framing
	}
	if c.LingerTimeout == 0 {
		c.LingerTimeout = d.LingerTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.IdleTimeout > 0 && c.SweepInterval > c.IdleTimeout {
		c.SweepInterval = c.IdleTimeout
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = d.MaxEvents
	}
}
