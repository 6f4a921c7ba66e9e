package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/protocol"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_MinimalFileGetsDefaults(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: "debug"
pipeline:
  max_depth: 64
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected normalized level DEBUG, got %q", cfg.Logging.Level)
	}
	if cfg.Pipeline.MaxDepth != 64 {
		t.Errorf("Expected max_depth 64, got %d", cfg.Pipeline.MaxDepth)
	}
	if cfg.Listener.Port != 3000 || cfg.Listener.Address != "127.0.0.1" {
		t.Errorf("Expected default listener 127.0.0.1:3000, got %s:%d", cfg.Listener.Address, cfg.Listener.Port)
	}
	if !cfg.Listener.ReusePort || !cfg.Listener.NoDelay {
		t.Error("Expected boolean socket options to default to true")
	}
	if cfg.Pipeline.ServerName != "j" {
		t.Errorf("Expected server name j, got %q", cfg.Pipeline.ServerName)
	}
	if cfg.Connection.IdleTimeout != 30*time.Second {
		t.Errorf("Expected idle_timeout 30s, got %v", cfg.Connection.IdleTimeout)
	}
}

func TestLoad_ExplicitFalseIsKept(t *testing.T) {
	path := writeConfig(t, `
listener:
  reuse_port: false
connection:
  idle_timeout: 0s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Listener.ReusePort {
		t.Error("Expected reuse_port false to survive defaults")
	}
	if cfg.Connection.IdleTimeout != 0 {
		t.Errorf("Expected idle timeout disabled, got %v", cfg.Connection.IdleTimeout)
	}
}

func TestLoad_PortZeroIsKept(t *testing.T) {
	path := writeConfig(t, `
listener:
  port: 0
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Listener.Port != 0 {
		t.Errorf("Expected port 0 for a kernel-assigned port, got %d", cfg.Listener.Port)
	}

	t.Setenv("HIOLOAD_LISTENER_PORT", "0")
	cfg, err = Load(writeConfig(t, "pipeline:\n  max_depth: 64\n"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Listener.Port != 0 {
		t.Errorf("Expected env port 0 to survive defaults, got %d", cfg.Listener.Port)
	}
	if cfg.ServerConfig().Listener.Port != 0 {
		t.Errorf("Expected server port 0, got %d", cfg.ServerConfig().Listener.Port)
	}
}

func TestLoad_LingerTimeoutDefault(t *testing.T) {
	cfg, err := Load(writeConfig(t, "pipeline:\n  max_depth: 64\n"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Connection.LingerTimeout != 2*time.Second {
		t.Errorf("Expected linger_timeout 2s, got %v", cfg.Connection.LingerTimeout)
	}
	if sc := cfg.ServerConfig(); sc.LingerTimeout != 2*time.Second {
		t.Errorf("Expected server linger timeout 2s, got %v", sc.LingerTimeout)
	}
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
pipeline:
  max_depth: 64
`)
	t.Setenv("HIOLOAD_PIPELINE_MAX_DEPTH", "8")
	t.Setenv("HIOLOAD_CONNECTION_IDLE_TIMEOUT", "2m")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Pipeline.MaxDepth != 8 {
		t.Errorf("Expected env max_depth 8, got %d", cfg.Pipeline.MaxDepth)
	}
	if cfg.Connection.IdleTimeout != 2*time.Minute {
		t.Errorf("Expected env idle_timeout 2m, got %v", cfg.Connection.IdleTimeout)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Expected defaults without a config file, got: %v", err)
	}
	if cfg.Pipeline.MaxDepth != 1024 {
		t.Errorf("Expected default max_depth 1024, got %d", cfg.Pipeline.MaxDepth)
	}
}

func TestLoad_MissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("Expected error for missing explicit config file")
	}
	if !api.IsConfiguration(err) {
		t.Errorf("Expected configuration error, got %v", err)
	}
}

func TestLoad_InvalidValueFails(t *testing.T) {
	path := writeConfig(t, `
pipeline:
  framing: "chunked"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Expected validation error for unknown framing")
	}
	if !strings.Contains(err.Error(), "Framing") {
		t.Errorf("Expected framing in error, got: %v", err)
	}
}

func TestServerConfigMapping(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Listener.Port = 8080
	cfg.Listener.MaxConnections = 100
	cfg.Pipeline.MaxDepth = 16
	cfg.Pipeline.Framing = "per_read"
	cfg.Connection.IdleTimeout = time.Minute

	sc := cfg.ServerConfig()
	if sc.Listener.Port != 8080 || sc.MaxConnections != 100 {
		t.Errorf("Listener settings not mapped: %+v", sc.Listener)
	}
	if sc.MaxDepth != 16 || sc.Framing != protocol.FramingPerRead {
		t.Errorf("Pipeline settings not mapped: depth=%d framing=%q", sc.MaxDepth, sc.Framing)
	}
	if sc.IdleTimeout != time.Minute || sc.SweepInterval != time.Second {
		t.Errorf("Connection settings not mapped: idle=%v sweep=%v", sc.IdleTimeout, sc.SweepInterval)
	}
}
