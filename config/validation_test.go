package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidate_DefaultConfig(t *testing.T) {
	if err := Validate(GetDefaultConfig()); err != nil {
		t.Errorf("Expected default config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "TRACE"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_FieldRules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero max depth", func(c *Config) { c.Pipeline.MaxDepth = 0 }},
		{"tiny read buffer", func(c *Config) { c.Pipeline.ReadBufferSize = 16 }},
		{"port out of range", func(c *Config) { c.Listener.Port = 70000 }},
		{"hostname address", func(c *Config) { c.Listener.Address = "localhost" }},
		{"negative idle timeout", func(c *Config) { c.Connection.IdleTimeout = -time.Second }},
		{"empty server name", func(c *Config) { c.Pipeline.ServerName = "" }},
		{"bad metrics address", func(c *Config) { c.Metrics.Listen = "nowhere" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Errorf("Expected validation error")
			}
		})
	}
}

func TestValidate_CustomRules(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Connection.IdleTimeout = time.Second
	cfg.Connection.SweepInterval = 5 * time.Second
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "sweep_interval") {
		t.Errorf("Expected sweep_interval error, got %v", err)
	}

	cfg = GetDefaultConfig()
	cfg.Listener.AcceptBurst = 10
	if err := Validate(cfg); err == nil {
		t.Error("Expected error for accept_burst without accept_rate")
	}

	cfg = GetDefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Listen = ""
	if err := Validate(cfg); err == nil {
		t.Error("Expected error for metrics without listen address")
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging:  LoggingConfig{Level: "warn"},
		Pipeline: PipelineConfig{MaxDepth: 7, Framing: "PER_READ"},
	}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected WARN, got %q", cfg.Logging.Level)
	}
	if cfg.Pipeline.MaxDepth != 7 {
		t.Errorf("Expected max_depth 7, got %d", cfg.Pipeline.MaxDepth)
	}
	if cfg.Pipeline.Framing != "per_read" {
		t.Errorf("Expected normalized framing, got %q", cfg.Pipeline.Framing)
	}
	if cfg.Reactor.MaxEvents != 128 {
		t.Errorf("Expected default max_events 128, got %d", cfg.Reactor.MaxEvents)
	}
}
