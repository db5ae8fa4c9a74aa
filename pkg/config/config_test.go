package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Fatalf("default configuration invalid: %v", err)
	}
	if cfg.Server.ListenAddress != ":8080" {
		t.Errorf("ListenAddress = %q, want :8080", cfg.Server.ListenAddress)
	}
	if cfg.Engine.EvaluationTimeout != 100*time.Millisecond {
		t.Errorf("EvaluationTimeout = %v, want 100ms", cfg.Engine.EvaluationTimeout)
	}
	if cfg.Engine.CacheEnabled {
		t.Error("decision cache enabled by default")
	}
	if cfg.Trust.Decay != 0.95 {
		t.Errorf("Trust.Decay = %v, want 0.95", cfg.Trust.Decay)
	}
	if cfg.Events.BufferCapacity != 1000 {
		t.Errorf("BufferCapacity = %d, want 1000", cfg.Events.BufferCapacity)
	}
	if cfg.Fallback.FailureThreshold != 3 || cfg.Fallback.BackoffMax != 60*time.Second {
		t.Errorf("fallback defaults = %d/%v, want 3/60s",
			cfg.Fallback.FailureThreshold, cfg.Fallback.BackoffMax)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_address: ":9090"
engine:
  evaluation_timeout: 250ms
  default_deny_types:
    - network_security
trust:
  decay: 0.9
telemetry:
  logging:
    level: debug
    format: text
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.ListenAddress != ":9090" {
		t.Errorf("ListenAddress = %q, want file value", cfg.Server.ListenAddress)
	}
	if cfg.Engine.EvaluationTimeout != 250*time.Millisecond {
		t.Errorf("EvaluationTimeout = %v, want 250ms", cfg.Engine.EvaluationTimeout)
	}
	if len(cfg.Engine.DefaultDenyTypes) != 1 || cfg.Engine.DefaultDenyTypes[0] != "network_security" {
		t.Errorf("DefaultDenyTypes = %v", cfg.Engine.DefaultDenyTypes)
	}
	if cfg.Trust.Decay != 0.9 {
		t.Errorf("Trust.Decay = %v, want 0.9", cfg.Trust.Decay)
	}
	// Unset fields still get defaults.
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("ReadTimeout = %v, want default 30s", cfg.Server.ReadTimeout)
	}
	if cfg.Telemetry.Logging.Level != "debug" || cfg.Telemetry.Logging.Format != "text" {
		t.Errorf("logging = %q/%q, want debug/text",
			cfg.Telemetry.Logging.Level, cfg.Telemetry.Logging.Format)
	}
}

func TestLoadRejectsMissingFileAndBadYAML(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing file accepted")
	}

	path := writeConfig(t, "server: [not a mapping")
	if _, err := Load(path); err == nil {
		t.Error("malformed YAML accepted")
	}
}

func TestEnvOverridesTakePrecedence(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_address: ":9090"
`)

	t.Setenv("ARBITER_SERVER_LISTEN_ADDRESS", ":7070")
	t.Setenv("ARBITER_ENGINE_CACHE_ENABLED", "true")
	t.Setenv("ARBITER_ENGINE_CACHE_TTL", "5s")
	t.Setenv("ARBITER_ENGINE_DEFAULT_DENY_TYPES", "network_security, data_privacy")
	t.Setenv("ARBITER_TRUST_DECAY", "0.85")
	t.Setenv("ARBITER_FALLBACK_HEARTBEAT_INTERVAL", "30s")

	cfg, err := LoadWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("LoadWithEnvOverrides() error = %v", err)
	}
	if cfg.Server.ListenAddress != ":7070" {
		t.Errorf("ListenAddress = %q, env override lost", cfg.Server.ListenAddress)
	}
	if !cfg.Engine.CacheEnabled || cfg.Engine.CacheTTL != 5*time.Second {
		t.Errorf("cache = %v/%v, want enabled with 5s TTL",
			cfg.Engine.CacheEnabled, cfg.Engine.CacheTTL)
	}
	want := []string{"network_security", "data_privacy"}
	if len(cfg.Engine.DefaultDenyTypes) != 2 ||
		cfg.Engine.DefaultDenyTypes[0] != want[0] ||
		cfg.Engine.DefaultDenyTypes[1] != want[1] {
		t.Errorf("DefaultDenyTypes = %v, want %v", cfg.Engine.DefaultDenyTypes, want)
	}
	if cfg.Trust.Decay != 0.85 {
		t.Errorf("Trust.Decay = %v, want 0.85", cfg.Trust.Decay)
	}
	if cfg.Fallback.HeartbeatInterval != 30*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 30s", cfg.Fallback.HeartbeatInterval)
	}
}

func TestValidateAggregatesProblems(t *testing.T) {
	cfg := Default()
	cfg.Server.ListenAddress = ""
	cfg.Trust.Decay = 1.5
	cfg.Telemetry.Logging.Level = "loud"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate() = nil, want aggregated error")
	}
	msg := err.Error()
	for _, fragment := range []string{"server.listen_address", "trust.decay", "telemetry.logging.level"} {
		if !strings.Contains(msg, fragment) {
			t.Errorf("error %q does not mention %q", msg, fragment)
		}
	}
}

func TestValidateConditionalRequirements(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"cache on without ttl", func(c *Config) { c.Engine.CacheEnabled = true; c.Engine.CacheTTL = 0 }},
		{"archive on without path", func(c *Config) { c.Events.Archive.Enabled = true; c.Events.Archive.Path = "" }},
		{"tracing on without endpoint", func(c *Config) { c.Telemetry.Tracing.Enabled = true; c.Telemetry.Tracing.Endpoint = "" }},
		{"thresholds inverted", func(c *Config) { c.Trust.HighThreshold = 0.4 }},
		{"negative weight", func(c *Config) { c.Trust.Weights = map[string]float64{"f": -1} }},
		{"sample ratio out of range", func(c *Config) { c.Telemetry.Tracing.SampleRatio = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}
