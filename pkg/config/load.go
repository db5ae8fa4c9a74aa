package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file, applies defaults, and
// validates the result. Environment variables are not consulted; use
// LoadWithEnvOverrides for that.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// LoadWithEnvOverrides loads configuration from a YAML file and applies
// ARBITER_SECTION_FIELD environment variable overrides (for example
// ARBITER_SERVER_LISTEN_ADDRESS). Environment variables take precedence
// over file values.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadWithEnvOverrides(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}
	return cfg, nil
}

// Default returns the default configuration without reading any file.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return &cfg
}

func applyEnvOverrides(cfg *Config) {
	// Server overrides
	envString("ARBITER_SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	envDuration("ARBITER_SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("ARBITER_SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("ARBITER_SERVER_IDLE_TIMEOUT", &cfg.Server.IdleTimeout)
	envDuration("ARBITER_SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Policy overrides
	envString("ARBITER_POLICY_SOURCE_PATH", &cfg.Policy.SourcePath)
	envBool("ARBITER_POLICY_WATCH", &cfg.Policy.Watch)
	envDuration("ARBITER_POLICY_WATCH_DEBOUNCE", &cfg.Policy.WatchDebounce)
	envString("ARBITER_POLICY_DATABASE_PATH", &cfg.Policy.DatabasePath)

	// Engine overrides
	envDuration("ARBITER_ENGINE_EVALUATION_TIMEOUT", &cfg.Engine.EvaluationTimeout)
	envBool("ARBITER_ENGINE_CACHE_ENABLED", &cfg.Engine.CacheEnabled)
	envDuration("ARBITER_ENGINE_CACHE_TTL", &cfg.Engine.CacheTTL)
	if val := os.Getenv("ARBITER_ENGINE_DEFAULT_DENY_TYPES"); val != "" {
		cfg.Engine.DefaultDenyTypes = splitList(val)
	}

	// Trust overrides
	envFloat("ARBITER_TRUST_DECAY", &cfg.Trust.Decay)
	envInt("ARBITER_TRUST_HISTORY_LIMIT", &cfg.Trust.HistoryLimit)
	envFloat("ARBITER_TRUST_HIGH_THRESHOLD", &cfg.Trust.HighThreshold)
	envFloat("ARBITER_TRUST_MEDIUM_THRESHOLD", &cfg.Trust.MediumThreshold)

	// Events overrides
	envInt("ARBITER_EVENTS_BUFFER_CAPACITY", &cfg.Events.BufferCapacity)
	envBool("ARBITER_EVENTS_ARCHIVE_ENABLED", &cfg.Events.Archive.Enabled)
	envString("ARBITER_EVENTS_ARCHIVE_PATH", &cfg.Events.Archive.Path)
	envInt("ARBITER_EVENTS_ARCHIVE_RETENTION_DAYS", &cfg.Events.Archive.RetentionDays)
	envString("ARBITER_EVENTS_ARCHIVE_PRUNE_SCHEDULE", &cfg.Events.Archive.PruneSchedule)

	// Fallback overrides
	envString("ARBITER_FALLBACK_STORE_URL", &cfg.Fallback.StoreURL)
	envDuration("ARBITER_FALLBACK_HEARTBEAT_INTERVAL", &cfg.Fallback.HeartbeatInterval)
	envInt("ARBITER_FALLBACK_FAILURE_THRESHOLD", &cfg.Fallback.FailureThreshold)
	envDuration("ARBITER_FALLBACK_BACKOFF_BASE", &cfg.Fallback.BackoffBase)
	envFloat("ARBITER_FALLBACK_BACKOFF_FACTOR", &cfg.Fallback.BackoffFactor)
	envDuration("ARBITER_FALLBACK_BACKOFF_MAX", &cfg.Fallback.BackoffMax)
	envDuration("ARBITER_FALLBACK_SYNC_INTERVAL", &cfg.Fallback.SyncInterval)
	envString("ARBITER_FALLBACK_SPOOL_PATH", &cfg.Fallback.SpoolPath)

	// Telemetry overrides
	envString("ARBITER_TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("ARBITER_TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("ARBITER_TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envString("ARBITER_TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	envBool("ARBITER_TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("ARBITER_TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	envFloat("ARBITER_TELEMETRY_TRACING_SAMPLE_RATIO", &cfg.Telemetry.Tracing.SampleRatio)
}

func envString(name string, dst *string) {
	if val := os.Getenv(name); val != "" {
		*dst = val
	}
}

func envBool(name string, dst *bool) {
	if val := os.Getenv(name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envInt(name string, dst *int) {
	if val := os.Getenv(name); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envFloat(name string, dst *float64) {
	if val := os.Getenv(name); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if val := os.Getenv(name); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
