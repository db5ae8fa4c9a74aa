package config

import (
	"fmt"
	"strings"
)

// Validate checks the configuration for inconsistencies. It returns all
// problems found, joined into one error, so operators can fix a config
// file in one pass.
func Validate(cfg *Config) error {
	var problems []string

	if cfg.Server.ListenAddress == "" {
		problems = append(problems, "server.listen_address is required")
	}
	if cfg.Server.ReadTimeout <= 0 {
		problems = append(problems, "server.read_timeout must be positive")
	}
	if cfg.Server.WriteTimeout <= 0 {
		problems = append(problems, "server.write_timeout must be positive")
	}

	if cfg.Engine.EvaluationTimeout <= 0 {
		problems = append(problems, "engine.evaluation_timeout must be positive")
	}
	if cfg.Engine.CacheEnabled && cfg.Engine.CacheTTL <= 0 {
		problems = append(problems, "engine.cache_ttl must be positive when the cache is enabled")
	}

	if cfg.Trust.Decay <= 0 || cfg.Trust.Decay >= 1 {
		problems = append(problems, "trust.decay must be in (0, 1)")
	}
	if cfg.Trust.HistoryLimit < 1 {
		problems = append(problems, "trust.history_limit must be at least 1")
	}
	if cfg.Trust.HighThreshold <= cfg.Trust.MediumThreshold {
		problems = append(problems, "trust.high_threshold must exceed trust.medium_threshold")
	}
	for name, w := range cfg.Trust.Weights {
		if w < 0 {
			problems = append(problems, fmt.Sprintf("trust.weights[%s] must be non-negative", name))
		}
	}

	if cfg.Events.BufferCapacity < 1 {
		problems = append(problems, "events.buffer_capacity must be at least 1")
	}
	if cfg.Events.Archive.Enabled && cfg.Events.Archive.Path == "" {
		problems = append(problems, "events.archive.path is required when the archive is enabled")
	}

	switch cfg.Telemetry.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("telemetry.logging.level %q is not one of debug, info, warn, error", cfg.Telemetry.Logging.Level))
	}
	switch cfg.Telemetry.Logging.Format {
	case "json", "text":
	default:
		problems = append(problems, fmt.Sprintf("telemetry.logging.format %q is not one of json, text", cfg.Telemetry.Logging.Format))
	}
	if cfg.Telemetry.Tracing.Enabled && cfg.Telemetry.Tracing.Endpoint == "" {
		problems = append(problems, "telemetry.tracing.endpoint is required when tracing is enabled")
	}
	if r := cfg.Telemetry.Tracing.SampleRatio; r < 0 || r > 1 {
		problems = append(problems, "telemetry.tracing.sample_ratio must be in [0, 1]")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}
