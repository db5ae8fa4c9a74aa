package engine

import (
	"fmt"
	"time"
)

// Config contains configuration for the rule evaluation engine.
type Config struct {
	// EvaluationTimeout is the wall-clock budget for a single evaluation.
	// On expiry the engine fails safe per the policy type's default bias
	// rather than returning an error. Default: 100ms.
	EvaluationTimeout time.Duration

	// DefaultDeny lists policy types whose no-match default is deny.
	// Types absent from the map default to allow. The same flag decides
	// the timeout bias: default-deny types time out to deny.
	DefaultDeny map[string]bool

	// CacheEnabled turns on the decision cache. Disabled by default:
	// cached decisions are unsafe for policies conditioned on
	// time-varying context fields.
	CacheEnabled bool

	// CacheTTL bounds the lifetime of a cached decision. The cache key
	// includes the store version, so mutations invalidate regardless.
	// Default: 2s.
	CacheTTL time.Duration

	// Source tags decisions produced by this engine instance.
	// Default: policy.SourceStore.
	Source string
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *Config {
	return &Config{
		EvaluationTimeout: 100 * time.Millisecond,
		DefaultDeny:       map[string]bool{},
		CacheEnabled:      false,
		CacheTTL:          2 * time.Second,
		Source:            "store",
	}
}

// Validate validates the engine configuration.
func (c *Config) Validate() error {
	if c.EvaluationTimeout <= 0 {
		return fmt.Errorf("evaluation timeout must be positive")
	}
	if c.CacheEnabled && c.CacheTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive when the cache is enabled")
	}
	switch c.Source {
	case "store", "fallback":
	default:
		return fmt.Errorf("invalid decision source %q", c.Source)
	}
	return nil
}

// defaultDeny reports whether the given policy type defaults to deny.
func (c *Config) defaultDeny(policyType string) bool {
	return c.DefaultDeny[policyType]
}
