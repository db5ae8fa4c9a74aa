package health

import (
	"context"
	"sync"
	"time"
)

// Check probes one dependency; nil means healthy.
type Check func(ctx context.Context) error

// Result is the outcome of one check.
type Result struct {
	Name     string        `json:"name"`
	Healthy  bool          `json:"healthy"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report is the outcome of running all registered checks.
type Report struct {
	Healthy bool      `json:"healthy"`
	Checks  []Result  `json:"checks"`
	At      time.Time `json:"at"`
}

// Checker runs registered checks on demand.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]Check
	order  []string
}

// NewChecker creates an empty checker.
func NewChecker() *Checker {
	return &Checker{checks: make(map[string]Check)}
}

// Register adds a named check. Re-registering a name replaces the check.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.checks[name]; !exists {
		c.order = append(c.order, name)
	}
	c.checks[name] = check
}

// Run executes all checks in registration order and aggregates the
// results. The report is healthy only if every check passed.
func (c *Checker) Run(ctx context.Context) *Report {
	c.mu.RLock()
	names := make([]string, len(c.order))
	copy(names, c.order)
	checks := make(map[string]Check, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	report := &Report{Healthy: true, At: time.Now().UTC()}
	for _, name := range names {
		start := time.Now()
		err := checks[name](ctx)
		result := Result{
			Name:     name,
			Healthy:  err == nil,
			Duration: time.Since(start),
		}
		if err != nil {
			result.Error = err.Error()
			report.Healthy = false
		}
		report.Checks = append(report.Checks, result)
	}
	return report
}
