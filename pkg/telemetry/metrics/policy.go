package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PolicyMetrics tracks policy evaluation and store activity.
//
// Metrics:
//   - arbiter_policy_evaluations_total: evaluations by policy type, outcome, and cache hit
//   - arbiter_policy_evaluation_duration_seconds: evaluation latency
//   - arbiter_policy_mutations_total: store mutations by operation
//   - arbiter_policy_version: current policy store version
type PolicyMetrics struct {
	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	mutationsTotal     *prometheus.CounterVec
	policyVersion      prometheus.Gauge
}

// NewPolicyMetrics creates and registers policy metrics with the registry.
func NewPolicyMetrics(registry *prometheus.Registry) *PolicyMetrics {
	pm := &PolicyMetrics{
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "arbiter",
				Name:      "policy_evaluations_total",
				Help:      "Total number of policy evaluations",
			},
			[]string{"policy_type", "outcome", "cache"},
		),

		evaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "arbiter",
				Name:      "policy_evaluation_duration_seconds",
				Help:      "Duration of policy evaluation in seconds",
				// Evaluations are in-memory and should stay well under the
				// 100ms budget.
				Buckets: prometheus.ExponentialBuckets(0.000001, 2, 15),
			},
			[]string{"policy_type"},
		),

		mutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "arbiter",
				Name:      "policy_mutations_total",
				Help:      "Total number of policy store mutations",
			},
			[]string{"operation"},
		),

		policyVersion: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "arbiter",
				Name:      "policy_version",
				Help:      "Current policy store version",
			},
		),
	}

	registry.MustRegister(
		pm.evaluationsTotal,
		pm.evaluationDuration,
		pm.mutationsTotal,
		pm.policyVersion,
	)
	return pm
}

// ObserveEvaluation satisfies the engine's observer contract.
func (pm *PolicyMetrics) ObserveEvaluation(policyType, outcome string, cacheHit bool, duration time.Duration) {
	cache := "miss"
	if cacheHit {
		cache = "hit"
	}
	pm.evaluationsTotal.WithLabelValues(policyType, outcome, cache).Inc()
	pm.evaluationDuration.WithLabelValues(policyType).Observe(duration.Seconds())
}

// RecordMutation records one store mutation (create, update, delete,
// enable, disable, load, restore).
func (pm *PolicyMetrics) RecordMutation(operation string) {
	pm.mutationsTotal.WithLabelValues(operation).Inc()
}

// SetVersion publishes the current store version.
func (pm *PolicyMetrics) SetVersion(version uint64) {
	pm.policyVersion.Set(float64(version))
}
