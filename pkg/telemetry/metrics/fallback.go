package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// FallbackMetrics tracks enforcer connectivity.
//
// Metrics:
//   - arbiter_fallback_state: 1 for the current state's label, 0 otherwise
//   - arbiter_fallback_transitions_total: state transitions by from/to
type FallbackMetrics struct {
	state       *prometheus.GaugeVec
	transitions *prometheus.CounterVec
}

// NewFallbackMetrics creates and registers fallback metrics.
func NewFallbackMetrics(registry *prometheus.Registry) *FallbackMetrics {
	fm := &FallbackMetrics{
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "arbiter",
				Name:      "fallback_state",
				Help:      "Current fallback enforcer state (1 for active state)",
			},
			[]string{"state"},
		),

		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "arbiter",
				Name:      "fallback_transitions_total",
				Help:      "Total number of fallback state transitions",
			},
			[]string{"from", "to"},
		),
	}

	registry.MustRegister(fm.state, fm.transitions)
	return fm
}

// RecordTransition records one state transition and flips the state gauge.
func (fm *FallbackMetrics) RecordTransition(from, to string) {
	fm.transitions.WithLabelValues(from, to).Inc()
	fm.state.WithLabelValues(from).Set(0)
	fm.state.WithLabelValues(to).Set(1)
}

// SetState initializes the state gauge at startup.
func (fm *FallbackMetrics) SetState(state string) {
	fm.state.WithLabelValues(state).Set(1)
}
