package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// TrustMetrics tracks trust score movement.
//
// Metrics:
//   - arbiter_trust_updates_total: score updates by band
//   - arbiter_trust_score: distribution of post-update scores
type TrustMetrics struct {
	updatesTotal *prometheus.CounterVec
	scores       prometheus.Histogram
}

// NewTrustMetrics creates and registers trust metrics with the registry.
func NewTrustMetrics(registry *prometheus.Registry) *TrustMetrics {
	tm := &TrustMetrics{
		updatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "arbiter",
				Name:      "trust_updates_total",
				Help:      "Total number of trust score updates",
			},
			[]string{"band"},
		),

		scores: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "arbiter",
				Name:      "trust_score",
				Help:      "Distribution of trust scores after update",
				Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
			},
		),
	}

	registry.MustRegister(tm.updatesTotal, tm.scores)
	return tm
}

// RecordUpdate records one score update and its resulting band.
func (tm *TrustMetrics) RecordUpdate(band string, score float64) {
	tm.updatesTotal.WithLabelValues(band).Inc()
	tm.scores.Observe(score)
}
