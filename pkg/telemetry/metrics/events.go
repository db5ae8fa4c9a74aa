package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"fedlearn-hq/arbiter/pkg/events"
)

// EventMetrics tracks event buffer pressure.
//
// Metrics:
//   - arbiter_events_total: events appended since start
//   - arbiter_events_buffered: events currently held in the ring
//   - arbiter_events_evicted_total: events displaced by FIFO eviction
type EventMetrics struct {
	evictedTotal prometheus.Counter
}

// NewEventMetrics creates and registers buffer metrics. The appended and
// buffered series read the buffer directly so they never drift from it.
func NewEventMetrics(registry *prometheus.Registry, buffer *events.Buffer) *EventMetrics {
	em := &EventMetrics{
		evictedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "arbiter",
				Name:      "events_evicted_total",
				Help:      "Total number of events evicted from the buffer",
			},
		),
	}

	registry.MustRegister(
		em.evictedTotal,
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: "arbiter",
				Name:      "events_total",
				Help:      "Total number of events appended to the buffer",
			},
			func() float64 { return float64(buffer.Total()) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "arbiter",
				Name:      "events_buffered",
				Help:      "Number of events currently held in the buffer",
			},
			func() float64 { return float64(buffer.Len()) },
		),
	)
	return em
}

// RecordEviction counts one FIFO eviction.
func (em *EventMetrics) RecordEviction() {
	em.evictedTotal.Inc()
}
