package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	emitted *prometheus.CounterVec
	dropped *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking ledger notifications.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bond",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of ledger notifications journaled, segmented by type.",
			}, []string{"type"}),
			dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bond",
				Subsystem: "events",
				Name:      "dropped_total",
				Help:      "Count of ledger notifications that could not be journaled.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.emitted, eventRegistry.dropped)
	})
	return eventRegistry
}

// RecordEmitted increments the emitted counter for the event type.
func (m *eventMetrics) RecordEmitted(eventType string) {
	if m == nil {
		return
	}
	m.emitted.WithLabelValues(normalizeType(eventType)).Inc()
}

// RecordDropped increments the dropped counter for the event type.
func (m *eventMetrics) RecordDropped(eventType string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(normalizeType(eventType)).Inc()
}

func normalizeType(eventType string) string {
	normalized := strings.TrimSpace(strings.ToLower(eventType))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
