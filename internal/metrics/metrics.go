// Package metrics registers the prometheus collectors of the dispatch engine.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// DispatchMetrics records dispatch operation outcomes.
type DispatchMetrics struct {
	operations      *prometheus.CounterVec
	integrityAlerts prometheus.Counter
	realtimeDropped *prometheus.CounterVec
	subscribers     prometheus.Gauge
}

// NewDispatchMetrics registers the dispatch metrics on reg. A nil registerer
// yields a no-op recorder.
func NewDispatchMetrics(reg prometheus.Registerer) *DispatchMetrics {
	if reg == nil {
		return &DispatchMetrics{}
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatch",
		Name:      "operations_total",
		Help:      "Dispatch operations by name and outcome code.",
	}, []string{"operation", "outcome"})
	integrityAlerts := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dispatch",
		Name:      "integrity_alerts_total",
		Help:      "Requests found with more than one active assignment.",
	})
	realtimeDropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatch",
		Name:      "realtime_dropped_total",
		Help:      "Realtime events not delivered to a subscriber.",
	}, []string{"reason"})
	subscribers := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dispatch",
		Name:      "realtime_subscribers",
		Help:      "Open realtime subscriptions.",
	})
	reg.MustRegister(operations, integrityAlerts, realtimeDropped, subscribers)
	return &DispatchMetrics{
		operations:      operations,
		integrityAlerts: integrityAlerts,
		realtimeDropped: realtimeDropped,
		subscribers:     subscribers,
	}
}

// ObserveOperation counts an operation with its outcome code ("ok" on success).
func (m *DispatchMetrics) ObserveOperation(operation, outcome string) {
	if m == nil || m.operations == nil {
		return
	}
	if outcome == "" {
		outcome = "ok"
	}
	m.operations.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
}

// IncIntegrityAlert counts a detected invariant violation.
func (m *DispatchMetrics) IncIntegrityAlert() {
	if m == nil || m.integrityAlerts == nil {
		return
	}
	m.integrityAlerts.Inc()
}

// IncRealtimeDropped counts an undelivered realtime event.
func (m *DispatchMetrics) IncRealtimeDropped(reason string) {
	if m == nil || m.realtimeDropped == nil {
		return
	}
	m.realtimeDropped.WithLabelValues(normalizeLabel(reason)).Inc()
}

// AddSubscribers adjusts the open subscription gauge.
func (m *DispatchMetrics) AddSubscribers(delta float64) {
	if m == nil || m.subscribers == nil {
		return
	}
	m.subscribers.Add(delta)
}

func normalizeLabel(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "unknown"
	}
	return value
}
