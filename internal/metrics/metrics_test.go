package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestDispatchMetrics_ObserveOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewDispatchMetrics(reg)

	m.ObserveOperation("assign", "")
	m.ObserveOperation("assign", "ALREADY_ASSIGNED")
	m.ObserveOperation("Assign", "already_assigned")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("assign", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("assign", "already_assigned")))
}

func TestDispatchMetrics_NilSafe(t *testing.T) {
	var m *DispatchMetrics
	m.ObserveOperation("assign", "ok")
	m.IncIntegrityAlert()
	m.IncRealtimeDropped("lagged")
	m.AddSubscribers(1)

	empty := NewDispatchMetrics(nil)
	empty.IncIntegrityAlert()
}
