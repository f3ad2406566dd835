package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSaga_Counts(t *testing.T) {
	m := NewSaga(prometheus.NewRegistry())

	m.Transition("BillingPending")
	m.Transition("BillingPending")
	m.Dispatch("cms", "execute")
	m.Result("cms", "stale")
	m.Retry("wms")
	m.SetInFlight(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Transitions.WithLabelValues("BillingPending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Dispatches.WithLabelValues("cms", "execute")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Results.WithLabelValues("cms", "stale")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Retries.WithLabelValues("wms")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.InFlight))
}

func TestNilReceiversAreNoops(t *testing.T) {
	var s *Saga
	var a *Adapter
	var n *Notifier
	var h *ServerMetrics

	assert.NotPanics(t, func() {
		s.Transition("x")
		s.Dispatch("cms", "execute")
		s.Result("cms", "success")
		s.Retry("cms")
		s.SetInFlight(1)
		a.Observe("checkin", "OK", time.Millisecond)
		n.Push()
		n.Drop("stale")
		n.SetConnected(2)
		h.Observe("orders", 200, time.Millisecond)
	})
}

func TestAdapter_Observe(t *testing.T) {
	m := NewAdapter(prometheus.NewRegistry(), "wms")
	m.Observe("checkin", "TIMEOUT", 20*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Calls.WithLabelValues("checkin", "TIMEOUT")))
}
