// Package metrics holds the Prometheus collectors shared by every process.
//
// Constructors take a Registerer so tests can pass prometheus.NewRegistry()
// and mains pass prometheus.DefaultRegisterer. Every method is safe on a nil
// receiver, which lets components run without metrics wired.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "swifttrack"

type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

func NewServerMetrics(reg prometheus.Registerer, service string) *ServerMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})

	reg.MustRegister(requests, latency)
	return &ServerMetrics{Requests: requests, LatencyMS: latency}
}

func (m *ServerMetrics) Observe(handler string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(handler, strconv.Itoa(status)).Inc()
	m.LatencyMS.WithLabelValues(handler).Observe(float64(elapsed.Milliseconds()))
}

// Saga instruments the coordinator.
type Saga struct {
	Transitions *prometheus.CounterVec
	Dispatches  *prometheus.CounterVec
	Results     *prometheus.CounterVec
	Retries     *prometheus.CounterVec
	InFlight    prometheus.Gauge
}

func NewSaga(reg prometheus.Registerer) *Saga {
	m := &Saga{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "saga",
			Name:      "transitions_total",
			Help:      "Order status transitions by target status.",
		}, []string{"status"}),
		Dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "saga",
			Name:      "dispatches_total",
			Help:      "Step requests published to adapters.",
		}, []string{"kind", "action"}),
		Results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "saga",
			Name:      "results_total",
			Help:      "Adapter results consumed, by outcome (success, failure, timeout, stale).",
		}, []string{"kind", "outcome"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "saga",
			Name:      "retries_total",
			Help:      "Step retries scheduled.",
		}, []string{"kind"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "saga",
			Name:      "steps_in_flight",
			Help:      "Steps currently tracked by the coordinator.",
		}),
	}
	reg.MustRegister(m.Transitions, m.Dispatches, m.Results, m.Retries, m.InFlight)
	return m
}

func (m *Saga) Transition(status string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(status).Inc()
}

func (m *Saga) Dispatch(kind, action string) {
	if m == nil {
		return
	}
	m.Dispatches.WithLabelValues(kind, action).Inc()
}

func (m *Saga) Result(kind, outcome string) {
	if m == nil {
		return
	}
	m.Results.WithLabelValues(kind, outcome).Inc()
}

func (m *Saga) Retry(kind string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(kind).Inc()
}

func (m *Saga) SetInFlight(n int) {
	if m == nil {
		return
	}
	m.InFlight.Set(float64(n))
}

// Adapter instruments the calls a protocol adapter makes to its backend.
type Adapter struct {
	Calls     *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

func NewAdapter(reg prometheus.Registerer, kind string) *Adapter {
	m := &Adapter{
		Calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: kind + "_adapter",
			Name:      "calls_total",
			Help:      "Backend calls by action and result code (OK on success).",
		}, []string{"action", "code"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: kind + "_adapter",
			Name:      "call_duration_ms",
			Help:      "Backend call latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"action"}),
	}
	reg.MustRegister(m.Calls, m.LatencyMS)
	return m
}

func (m *Adapter) Observe(action, code string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Calls.WithLabelValues(action, code).Inc()
	m.LatencyMS.WithLabelValues(action).Observe(float64(elapsed.Milliseconds()))
}

// Notifier instruments the push hub.
type Notifier struct {
	Connected prometheus.Gauge
	Pushed    prometheus.Counter
	Dropped   *prometheus.CounterVec
}

func NewNotifier(reg prometheus.Registerer) *Notifier {
	m := &Notifier{
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "channels_connected",
			Help:      "Client channels currently registered.",
		}),
		Pushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "pushed_total",
			Help:      "Notifications handed to client channels.",
		}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "dropped_total",
			Help:      "Notifications not delivered, by reason (stale, channel_error).",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.Connected, m.Pushed, m.Dropped)
	return m
}

func (m *Notifier) SetConnected(n int) {
	if m == nil {
		return
	}
	m.Connected.Set(float64(n))
}

func (m *Notifier) Push() {
	if m == nil {
		return
	}
	m.Pushed.Inc()
}

func (m *Notifier) Drop(reason string) {
	if m == nil {
		return
	}
	m.Dropped.WithLabelValues(reason).Inc()
}

// Handler serves the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}
