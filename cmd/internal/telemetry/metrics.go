// Package telemetry owns the Prometheus collectors. Every method is safe on a
// nil *Metrics so callers can run without metrics in tests.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "teamsync"

// Metrics groups the process collectors.
type Metrics struct {
	gatherer prometheus.Gatherer

	httpRequests  *prometheus.CounterVec
	authOutcomes  *prometheus.CounterVec
	passwordHash  *prometheus.HistogramVec
	wsConnections prometheus.Gauge
	wsRejected    *prometheus.CounterVec
}

// New registers collectors on a fresh registry, together with the Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWith(reg, reg)
}

// NewWith registers collectors on reg and serves them from g.
func NewWith(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: g,
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status class.",
		}, []string{"method", "status_class"}),
		authOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_outcomes_total",
			Help:      "Request guard outcomes by mode.",
		}, []string{"mode", "outcome"}),
		passwordHash: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "password_hash_seconds",
			Help:      "Time spent hashing or verifying passwords, including queueing for a worker.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"op"}),
		wsConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Open realtime connections.",
		}),
		wsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_rejected_total",
			Help:      "Realtime upgrades refused before accept.",
		}, []string{"reason"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveHTTP counts one finished request.
func (m *Metrics) ObserveHTTP(method string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, StatusClass(status)).Inc()
}

// AuthOutcome counts one guard decision.
func (m *Metrics) AuthOutcome(mode, outcome string) {
	if m == nil {
		return
	}
	m.authOutcomes.WithLabelValues(mode, outcome).Inc()
}

// ObservePassword matches the password.WithObserver hook.
func (m *Metrics) ObservePassword(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.passwordHash.WithLabelValues(op).Observe(d.Seconds())
}

// WSConnected and WSDisconnected track open realtime connections.
func (m *Metrics) WSConnected() {
	if m == nil {
		return
	}
	m.wsConnections.Inc()
}

func (m *Metrics) WSDisconnected() {
	if m == nil {
		return
	}
	m.wsConnections.Dec()
}

// WSRejected counts an upgrade refused for reason.
func (m *Metrics) WSRejected(reason string) {
	if m == nil {
		return
	}
	m.wsRejected.WithLabelValues(reason).Inc()
}

// StatusClass maps 404 to "4xx". Out-of-range codes are "other".
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return "other"
	}
	return strconv.Itoa(status/100) + "xx"
}
