// Package metrics exposes the daemon's prometheus metrics on a private registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Session kinds.
const (
	KindKeygen  = "keygen"
	KindSign    = "sign"
	KindRecover = "recover"
)

// Session outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFaulted = "faulted"
	OutcomeAborted = "aborted"
	OutcomeError   = "error"
)

// Metrics holds the collectors of a daemon. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	sessions     *prometheus.CounterVec
	liveSessions *prometheus.GaugeVec
	rounds       *prometheus.CounterVec
}

// New returns Metrics registered on a fresh registry, along with the go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tssd_sessions_total",
			Help: "Number of sessions by kind and outcome.",
		}, []string{"kind", "outcome"}),
		liveSessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tssd_live_sessions",
			Help: "Number of sessions currently running, by kind.",
		}, []string{"kind"}),
		rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tssd_rounds_total",
			Help: "Number of protocol rounds completed by local shares, by kind.",
		}, []string{"kind"}),
	}
	m.registry.MustRegister(
		m.sessions,
		m.liveSessions,
		m.rounds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// SessionStarted records a new live session of the given kind.
// The returned function must be called exactly once with the outcome of the session.
func (m *Metrics) SessionStarted(kind string) func(outcome string) {
	if m == nil {
		return func(string) {}
	}
	m.liveSessions.WithLabelValues(kind).Inc()
	return func(outcome string) {
		m.liveSessions.WithLabelValues(kind).Dec()
		m.sessions.WithLabelValues(kind, outcome).Inc()
	}
}

// RoundsCompleted adds n completed rounds for the given kind.
func (m *Metrics) RoundsCompleted(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.rounds.WithLabelValues(kind).Add(float64(n))
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the http.Handler serving the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
