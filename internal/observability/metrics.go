// File: internal/observability/metrics.go
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "woy"

// Metrics are the process counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry  *prometheus.Registry
	passes    *prometheus.CounterVec
	updates   *prometheus.CounterVec
	peerDrops prometheus.Counter
	agents    prometheus.Gauge
}

// NewMetrics creates the counters on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_total",
			Help:      "Resolve, lookup and render passes by outcome.",
		}, []string{"outcome"}),
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preference_updates_total",
			Help:      "Preference updates seen by agents, by origin and whether they were applied or stale.",
		}, []string{"origin", "result"}),
		peerDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peer_messages_dropped_total",
			Help:      "Peer messages dropped after the reinit retry failed.",
		}),
		agents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents_running",
			Help:      "Agent instances currently attached to a tab.",
		}),
	}
	m.registry.MustRegister(
		m.passes, m.updates, m.peerDrops, m.agents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObservePass(outcome string) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveUpdate(origin string, applied bool) {
	if m == nil {
		return
	}
	result := "stale"
	if applied {
		result = "applied"
	}
	m.updates.WithLabelValues(origin, result).Inc()
}

func (m *Metrics) PeerDropped() {
	if m == nil {
		return
	}
	m.peerDrops.Inc()
}

func (m *Metrics) AgentStarted() {
	if m == nil {
		return
	}
	m.agents.Inc()
}

func (m *Metrics) AgentStopped() {
	if m == nil {
		return
	}
	m.agents.Dec()
}
