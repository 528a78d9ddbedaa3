// ABOUTME: Prometheus counters for routing, resolution, and handoff transitions.
// ABOUTME: Uses a private registry so tests can build independent instances.

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "handoff_bridge"

// Metrics holds the bridge's collectors.
type Metrics struct {
	registry *prometheus.Registry

	inbound     *prometheus.CounterVec
	outbound    *prometheus.CounterVec
	resolutions *prometheus.CounterVec
	transitions *prometheus.CounterVec
	chatUpdates *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_events_total",
			Help:      "Platform webhook events by routing verdict.",
		}, []string{"verdict"}),
		outbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_requests_total",
			Help:      "Platform API calls made by the outbound router.",
		}, []string{"operation", "result"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Remote identity resolutions by outcome.",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Ownership transitions.",
		}, []string{"transition"}),
		chatUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_updates_total",
			Help:      "Chat channel updates by kind.",
		}, []string{"kind"}),
	}

	m.registry.MustRegister(
		m.inbound, m.outbound, m.resolutions, m.transitions, m.chatUpdates,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// All recorders are nil-safe so callers can run without metrics.

func (m *Metrics) Inbound(verdict string) {
	if m != nil {
		m.inbound.WithLabelValues(verdict).Inc()
	}
}

func (m *Metrics) Outbound(operation string, ok bool) {
	if m != nil {
		result := "ok"
		if !ok {
			result = "error"
		}
		m.outbound.WithLabelValues(operation, result).Inc()
	}
}

func (m *Metrics) Resolution(outcome string) {
	if m != nil {
		m.resolutions.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Transition(name string) {
	if m != nil {
		m.transitions.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) ChatUpdate(kind string) {
	if m != nil {
		m.chatUpdates.WithLabelValues(kind).Inc()
	}
}
