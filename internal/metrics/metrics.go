// Package metrics exposes Prometheus collectors for the coaching service.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "writecoach"

// Metrics holds the service collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	transitions     *prometheus.CounterVec
	noops           *prometheus.CounterVec
	turns           *prometheus.CounterVec
	gatewayLatency  *prometheus.HistogramVec
	toolInvocations *prometheus.CounterVec
	liveSessions    prometheus.Gauge
}

// New registers all collectors, plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_transitions_total",
			Help:      "Applied workflow intents by source and target phase.",
		}, []string{"from", "to"}),
		noops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intent_noops_total",
			Help:      "Classified intents that were illegal or incomplete for the current phase.",
		}, []string{"phase", "intent"}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns by outcome.",
		}, []string{"result"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_duration_seconds",
			Help:      "Completion gateway latency by result.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"result"}),
		toolInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_invocations_total",
			Help:      "Write tool invocations by result.",
		}, []string{"result"}),
		liveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_sessions",
			Help:      "Sessions currently held in memory.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.transitions, m.noops, m.turns, m.gatewayLatency, m.toolInvocations, m.liveSessions,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Transition records an applied intent.
func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// NoOp records an intent the machine refused.
func (m *Metrics) NoOp(phase, intent string) {
	if m == nil {
		return
	}
	m.noops.WithLabelValues(phase, intent).Inc()
}

// Turn records a turn outcome: ok, clarify, unavailable, busy or error.
func (m *Metrics) Turn(result string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(result).Inc()
}

// Gateway records one completion call.
func (m *Metrics) Gateway(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.gatewayLatency.WithLabelValues(result).Observe(d.Seconds())
}

// Tool records a write tool invocation: delivered, out_of_phase, unknown or invalid.
func (m *Metrics) Tool(result string) {
	if m == nil {
		return
	}
	m.toolInvocations.WithLabelValues(result).Inc()
}

// SetLiveSessions sets the live session gauge.
func (m *Metrics) SetLiveSessions(n int) {
	if m == nil {
		return
	}
	m.liveSessions.Set(float64(n))
}
