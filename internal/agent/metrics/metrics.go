// Package metrics holds the Prometheus collectors for the request pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the assistant.
//
// Metrics:
//   - rfi_guardrail_decisions_total{layer,allowed} - guardrail verdicts by deciding layer
//   - rfi_guardrail_cache_hits_total - verdicts served from the decision cache
//   - rfi_guardrail_fail_open_total{layer} - model layers that errored and were skipped
//   - rfi_routes_total{query_class} - classified requests per resolution path
//   - rfi_outcomes_total{kind} - terminal outcomes, "ok" or an error kind
//   - rfi_node_duration_seconds{node} - graph node latency
//   - rfi_execution_faults_total - generated programs that failed at runtime
//   - rfi_model_fanout_inflight - per-row model calls currently running
type Metrics struct {
	GuardrailDecisions *prometheus.CounterVec
	GuardrailCacheHits prometheus.Counter
	GuardrailFailOpen  *prometheus.CounterVec

	Routes   *prometheus.CounterVec
	Outcomes *prometheus.CounterVec

	NodeDuration *prometheus.HistogramVec

	ExecutionFaults prometheus.Counter
	FanoutInflight  prometheus.Gauge
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer in
// main and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		GuardrailDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rfi_guardrail_decisions_total",
			Help: "Guardrail decisions by deciding layer",
		}, []string{"layer", "allowed"}),
		GuardrailCacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "rfi_guardrail_cache_hits_total",
			Help: "Guardrail decisions served from cache",
		}),
		GuardrailFailOpen: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rfi_guardrail_fail_open_total",
			Help: "Guardrail model layers skipped after an error",
		}, []string{"layer"}),
		Routes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rfi_routes_total",
			Help: "Requests per resolution path",
		}, []string{"query_class"}),
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rfi_outcomes_total",
			Help: "Terminal outcomes per request",
		}, []string{"kind"}),
		NodeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rfi_node_duration_seconds",
			Help:    "Graph node latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"node"}),
		ExecutionFaults: f.NewCounter(prometheus.CounterOpts{
			Name: "rfi_execution_faults_total",
			Help: "Generated programs that failed at runtime",
		}),
		FanoutInflight: f.NewGauge(prometheus.GaugeOpts{
			Name: "rfi_model_fanout_inflight",
			Help: "Per-row model calls currently running",
		}),
	}
}

func (m *Metrics) GuardrailDecision(layer string, allowed, cached bool) {
	if m == nil {
		return
	}
	m.GuardrailDecisions.WithLabelValues(layer, strconv.FormatBool(allowed)).Inc()
	if cached {
		m.GuardrailCacheHits.Inc()
	}
}

func (m *Metrics) FailOpen(layer string) {
	if m == nil {
		return
	}
	m.GuardrailFailOpen.WithLabelValues(layer).Inc()
}

func (m *Metrics) Route(class string) {
	if m == nil {
		return
	}
	m.Routes.WithLabelValues(class).Inc()
}

// Outcome records the terminal kind; empty means success.
func (m *Metrics) Outcome(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "ok"
	}
	m.Outcomes.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveNode(node string, d time.Duration) {
	if m == nil {
		return
	}
	m.NodeDuration.WithLabelValues(node).Observe(d.Seconds())
}

func (m *Metrics) ExecutionFault() {
	if m == nil {
		return
	}
	m.ExecutionFaults.Inc()
}

// TrackFanout increments the in-flight gauge and returns the matching decrement.
func (m *Metrics) TrackFanout() func() {
	if m == nil {
		return func() {}
	}
	m.FanoutInflight.Inc()
	return m.FanoutInflight.Dec
}
