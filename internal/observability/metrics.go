package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector registers and updates the run-loop's Prometheus
// surface, following the donor's MetricsCollector pattern
// (NewMetricsCollector/Register*/Handler) but with run-loop gauges and
// counters in place of HTTP request metrics.
type MetricsCollector struct {
	registry prometheus.Registerer

	RunsTotal          *prometheus.CounterVec
	EscalationsTotal   *prometheus.CounterVec
	InterventionsTotal *prometheus.CounterVec
	SessionTrustScore  prometheus.Histogram
	CircuitOpenTotal   *prometheus.CounterVec
	RunDuration        *prometheus.HistogramVec
}

// NewMetricsCollector builds a collector registered against reg (the
// default Prometheus registerer when nil).
func NewMetricsCollector(reg prometheus.Registerer) *MetricsCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	mc := &MetricsCollector{
		registry: reg,
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "orchestrator_runs_total", Help: "Run loop invocations by outcome (completed, or error when execute_run returned one)."},
			[]string{"status"},
		),
		EscalationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "orchestrator_escalations_total", Help: "Engine escalations by from/to tier and reason."},
			[]string{"from", "to", "reason"},
		),
		InterventionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "orchestrator_interventions_total", Help: "InterventionTasks created by kind."},
			[]string{"kind"},
		),
		SessionTrustScore: prometheus.NewHistogram(
			prometheus.HistogramOpts{Name: "sessionpool_trust_score", Help: "Trust score observed on session reuse.", Buckets: prometheus.LinearBuckets(0, 10, 11)},
		),
		CircuitOpenTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "sessionpool_circuit_open_total", Help: "Circuit breaker open transitions by domain."},
			[]string{"domain"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "orchestrator_run_duration_seconds", Help: "Wall-clock duration of execute_run invocations."},
			[]string{"status"},
		),
	}
	mc.registry.MustRegister(
		mc.RunsTotal, mc.EscalationsTotal, mc.InterventionsTotal,
		mc.SessionTrustScore, mc.CircuitOpenTotal, mc.RunDuration,
	)
	return mc
}

// Handler returns an HTTP handler exposing the Prometheus scrape
// endpoint, for whatever process wants to mount it.
func (mc *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{})
}
