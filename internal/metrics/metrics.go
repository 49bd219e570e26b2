// Package metrics exposes run metrics on a private Prometheus registry.
package metrics

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/callcatcherops/autonomy/internal/report"
)

const namespace = "autonomy"

// Metrics holds the collectors for one process.
type Metrics struct {
	reg *prometheus.Registry

	runs             *prometheus.CounterVec
	runDuration      prometheus.Histogram
	lastRun          prometheus.Gauge
	leadsEvaluated   prometheus.Gauge
	skips            *prometheus.CounterVec
	dispatches       *prometheus.CounterVec
	errors           *prometheus.CounterVec
	gateHealthy      *prometheus.GaugeVec
	gateFailureRate  *prometheus.GaugeVec
	stopLossBlocked  prometheus.Gauge
	zeroOutcomeRuns  prometheus.Gauge
	businessOutcomes prometheus.Counter
	inbound          *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed orchestration runs by mode.",
		}, []string{"mode"}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of orchestration runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		lastRun: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
		leadsEvaluated: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "leads_evaluated",
			Help:      "Leads evaluated by the last run.",
		}),
		skips: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_skips_total",
			Help:      "Leads not contacted, by reason code.",
		}, []string{"reason"}),
		dispatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Dispatch attempts by channel and outcome.",
		}, []string{"channel", "outcome"}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Collaborator errors by class.",
		}, []string{"class"}),
		gateHealthy: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gate_healthy",
			Help:      "Deliverability gate state per channel (1 healthy, 0 blocked).",
		}, []string{"channel"}),
		gateFailureRate: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gate_failure_rate",
			Help:      "Failure rate over the gate window per channel.",
		}, []string{"channel"}),
		stopLossBlocked: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stop_loss_blocked",
			Help:      "1 while the stop-loss governor blocks paid channels.",
		}),
		zeroOutcomeRuns: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stop_loss_zero_outcome_runs",
			Help:      "Consecutive runs without a business outcome.",
		}),
		businessOutcomes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "business_outcomes_total",
			Help:      "Replies, bookings and payments observed.",
		}),
		inbound: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_signals_total",
			Help:      "Inbound signals applied by kind.",
		}, []string{"kind"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ObserveRun folds a finished run into the collectors.
func (m *Metrics) ObserveRun(r *report.Report) {
	m.runs.WithLabelValues(r.Mode).Inc()
	if !r.FinishedAt.IsZero() {
		m.runDuration.Observe(r.FinishedAt.Sub(r.StartedAt).Seconds())
		m.lastRun.Set(float64(r.FinishedAt.Unix()))
	}
	m.leadsEvaluated.Set(float64(r.LeadsEvaluated))
	for reason, n := range r.PolicySkips {
		m.skips.WithLabelValues(reason).Add(float64(n))
	}
	for ch, outcomes := range r.Outcomes {
		for outcome, n := range outcomes {
			m.dispatches.WithLabelValues(string(ch), outcome).Add(float64(n))
		}
	}
	for class, n := range r.Errors {
		m.errors.WithLabelValues(class).Add(float64(n))
	}
	for ch, st := range r.Gate {
		healthy := 0.0
		if st.Healthy {
			healthy = 1
		}
		m.gateHealthy.WithLabelValues(string(ch)).Set(healthy)
		m.gateFailureRate.WithLabelValues(string(ch)).Set(st.Rate)
	}
	blocked := 0.0
	if r.StopLoss.Blocked {
		blocked = 1
	}
	m.stopLossBlocked.Set(blocked)
	m.zeroOutcomeRuns.Set(float64(r.StopLoss.ZeroOutcomeRuns))
	m.businessOutcomes.Add(float64(r.BusinessOutcomes))

	in := r.Inbound
	for kind, n := range map[string]int{
		"replied":   in.Replies,
		"bounced":   in.Bounces,
		"opted_out": in.OptOuts,
		"booked":    in.Bookings,
		"paid":      in.Payments,
	} {
		if n > 0 {
			m.inbound.WithLabelValues(kind).Add(float64(n))
		}
	}
}

// WriteTextfile writes the registry for the node-exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
