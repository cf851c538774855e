package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "callrisk"

// riskBuckets cover the reachable category sums in 0.1 steps.
var riskBuckets = []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0, 1.2, 1.5, 1.8}

// Exporter publishes check and outcome metrics on its own registry.
type Exporter struct {
	registry *prometheus.Registry

	checks       *prometheus.CounterVec
	riskScores   *prometheus.HistogramVec
	alerts       *prometheus.CounterVec
	outcomes     *prometheus.CounterVec
	actualCost   *prometheus.CounterVec
	actualTokens *prometheus.CounterVec
	calibration  *prometheus.CounterVec
	historySize  prometheus.Gauge
}

// NewExporter creates and registers the metric families.
func NewExporter() *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "checks_total",
			Help:      "Pre-call checks by result (ok, degraded, disabled)",
		}, []string{"result"}),
		riskScores: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "risk_score",
			Help:      "Risk scores by category",
			Buckets:   riskBuckets,
		}, []string{"category"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "alerts_total",
			Help:      "Raised alert flags by kind",
		}, []string{"kind"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "outcomes_total",
			Help:      "Recorded call outcomes by provider and result",
		}, []string{"provider", "result"}),
		actualCost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "actual_cost_usd_total",
			Help:      "Actual cost reported by callers",
		}, []string{"provider"}),
		actualTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "actual_tokens_total",
			Help:      "Actual tokens reported by callers",
		}, []string{"provider"}),
		calibration: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "prediction_outcomes_total",
			Help:      "Resolved predictions (hit, miss, missed_failure, correct_low)",
		}, []string{"verdict"}),
		historySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "history_window_entries",
			Help:      "Call outcomes currently inside the sliding window",
		}),
	}
	e.registry.MustRegister(
		e.checks, e.riskScores, e.alerts, e.outcomes,
		e.actualCost, e.actualTokens, e.calibration, e.historySize,
	)
	return e
}

// Registry returns the exporter's registry.
func (e *Exporter) Registry() *prometheus.Registry { return e.registry }

// Handler serves the Prometheus exposition format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// ObserveCheck records one snapshot.
func (e *Exporter) ObserveCheck(snap *Snapshot) {
	switch {
	case !snap.Enabled:
		e.checks.WithLabelValues("disabled").Inc()
		return
	case snap.Degraded:
		e.checks.WithLabelValues("degraded").Inc()
		return
	}
	e.checks.WithLabelValues("ok").Inc()

	e.riskScores.WithLabelValues("rate_limit").Observe(snap.Risk.RateLimitProbability)
	e.riskScores.WithLabelValues("cost").Observe(snap.Risk.CostRisk)
	e.riskScores.WithLabelValues("performance").Observe(snap.Risk.PerformanceRisk)
	e.riskScores.WithLabelValues("security").Observe(snap.Risk.SecurityRisk)
	e.riskScores.WithLabelValues("overall").Observe(snap.Risk.OverallRisk)

	if snap.Alerts.HighRisk {
		e.alerts.WithLabelValues("high_risk").Inc()
	}
	if snap.Alerts.RateLimitWarning {
		e.alerts.WithLabelValues("rate_limit").Inc()
	}
	if snap.Alerts.CostAlert {
		e.alerts.WithLabelValues("cost").Inc()
	}
	if snap.Alerts.PerformanceAlert {
		e.alerts.WithLabelValues("performance").Inc()
	}
}

// ObserveOutcome records one call result and, when known, the prediction it resolves.
func (e *Exporter) ObserveOutcome(o CallOutcome, predicted *AlertSet) {
	provider := o.Provider
	if provider == "" {
		provider = "unknown"
	}
	result := "success"
	if !o.Success {
		result = "failure"
	}
	e.outcomes.WithLabelValues(provider, result).Inc()
	e.actualCost.WithLabelValues(provider).Add(o.Cost)
	e.actualTokens.WithLabelValues(provider).Add(float64(o.Tokens))

	if predicted == nil {
		return
	}
	switch {
	case predicted.HighRisk && !o.Success:
		e.calibration.WithLabelValues("hit").Inc()
	case predicted.HighRisk:
		e.calibration.WithLabelValues("miss").Inc()
	case !o.Success:
		e.calibration.WithLabelValues("missed_failure").Inc()
	default:
		e.calibration.WithLabelValues("correct_low").Inc()
	}
}

// SetHistorySize records the current window size.
func (e *Exporter) SetHistorySize(n int) {
	e.historySize.Set(float64(n))
}
