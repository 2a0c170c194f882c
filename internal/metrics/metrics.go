// Package metrics exposes process-level Prometheus instrumentation for
// the analysis scheduler and the warning engine, grounded on
// etalazz-vsa's telemetry/churn package (package-level counters
// registered once via prometheus.MustRegister, served through
// promhttp.Handler).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	AnalysisCyclesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pmuwatch_analysis_cycles_total",
		Help: "Total analysis scheduler cycles run.",
	})
	AnalysisStepErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pmuwatch_analysis_step_errors_total",
		Help: "Total per-step analysis failures, isolated per spec's failure policy.",
	}, []string{"step"})
	AnalysisCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pmuwatch_analysis_cycle_duration_seconds",
		Help:    "Wall-clock duration of one analysis scheduler cycle.",
		Buckets: prometheus.DefBuckets,
	})

	WarningChecksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pmuwatch_warning_checks_total",
		Help: "Total real-time threshold checks performed.",
	})
	WarningCheckLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pmuwatch_warning_check_latency_seconds",
		Help:    "Latency of a single real-time threshold check.",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .02, .05},
	})
	WarningActiveEvents = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pmuwatch_warning_active_events",
		Help: "Currently active warning events by severity.",
	}, []string{"severity"})
	WarningStoreWriteErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pmuwatch_warning_store_write_errors_total",
		Help: "Total warning-batch write failures (events are retained in-queue).",
	})
)

func init() {
	prometheus.MustRegister(
		AnalysisCyclesTotal,
		AnalysisStepErrorsTotal,
		AnalysisCycleDuration,
		WarningChecksTotal,
		WarningCheckLatency,
		WarningActiveEvents,
		WarningStoreWriteErrorsTotal,
	)
}

// ObserveCycle records one completed analysis cycle's duration.
func ObserveCycle(start time.Time) {
	AnalysisCycleDuration.Observe(time.Since(start).Seconds())
	AnalysisCyclesTotal.Inc()
}

// ObserveStepError records a per-step analysis failure by step name.
func ObserveStepError(step string) {
	AnalysisStepErrorsTotal.WithLabelValues(step).Inc()
}

// ObserveCheck records one real-time threshold check's latency.
func ObserveCheck(elapsed time.Duration) {
	WarningChecksTotal.Inc()
	WarningCheckLatency.Observe(elapsed.Seconds())
}

// SetActiveEvents replaces the active-event gauge for each severity.
func SetActiveEvents(bySeverity map[string]int) {
	for _, sev := range []string{"INFO", "WARNING", "CRITICAL"} {
		WarningActiveEvents.WithLabelValues(sev).Set(float64(bySeverity[sev]))
	}
}
