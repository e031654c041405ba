// Package metrics exposes Prometheus collectors for pipeline runs and
// remote lookups. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
)

const namespace = "classyfire"

// Metrics groups the collectors registered on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	lookups      *prometheus.CounterVec
	conversions  *prometheus.CounterVec
	stepRuns     *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	stepRows     *prometheus.CounterVec
	lastSuccess  prometheus.Gauge
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookups_total",
			Help:      "Classification lookups by outcome (found, missing, failed, cached).",
		}, []string{"outcome"}),
		conversions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversions_total",
			Help:      "Identifier conversions by target namespace and result (hit, miss).",
		}, []string{"target", "result"}),
		stepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_runs_total",
			Help:      "Pipeline step executions by step and status.",
		}, []string{"step", "status"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Wall-clock duration of pipeline steps.",
			Buckets:   []float64{0.1, 1, 5, 30, 60, 300, 900, 1800, 3600},
		}, []string{"step"}),
		stepRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_rows_total",
			Help:      "Rows written by pipeline steps.",
		}, []string{"step"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last pipeline run that completed without error.",
		}),
	}

	m.Registry.MustRegister(
		m.lookups,
		m.conversions,
		m.stepRuns,
		m.stepDuration,
		m.stepRows,
		m.lastSuccess,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveLookup counts one classification lookup.
func (m *Metrics) ObserveLookup(outcome string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(outcome).Inc()
}

// ObserveConversion counts one identifier conversion.
func (m *Metrics) ObserveConversion(target string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.conversions.WithLabelValues(target, result).Inc()
}

// ObserveStep records one step execution.
func (m *Metrics) ObserveStep(step, status string, d time.Duration, rows int) {
	if m == nil {
		return
	}
	m.stepRuns.WithLabelValues(step, status).Inc()
	m.stepDuration.WithLabelValues(step).Observe(d.Seconds())
	if rows > 0 {
		m.stepRows.WithLabelValues(step).Add(float64(rows))
	}
}

// MarkSuccess sets the last-success gauge.
func (m *Metrics) MarkSuccess(t time.Time) {
	if m == nil {
		return
	}
	m.lastSuccess.Set(float64(t.Unix()))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// WriteTextfile writes the registry to path for node_exporter's textfile
// collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return eris.Wrapf(err, "metrics: write textfile %s", path)
	}
	return nil
}
