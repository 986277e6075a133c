// Package telemetry exposes pipeline progress as Prometheus metrics, served by
// the API and written next to the evidence as a node-exporter textfile.
package telemetry

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"

	"github.com/perf-cascade/runner/types"
)

// Metrics holds the pipeline collectors and their registry
type Metrics struct {
	StageDuration *prometheus.HistogramVec
	StageOutcomes *prometheus.CounterVec
	Runs          *prometheus.CounterVec
	LastStatus    prometheus.Gauge
	LastRun       prometheus.Gauge
	ScenarioAvg   *prometheus.GaugeVec
	ScenarioP95   *prometheus.GaugeVec
	ScenarioRPS   *prometheus.GaugeVec
	ScenarioErr   *prometheus.GaugeVec
	registry      *prometheus.Registry
}

// New creates the collectors on a fresh registry
func New() *Metrics {
	scenarioLabels := []string{"scenario", "users", "provenance"}

	m := &Metrics{
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "perf_cascade_stage_duration_seconds",
				Help:    "Duration of pipeline stages in seconds",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800},
			},
			[]string{"stage"},
		),
		StageOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perf_cascade_stage_outcomes_total",
				Help: "Pipeline stage outcomes by severity",
			},
			[]string{"stage", "status"},
		),
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perf_cascade_runs_total",
				Help: "Completed pipeline runs by overall status",
			},
			[]string{"status"},
		),
		LastStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "perf_cascade_last_run_exit_code",
			Help: "Exit code of the last completed run (0 success, 1 warnings, 2 partial, 3 failed)",
		}),
		LastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "perf_cascade_last_run_timestamp_seconds",
			Help: "Unix time the last run was executed",
		}),
		ScenarioAvg: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perf_cascade_scenario_avg_ms",
			Help: "Average response time per scenario and concurrency level",
		}, scenarioLabels),
		ScenarioP95: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perf_cascade_scenario_p95_ms",
			Help: "95th percentile response time per scenario and concurrency level",
		}, scenarioLabels),
		ScenarioRPS: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perf_cascade_scenario_throughput_per_second",
			Help: "Throughput per scenario and concurrency level",
		}, scenarioLabels),
		ScenarioErr: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perf_cascade_scenario_error_rate_percent",
			Help: "Error rate per scenario and concurrency level",
		}, scenarioLabels),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.StageDuration, m.StageOutcomes, m.Runs, m.LastStatus, m.LastRun,
		m.ScenarioAvg, m.ScenarioP95, m.ScenarioRPS, m.ScenarioErr,
	)
	return m
}

// ObserveStage records one finished stage
func (m *Metrics) ObserveStage(stage string, status types.Status, d time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	m.StageOutcomes.WithLabelValues(stage, status.String()).Inc()
}

// ObserveResult records a completed run. The scenario gauges are replaced so
// they only describe the latest run.
func (m *Metrics) ObserveResult(result types.AnalysisResult) {
	m.Runs.WithLabelValues(result.Status.String()).Inc()
	m.LastStatus.Set(float64(result.Status.ExitCode()))
	m.LastRun.Set(float64(result.ExecutedAt.Unix()))

	m.ScenarioAvg.Reset()
	m.ScenarioP95.Reset()
	m.ScenarioRPS.Reset()
	m.ScenarioErr.Reset()

	provenance := string(result.Performance.Provenance)
	for _, sm := range result.Performance.Metrics {
		labels := []string{sm.ScenarioName, strconv.Itoa(sm.ConcurrentUsers), provenance}
		m.ScenarioAvg.WithLabelValues(labels...).Set(sm.AvgMs)
		m.ScenarioP95.WithLabelValues(labels...).Set(sm.P95Ms)
		m.ScenarioRPS.WithLabelValues(labels...).Set(sm.ThroughputPerSec)
		m.ScenarioErr.WithLabelValues(labels...).Set(sm.ErrorRatePct)
	}
}

// Registry returns the registry holding the collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus metrics handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes everything g gathers to path in the text exposition
// format. The file is replaced atomically.
func WriteTextfile(g prometheus.Gatherer, path string) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create textfile: %w", err)
	}
	defer os.Remove(tmp.Name())

	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(tmp, mf); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to encode metric family %s: %w", mf.GetName(), err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write textfile: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to set textfile permissions: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
