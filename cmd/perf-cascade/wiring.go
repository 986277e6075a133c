package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/perf-cascade/runner/config"
	"github.com/perf-cascade/runner/evidence"
	"github.com/perf-cascade/runner/functional"
	"github.com/perf-cascade/runner/loadtool"
	"github.com/perf-cascade/runner/metrics"
	"github.com/perf-cascade/runner/pipeline"
	"github.com/perf-cascade/runner/reports"
	"github.com/perf-cascade/runner/resolver"
	"github.com/perf-cascade/runner/storage"
	"github.com/perf-cascade/runner/telemetry"
	"github.com/perf-cascade/runner/types"
)

// resultStore is what the CLI needs from either store implementation
type resultStore interface {
	pipeline.ResultSink
	pipeline.History
	Get(ctx context.Context, id string) (*types.AnalysisResult, error)
	List(ctx context.Context, filter storage.RunFilter) ([]storage.RunSummary, error)
	QueryMetrics(ctx context.Context, q storage.MetricQuery) ([]storage.MetricPoint, error)
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

var (
	_ resultStore = (*storage.Store)(nil)
	_ resultStore = (*storage.MemoryStore)(nil)
)

// openStore connects to PostgreSQL when storage is enabled. It returns nil
// when storage is not configured.
func openStore(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (resultStore, error) {
	if cfg.Storage == nil || !cfg.Storage.Enabled {
		return nil, nil
	}
	store, err := storage.Open(ctx, &cfg.Storage.PostgreSQL, log)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// buildPipeline wires the default collaborators. A nil tm gets a fresh
// registry.
func buildPipeline(cfg *config.Config, store resultStore, tm *telemetry.Metrics, observers []pipeline.Observer, log logrus.FieldLogger) (*pipeline.Orchestrator, error) {
	rule := metrics.NewScenarioRule(cfg.ScenarioRule, cfg.ScenarioNames()...)
	classifier, err := metrics.NewClassifier(cfg.Thresholds)
	if err != nil {
		return nil, err
	}

	jmeter := loadtool.NewJMeter(cfg.LoadTool, log)
	res := resolver.New(resolver.Options{
		Engine:      metrics.NewEngine(rule),
		Simulator:   metrics.NewSimulator(cfg.Simulation),
		Detector:    reports.NewDetector(rule, log),
		Runner:      jmeter,
		Concurrency: cfg.Pipeline.ScanConcurrency,
	}, log)

	if tm == nil {
		tm = telemetry.New()
	}
	files := evidence.NewFileWriter(cfg.EvidenceDir, tm.Registry(), log)

	opts := pipeline.Options{
		Config:     cfg,
		Functional: functional.NewRunner(cfg.Functional, log),
		LoadTool:   jmeter,
		Resolver:   res,
		Classifier: classifier,
		Evidence:   files,
		Sinks:      []pipeline.ResultSink{files},
		Telemetry:  tm,
		Observers:  observers,
	}
	if store != nil {
		opts.Sinks = append(opts.Sinks, store)
		opts.History = store
	}

	return pipeline.New(opts, log)
}

// loadEvidenceResult reads the last analysis-result.json from the evidence
// directory, if any
func loadEvidenceResult(dir string) (*types.AnalysisResult, error) {
	data, err := os.ReadFile(filepath.Join(dir, evidence.ResultFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var result types.AnalysisResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
