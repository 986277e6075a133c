// Package resolver decides which performance data to trust. It walks a fixed
// cascade (existing result files, rendered reports, a fresh load-tool run,
// simulation) and always ends with a non-empty metric set whose provenance
// says where it came from.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/perf-cascade/runner/config"
	"github.com/perf-cascade/runner/loadtool"
	"github.com/perf-cascade/runner/metrics"
	"github.com/perf-cascade/runner/reports"
	"github.com/perf-cascade/runner/types"
)

// ResultPatterns are the sample file globs scanned in each results directory
var ResultPatterns = []string{"*.jtl", "*.csv"}

// LoadRunner runs one scenario plan with the external load tool
type LoadRunner interface {
	Available() bool
	Run(ctx context.Context, req loadtool.RunRequest) (loadtool.RunResult, error)
}

// ReportDetector finds rendered reports
type ReportDetector interface {
	Detect(dirs []string) ([]reports.Report, error)
}

// Request lists where to look and what to run
type Request struct {
	ResultsDirs []string
	ReportsDirs []string
	Scenarios   []config.ScenarioConfig
	// OutputDir receives the samples of a fresh run
	OutputDir string
}

// Attempt records one state of the cascade
type Attempt struct {
	Provenance types.Provenance `json:"provenance"`
	Succeeded  bool             `json:"succeeded"`
	Detail     string           `json:"detail"`
}

// Resolution is the outcome of the cascade
type Resolution struct {
	Metrics    []types.PerformanceMetric
	Provenance types.Provenance
	Notes      []string
	Attempts   []Attempt
}

// Resolver runs the cascade
type Resolver struct {
	engine      *metrics.Engine
	simulator   *metrics.Simulator
	detector    ReportDetector
	runner      LoadRunner
	concurrency int
	log         logrus.FieldLogger
}

// Options wires the collaborators of a Resolver. Detector and Runner may be nil.
type Options struct {
	Engine      *metrics.Engine
	Simulator   *metrics.Simulator
	Detector    ReportDetector
	Runner      LoadRunner
	Concurrency int
}

// New creates a resolver
func New(opts Options, log logrus.FieldLogger) *Resolver {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Resolver{
		engine:      opts.Engine,
		simulator:   opts.Simulator,
		detector:    opts.Detector,
		runner:      opts.Runner,
		concurrency: opts.Concurrency,
		log:         log.WithField("component", "resolver"),
	}
}

// Resolve walks the cascade. It never fails: when every real source is
// exhausted the simulated fallback provides the metrics.
func (r *Resolver) Resolve(ctx context.Context, req Request) Resolution {
	var res Resolution

	steps := []struct {
		provenance types.Provenance
		run        func(context.Context, Request, *Resolution) ([]types.PerformanceMetric, string)
	}{
		{types.ProvenanceReal, r.fromResultFiles},
		{types.ProvenanceReconstructed, r.fromReports},
		{types.ProvenanceFresh, r.fromFreshRun},
	}

	for _, step := range steps {
		if ctx.Err() != nil {
			res.Attempts = append(res.Attempts, Attempt{Provenance: step.provenance, Detail: "skipped: " + ctx.Err().Error()})
			continue
		}

		found, detail := step.run(ctx, req, &res)
		ok := len(found) > 0
		res.Attempts = append(res.Attempts, Attempt{Provenance: step.provenance, Succeeded: ok, Detail: detail})
		r.log.WithFields(logrus.Fields{
			"source":  step.provenance,
			"found":   len(found),
			"outcome": detail,
		}).Debug("Resolver step finished")

		if ok {
			res.Metrics = found
			res.Provenance = step.provenance
			r.finish(&res)
			return res
		}
	}

	res.Metrics, res.Provenance = r.simulate(req), types.ProvenanceSimulated
	res.Attempts = append(res.Attempts, Attempt{
		Provenance: types.ProvenanceSimulated,
		Succeeded:  true,
		Detail:     fmt.Sprintf("%d simulated metrics", len(res.Metrics)),
	})
	res.Notes = append(res.Notes, "SIMULATED metrics: no real samples, reports or load-tool run were available; "+
		"values come from a deterministic formula and do not describe the system under test")
	r.finish(&res)
	return res
}

func (r *Resolver) finish(res *Resolution) {
	log := r.log.WithFields(logrus.Fields{
		"provenance": res.Provenance,
		"metrics":    len(res.Metrics),
	})
	if res.Provenance.IsMeasured() {
		log.Info("Resolved performance data")
	} else {
		log.Warn("Resolved performance data without measurements: " + res.Provenance.Describe())
	}
}

// fromResultFiles decodes every candidate file concurrently and keeps the
// non-empty ones, ordered by file name
func (r *Resolver) fromResultFiles(ctx context.Context, req Request, res *Resolution) ([]types.PerformanceMetric, string) {
	files, err := FindResultFiles(req.ResultsDirs)
	if err != nil {
		return nil, err.Error()
	}
	if len(files) == 0 {
		return nil, "no result files found"
	}

	type decoded struct {
		metric    types.PerformanceMetric
		ok        bool
		malformed int
		err       error
	}
	out := make([]decoded, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			samples, stats, err := metrics.ParseFile(path)
			if err != nil {
				out[i].err = err
				return nil
			}
			out[i].malformed = len(stats.Malformed)
			m, err := r.engine.ComputeMetric(samples, path)
			if err != nil {
				out[i].err = err
				return nil
			}
			out[i].metric, out[i].ok = m, true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Sprintf("scan interrupted: %v", err)
	}

	var found []types.PerformanceMetric
	for i, d := range out {
		log := r.log.WithField("file", files[i])
		if d.malformed > 0 {
			log.WithField("malformed", d.malformed).Warn("Skipped malformed sample lines")
			res.Notes = append(res.Notes, fmt.Sprintf("%s: %d malformed lines skipped", filepath.Base(files[i]), d.malformed))
		}
		switch {
		case d.ok:
			found = append(found, d.metric)
		case errors.Is(d.err, types.ErrEmptyInput):
			log.Debug("Result file has no usable samples")
		default:
			log.WithError(d.err).Warn("Failed to decode result file")
		}
	}

	return found, fmt.Sprintf("%d of %d result files decoded", len(found), len(files))
}

// fromReports reconstructs approximate metrics from rendered reports
func (r *Resolver) fromReports(_ context.Context, req Request, res *Resolution) ([]types.PerformanceMetric, string) {
	if r.detector == nil {
		return nil, "report detection disabled"
	}

	found, err := r.detector.Detect(req.ReportsDirs)
	if err != nil {
		r.log.WithError(err).Warn("Report detection failed")
		return nil, err.Error()
	}
	if len(found) == 0 {
		return nil, "no rendered reports found"
	}

	var out []types.PerformanceMetric
	var fromAggregate int
	for _, rep := range found {
		log := r.log.WithFields(logrus.Fields{"report": rep.Path, "scenario": rep.Scenario, "users": rep.Users})

		if m, err := rep.Metric(); err == nil {
			fromAggregate++
			out = append(out, m)
			log.Warn("Using aggregate figures from a rendered report; percentiles are not recomputed from samples")
			continue
		} else if rep.Aggregate != nil {
			log.WithError(err).Warn("Report aggregate is inconsistent")
		}

		m := r.simulator.Simulate(rep.Scenario, rep.Users)
		m.Source = rep.Path
		out = append(out, m)
		log.Warn("Report has no usable figures; synthesizing metrics for its scenario")
	}

	res.Notes = append(res.Notes, fmt.Sprintf(
		"APPROXIMATION: metrics reconstructed from %d rendered report(s) (%d from report aggregates, %d synthesized for the detected scenario); raw samples were not available",
		len(found), fromAggregate, len(found)-fromAggregate))

	return out, fmt.Sprintf("%d reports detected", len(found))
}

// fromFreshRun runs each scenario plan with the load tool, one at a time
func (r *Resolver) fromFreshRun(ctx context.Context, req Request, res *Resolution) ([]types.PerformanceMetric, string) {
	if r.runner == nil || !r.runner.Available() {
		return nil, "load tool not available"
	}

	var (
		found    []types.PerformanceMetric
		attempts int
		failures []string
	)
	for _, sc := range req.Scenarios {
		if sc.Plan == "" {
			continue
		}
		for _, users := range sc.Users {
			if ctx.Err() != nil {
				failures = append(failures, ctx.Err().Error())
				break
			}
			attempts++

			log := r.log.WithFields(logrus.Fields{"scenario": sc.Name, "users": users})
			run, err := r.runner.Run(ctx, loadtool.RunRequest{
				Scenario:  sc.Name,
				Plan:      sc.Plan,
				Users:     users,
				OutputDir: req.OutputDir,
			})
			if err != nil {
				log.WithError(err).Warn("Fresh load-tool run failed, continuing")
				failures = append(failures, fmt.Sprintf("%s@%d: %v", sc.Name, users, err))
				continue
			}

			samples, stats, err := metrics.ParseFile(run.SamplesPath)
			if err == nil && len(stats.Malformed) > 0 {
				res.Notes = append(res.Notes, fmt.Sprintf("%s: %d malformed lines skipped", filepath.Base(run.SamplesPath), len(stats.Malformed)))
			}
			if err == nil {
				var m types.PerformanceMetric
				if m, err = r.engine.ComputeLabeled(samples, run.SamplesPath, sc.Name, users); err == nil {
					found = append(found, m)
					continue
				}
			}
			log.WithError(err).Warn("Fresh run produced no usable samples, continuing")
			failures = append(failures, fmt.Sprintf("%s@%d: %v", sc.Name, users, err))
		}
	}

	if attempts == 0 {
		return nil, "no scenario has a test plan"
	}
	detail := fmt.Sprintf("%d of %d runs produced samples", len(found), attempts)
	if len(failures) > 0 {
		detail += "; " + strings.Join(failures, "; ")
	}
	return found, detail
}

func (r *Resolver) simulate(req Request) []types.PerformanceMetric {
	scenarios := req.Scenarios
	if len(scenarios) == 0 {
		scenarios = config.DefaultScenarios()
	}
	out := r.simulator.SimulateAll(scenarios)
	if len(out) == 0 {
		out = append(out, r.simulator.Simulate("default", 10))
	}
	return out
}

// FindResultFiles lists the sample files in dirs, sorted by file name
func FindResultFiles(dirs []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, dir := range dirs {
		for _, pattern := range ResultPatterns {
			matches, err := filepath.Glob(filepath.Join(dir, pattern))
			if err != nil {
				return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
			}
			for _, m := range matches {
				if !seen[m] {
					seen[m] = true
					files = append(files, m)
				}
			}
		}
	}

	sort.SliceStable(files, func(i, j int) bool {
		bi, bj := filepath.Base(files[i]), filepath.Base(files[j])
		if bi != bj {
			return bi < bj
		}
		return files[i] < files[j]
	})
	return files, nil
}
