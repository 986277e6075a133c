package pipeline

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/perf-cascade/runner/analyzer"
	"github.com/perf-cascade/runner/comparator"
	"github.com/perf-cascade/runner/evidence"
	"github.com/perf-cascade/runner/functional"
	"github.com/perf-cascade/runner/resolver"
	"github.com/perf-cascade/runner/types"
)

// prepare creates the working directories and probes the external tools.
// An unwritable directory is the only fatal condition of a run.
func (o *Orchestrator) prepare(ctx context.Context, st *runState) (StageOutcome, error) {
	dirs := []string{o.cfg.ResultsPath(), o.cfg.ReportsPath(), o.cfg.EvidenceDir}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return StageOutcome{}, &types.StageFatalError{Stage: StagePrepare, Err: fmt.Errorf("failed to create %s: %w", dir, err)}
		}
		if err := probeWritable(dir); err != nil {
			return StageOutcome{}, &types.StageFatalError{Stage: StagePrepare, Err: err}
		}
	}

	st.environment = o.opts.Environment(ctx)

	var warnings []string
	if o.opts.LoadTool != nil {
		det := o.opts.LoadTool.Detection()
		if det.Available {
			st.environment.LoadTool = det.Path
		} else {
			warnings = append(warnings, "load tool unavailable: "+det.Reason)
		}
	}
	switch {
	case o.opts.Functional == nil || !o.opts.Functional.Enabled():
		warnings = append(warnings, "no functional test command configured")
	case !o.opts.Functional.Available():
		warnings = append(warnings, "functional test runner not found")
	}

	outcome := StageOutcome{Succeeded: true, Severity: types.StatusSuccess, Message: "working directories ready"}
	if len(warnings) > 0 {
		outcome.Severity = types.StatusSuccessWithWarnings
		outcome.Message += "; " + strings.Join(warnings, "; ")
	}
	outcome.Payload = dirs
	return outcome, nil
}

func probeWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".write-probe-*")
	if err != nil {
		return fmt.Errorf("directory %s is not writable: %w", dir, err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// functionalCheck runs the test suite. A failing or timed-out suite makes the
// run PARTIAL but never stops it.
func (o *Orchestrator) functionalCheck(ctx context.Context, st *runState) (StageOutcome, error) {
	if o.opts.Functional == nil || !o.opts.Functional.Enabled() {
		st.functional = types.FunctionalSummary{Message: "functional tests disabled: no command configured"}
		return StageOutcome{Severity: types.StatusSuccessWithWarnings, Message: st.functional.Message}, nil
	}

	capture := functional.NewCapture(0)
	summary, err := o.opts.Functional.Run(ctx, capture)
	st.functional = summary
	st.functionalOutput = capture.Output()

	if err != nil {
		msg := "functional tests failed: " + err.Error()
		if summary.Message != "" {
			msg += " (" + summary.Message + ")"
		}
		return StageOutcome{Severity: types.StatusPartial, Message: msg, Payload: summary}, nil
	}
	return StageOutcome{Succeeded: true, Severity: types.StatusSuccess, Message: summary.Message, Payload: summary}, nil
}

// resolvePerformance runs the source cascade and classifies the metrics.
// Only measured data counts as success.
func (o *Orchestrator) resolvePerformance(ctx context.Context, st *runState) (StageOutcome, error) {
	res := o.opts.Resolver.Resolve(ctx, resolver.Request{
		ResultsDirs: o.cfg.ResultsDirs,
		ReportsDirs: o.cfg.ReportsDirs,
		Scenarios:   o.cfg.Scenarios,
		OutputDir:   o.cfg.ResultsPath(),
	})

	st.performance = types.PerformanceSummary{
		Provenance: res.Provenance,
		Notes:      res.Notes,
		Metrics:    o.opts.Classifier.Score(res.Metrics),
		Comparison: comparator.Compare(res.Metrics),
	}

	outcome := StageOutcome{
		Succeeded: res.Provenance.IsMeasured(),
		Severity:  types.StatusSuccess,
		Message:   fmt.Sprintf("%d metrics from %s", len(res.Metrics), res.Provenance.Describe()),
		Payload:   res.Attempts,
	}
	if !outcome.Succeeded {
		outcome.Severity = types.StatusSuccessWithWarnings
	}
	return outcome, nil
}

// generateEvidence hands the run to the evidence collaborator. Failure only
// degrades the outcome.
func (o *Orchestrator) generateEvidence(ctx context.Context, st *runState) (StageOutcome, error) {
	if o.opts.Evidence == nil {
		return StageOutcome{Severity: types.StatusSuccessWithWarnings, Message: "no evidence collaborator configured"}, nil
	}

	files, err := o.opts.Evidence.Generate(ctx, evidence.Bundle{
		RunID:            st.id,
		Performance:      st.performance,
		Functional:       st.functional,
		FunctionalOutput: st.functionalOutput,
		Comparison:       comparator.Render(st.performance.Comparison, o.opts.Classifier.Classify),
		Environment:      st.environment,
	})
	st.artifacts = append(st.artifacts, files...)

	if err != nil {
		return StageOutcome{
			Severity: types.StatusSuccessWithWarnings,
			Message:  "evidence generation degraded: " + err.Error(),
			Payload:  files,
		}, nil
	}
	return StageOutcome{
		Succeeded: true,
		Severity:  types.StatusSuccess,
		Message:   fmt.Sprintf("%d artifacts written", len(files)),
		Payload:   files,
	}, nil
}

// compile builds the final result, compares it with the previous stored run
// and publishes it
func (o *Orchestrator) compile(ctx context.Context, st *runState) (StageOutcome, error) {
	started := time.Now()
	outcome := StageOutcome{Stage: StageCompile, Succeeded: true, Severity: types.StatusSuccess, Message: "analysis compiled"}

	regressions, baseline := o.regressions(ctx, st)
	if len(regressions) > 0 {
		outcome.Message = fmt.Sprintf("analysis compiled; %d regressions against run %s", len(regressions), baseline)
		outcome.Payload = regressions
	}

	// the result carries its own compile report, recorded again once the stage resolves
	outcome.Duration = time.Since(started)
	st.outcomes = append(st.outcomes, outcome)
	draft := o.assemble(st, nil)
	st.outcomes = st.outcomes[:len(st.outcomes)-1]

	recommendations := o.opts.Analyzer.Recommend(analyzer.Input{
		Metrics:     st.performance.Metrics,
		Provenance:  st.performance.Provenance,
		Functional:  st.functional,
		Stages:      draft.Stages,
		Environment: st.environment,
		Regressions: regressions,
	})
	if err := ctx.Err(); err != nil {
		recommendations = append([]string{"Run was interrupted before completion: " + err.Error()}, recommendations...)
	}

	result := o.assemble(st, recommendations)
	result.Stages = draft.Stages
	o.publish(ctx, &result)
	st.result = result

	return outcome, nil
}

func (o *Orchestrator) regressions(ctx context.Context, st *runState) ([]analyzer.Regression, string) {
	if o.opts.History == nil || !st.performance.Provenance.IsMeasured() {
		return nil, ""
	}

	prev, err := o.opts.History.Latest(ctx)
	if err != nil {
		o.log.WithError(err).WithField("run_id", st.id).Warn("Failed to load previous run")
		return nil, ""
	}
	if prev == nil || !prev.Performance.Provenance.IsMeasured() {
		return nil, ""
	}

	regs := o.opts.Analyzer.DetectRegressions(plain(st.performance.Metrics), plain(prev.Performance.Metrics))
	if len(regs) > 0 {
		o.log.WithFields(logrus.Fields{
			"run_id":      st.id,
			"baseline":    prev.RunID,
			"regressions": len(regs),
		}).Warn("Performance regressions detected")
	}
	return regs, prev.RunID
}

func plain(scored []types.ScoredMetric) []types.PerformanceMetric {
	out := make([]types.PerformanceMetric, len(scored))
	for i, m := range scored {
		out[i] = m.PerformanceMetric
	}
	return out
}
