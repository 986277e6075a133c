// Package pipeline runs an analysis as a fixed sequence of stages on a bounded
// worker pool and compiles their outcomes into one AnalysisResult.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/perf-cascade/runner/analyzer"
	"github.com/perf-cascade/runner/config"
	"github.com/perf-cascade/runner/evidence"
	"github.com/perf-cascade/runner/functional"
	"github.com/perf-cascade/runner/loadtool"
	"github.com/perf-cascade/runner/metrics"
	"github.com/perf-cascade/runner/resolver"
	"github.com/perf-cascade/runner/telemetry"
	"github.com/perf-cascade/runner/types"
)

// Stage names, in execution order
const (
	StagePrepare     = "prepare"
	StageFunctional  = "functional"
	StagePerformance = "performance"
	StageEvidence    = "evidence"
	StageCompile     = "compile"
)

// FunctionalRunner runs the functional test suite
type FunctionalRunner interface {
	Enabled() bool
	Available() bool
	Run(ctx context.Context, capture *functional.Capture) (types.FunctionalSummary, error)
}

// ToolDetector reports whether the load tool is installed
type ToolDetector interface {
	Detection() loadtool.Detection
}

// PerformanceResolver produces the metrics of a run
type PerformanceResolver interface {
	Resolve(ctx context.Context, req resolver.Request) resolver.Resolution
}

// ResultSink persists a compiled result and returns where it went
type ResultSink interface {
	Name() string
	Save(ctx context.Context, result types.AnalysisResult) (string, error)
}

// History returns the most recent stored result, or nil when there is none
type History interface {
	Latest(ctx context.Context) (*types.AnalysisResult, error)
}

// StageOutcome is what a stage reports back to the orchestrator
type StageOutcome struct {
	Stage     string        `json:"stage"`
	Succeeded bool          `json:"succeeded"`
	Severity  types.Status  `json:"severity"`
	Message   string        `json:"message"`
	Payload   any           `json:"payload,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
}

func (o StageOutcome) report() types.StageReport {
	return types.StageReport{
		Stage:     o.Stage,
		Succeeded: o.Succeeded,
		Status:    o.Severity,
		Message:   o.Message,
		Duration:  o.Duration,
	}
}

// Options wires an Orchestrator. Config and Resolver are required; every
// other collaborator is optional.
type Options struct {
	Config      *config.Config
	Functional  FunctionalRunner
	LoadTool    ToolDetector
	Resolver    PerformanceResolver
	Classifier  *metrics.Classifier
	Analyzer    *analyzer.Analyzer
	Evidence    evidence.Collaborator
	Sinks       []ResultSink
	History     History
	Telemetry   *telemetry.Metrics
	Observers   []Observer
	Environment func(context.Context) types.EnvironmentInfo
}

type stage struct {
	name    string
	timeout time.Duration
	run     func(context.Context, *runState) (StageOutcome, error)
}

// runState is owned by one run. Stages never overlap, so it needs no locking.
type runState struct {
	id               string
	started          time.Time
	environment      types.EnvironmentInfo
	functional       types.FunctionalSummary
	functionalOutput string
	performance      types.PerformanceSummary
	artifacts        []string
	outcomes         []StageOutcome
	result           types.AnalysisResult
}

// Orchestrator runs analysis pipelines
type Orchestrator struct {
	opts   Options
	cfg    *config.Config
	pool   *Pool
	stages []stage
	log    logrus.FieldLogger
}

// New creates an orchestrator and starts its worker pool
func New(opts Options, log logrus.FieldLogger) (*Orchestrator, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("pipeline config is required")
	}
	if opts.Resolver == nil {
		return nil, fmt.Errorf("performance resolver is required")
	}
	if opts.Classifier == nil {
		c, err := metrics.NewClassifier(opts.Config.Thresholds)
		if err != nil {
			return nil, fmt.Errorf("failed to build classifier: %w", err)
		}
		opts.Classifier = c
	}
	if opts.Analyzer == nil {
		opts.Analyzer = analyzer.NewAnalyzer()
	}
	if opts.Environment == nil {
		envLog := log
		opts.Environment = func(ctx context.Context) types.EnvironmentInfo {
			return metrics.CollectEnvironment(ctx, envLog)
		}
	}

	o := &Orchestrator{
		opts: opts,
		cfg:  opts.Config,
		pool: NewPool(opts.Config.Pipeline.Workers, 0),
		log:  log.WithField("component", "pipeline"),
	}

	p := opts.Config.Pipeline
	o.stages = []stage{
		{StagePrepare, p.PrepareTimeout, o.prepare},
		{StageFunctional, p.FunctionalTimeout, o.functionalCheck},
		{StagePerformance, p.PerformanceTimeout, o.resolvePerformance},
		{StageEvidence, p.EvidenceTimeout, o.generateEvidence},
		{StageCompile, p.EvidenceTimeout, o.compile},
	}
	return o, nil
}

// Run starts a new analysis and returns its eventual result. The future never
// resolves with an error: failures are reported through the result status.
func (o *Orchestrator) Run(ctx context.Context) *Future[types.AnalysisResult] {
	future, complete := NewPromise[types.AnalysisResult]()

	st := &runState{id: uuid.NewString(), started: time.Now().UTC()}
	o.log.WithFields(logrus.Fields{
		"run_id":  st.id,
		"workers": o.pool.Workers(),
	}).Info("Starting analysis run")

	o.runStage(ctx, st, 0, func(result types.AnalysisResult) {
		o.log.WithFields(logrus.Fields{
			"run_id":   result.RunID,
			"status":   result.Status,
			"duration": time.Since(st.started),
		}).Info("Analysis run finished")
		o.emit(StageEvent{RunID: st.id, Phase: PhaseCompleted, Result: &result, Time: time.Now().UTC()})
		complete(result, nil)
	})
	return future
}

// Shutdown stops the worker pool, waiting at most grace for running stages
func (o *Orchestrator) Shutdown(grace time.Duration) error {
	return o.pool.Shutdown(grace)
}

// runStage submits stage i and chains the next one once it resolves. Stages
// wait for a free queue slot so concurrent runs are never rejected midway.
func (o *Orchestrator) runStage(ctx context.Context, st *runState, i int, done func(types.AnalysisResult)) {
	s := o.stages[i]
	o.emit(StageEvent{RunID: st.id, Stage: s.name, Phase: PhaseStarted, Time: time.Now().UTC()})

	started := time.Now()
	future := SubmitWait(context.WithoutCancel(ctx), o.pool, func() (StageOutcome, error) {
		stageCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return s.run(stageCtx, st)
	})

	go func() {
		outcome, err := future.Get(context.Background())
		outcome.Stage = s.name
		outcome.Duration = time.Since(started)

		if err != nil {
			done(o.abort(ctx, st, outcome, err))
			return
		}

		o.record(st, outcome)
		if i+1 < len(o.stages) {
			o.runStage(ctx, st, i+1, done)
			return
		}
		done(st.result)
	}()
}

// abort turns a fatal stage error or a recovered panic into a FAILED result
func (o *Orchestrator) abort(ctx context.Context, st *runState, outcome StageOutcome, err error) types.AnalysisResult {
	log := o.log.WithFields(logrus.Fields{"run_id": st.id, "stage": outcome.Stage})
	if pe, ok := err.(*PanicError); ok {
		log = log.WithField("stack", string(pe.Stack))
	}
	log.WithError(err).Error("Pipeline aborted")

	outcome.Succeeded = false
	outcome.Severity = types.StatusFailed
	outcome.Message = err.Error()
	o.record(st, outcome)

	result := o.assemble(st, []string{fmt.Sprintf("Pipeline failed at stage %s: %v", outcome.Stage, err)})
	o.publish(ctx, &result)
	return result
}

func (o *Orchestrator) record(st *runState, outcome StageOutcome) {
	st.outcomes = append(st.outcomes, outcome)

	log := o.log.WithFields(logrus.Fields{
		"run_id":    st.id,
		"stage":     outcome.Stage,
		"succeeded": outcome.Succeeded,
		"status":    outcome.Severity,
		"duration":  outcome.Duration,
	})
	if outcome.Severity < types.StatusSuccess {
		log.Warn("Stage finished: " + outcome.Message)
	} else {
		log.Info("Stage finished: " + outcome.Message)
	}

	if o.opts.Telemetry != nil {
		o.opts.Telemetry.ObserveStage(outcome.Stage, outcome.Severity, outcome.Duration)
	}
	o.emit(StageEvent{RunID: st.id, Stage: outcome.Stage, Phase: PhaseFinished, Outcome: &outcome, Time: time.Now().UTC()})
}

// assemble folds the recorded outcomes into a result. The overall status is
// the most severe stage severity.
func (o *Orchestrator) assemble(st *runState, recommendations []string) types.AnalysisResult {
	status := types.StatusSuccess
	stages := make([]types.StageReport, 0, len(st.outcomes))
	for _, oc := range st.outcomes {
		stages = append(stages, oc.report())
		status = types.MinStatus(status, oc.Severity)
	}

	return types.AnalysisResult{
		RunID:           st.id,
		Status:          status,
		Functional:      st.functional,
		Performance:     st.performance,
		Stages:          stages,
		Recommendations: recommendations,
		Artifacts:       append([]string(nil), st.artifacts...),
		Environment:     st.environment,
		ExecutedAt:      st.started,
	}
}

// publish hands the result to telemetry and every sink. Failures are logged
// and never change the result status.
func (o *Orchestrator) publish(ctx context.Context, result *types.AnalysisResult) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.Pipeline.EvidenceTimeout)
	defer cancel()

	if o.opts.Telemetry != nil {
		o.opts.Telemetry.ObserveResult(*result)
	}

	for _, sink := range o.opts.Sinks {
		location, err := sink.Save(ctx, *result)
		if err != nil {
			o.log.WithError(err).WithFields(logrus.Fields{
				"run_id": result.RunID,
				"sink":   sink.Name(),
			}).Warn("Failed to persist analysis result")
			continue
		}
		if location != "" {
			result.Artifacts = append(result.Artifacts, location)
		}
	}
}

func (o *Orchestrator) emit(ev StageEvent) {
	for _, obs := range o.opts.Observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					o.log.WithField("panic", r).Error("Stage observer panicked")
				}
			}()
			obs.OnStage(ev)
		}()
	}
}
