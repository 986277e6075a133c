package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/perf-cascade/runner/config"
	"github.com/perf-cascade/runner/evidence"
	"github.com/perf-cascade/runner/functional"
	"github.com/perf-cascade/runner/loadtool"
	"github.com/perf-cascade/runner/resolver"
	"github.com/perf-cascade/runner/telemetry"
	"github.com/perf-cascade/runner/types"
)

// MockResolver is a mock implementation of PerformanceResolver
type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Resolve(ctx context.Context, req resolver.Request) resolver.Resolution {
	args := m.Called(ctx, req)
	return args.Get(0).(resolver.Resolution)
}

// MockSink is a mock implementation of ResultSink
type MockSink struct {
	mock.Mock
}

func (m *MockSink) Name() string {
	return "mock"
}

func (m *MockSink) Save(ctx context.Context, result types.AnalysisResult) (string, error) {
	args := m.Called(ctx, result)
	return args.String(0), args.Error(1)
}

type fakeFunctional struct {
	enabled bool
	summary types.FunctionalSummary
	err     error
	output  string
}

func (f *fakeFunctional) Enabled() bool   { return f.enabled }
func (f *fakeFunctional) Available() bool { return f.enabled }

func (f *fakeFunctional) Run(_ context.Context, capture *functional.Capture) (types.FunctionalSummary, error) {
	capture.Start()
	capture.Write([]byte(f.output))
	capture.Stop()
	return f.summary, f.err
}

type fakeDetector struct{ det loadtool.Detection }

func (f fakeDetector) Detection() loadtool.Detection { return f.det }

type fakeEvidence struct {
	files []string
	err   error
	got   evidence.Bundle
}

func (f *fakeEvidence) Generate(_ context.Context, b evidence.Bundle) ([]string, error) {
	f.got = b
	return f.files, f.err
}

type fakeHistory struct {
	prev *types.AnalysisResult
	err  error
}

func (f fakeHistory) Latest(context.Context) (*types.AnalysisResult, error) {
	return f.prev, f.err
}

type recorder struct {
	mu     sync.Mutex
	events []StageEvent
}

func (r *recorder) OnStage(ev StageEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.WorkDir = dir
	cfg.ResultsDirs = []string{filepath.Join(dir, "results")}
	cfg.ReportsDirs = []string{filepath.Join(dir, "reports")}
	cfg.EvidenceDir = filepath.Join(dir, "evidence")
	cfg.Pipeline.Workers = 1
	return cfg
}

func measured(avg float64) resolver.Resolution {
	return resolver.Resolution{
		Provenance: types.ProvenanceReal,
		Metrics: []types.PerformanceMetric{{
			ScenarioName: "GET Masivo", ConcurrentUsers: 10, AvgMs: avg, MinMs: avg / 2, MaxMs: avg * 2,
			P90Ms: avg * 1.5, P95Ms: avg * 1.6, ThroughputPerSec: 40, DurationSec: 60, SampleCount: 100,
		}},
		Attempts: []resolver.Attempt{{Provenance: types.ProvenanceReal, Succeeded: true}},
	}
}

func simulated() resolver.Resolution {
	res := measured(245)
	res.Provenance = types.ProvenanceSimulated
	res.Notes = []string{"SIMULATED metrics"}
	return res
}

func passing() *fakeFunctional {
	return &fakeFunctional{
		enabled: true,
		summary: types.FunctionalSummary{Executed: true, Passed: true, Total: 4, Message: "4 tests passed"},
		output:  "Tests run: 4, Failures: 0, Errors: 0, Skipped: 0\nBUILD SUCCESS\n",
	}
}

func baseOptions(t *testing.T, res resolver.Resolution) (Options, *MockResolver) {
	r := new(MockResolver)
	r.On("Resolve", mock.Anything, mock.Anything).Return(res)
	return Options{
		Config:      testConfig(t),
		Functional:  passing(),
		LoadTool:    fakeDetector{loadtool.Detection{Binary: "jmeter", Path: "/opt/jmeter/bin/jmeter", Available: true}},
		Resolver:    r,
		Evidence:    &fakeEvidence{files: []string{"metrics.csv"}},
		Environment: func(context.Context) types.EnvironmentInfo { return types.EnvironmentInfo{OS: "linux", CPUCores: 8} },
	}, r
}

func run(t *testing.T, opts Options) types.AnalysisResult {
	t.Helper()
	o, err := New(opts, testLogger())
	require.NoError(t, err)
	defer o.Shutdown(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, err := o.Run(ctx).Get(ctx)
	require.NoError(t, err)
	return result
}

func stageNames(result types.AnalysisResult) []string {
	var names []string
	for _, s := range result.Stages {
		names = append(names, s.Stage)
	}
	return names
}

func TestRunSuccess(t *testing.T) {
	opts, r := baseOptions(t, measured(245))
	result := run(t, opts)

	assert.Equal(t, types.StatusSuccess, result.Status)
	assert.Equal(t, 0, result.Status.ExitCode())
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, []string{StagePrepare, StageFunctional, StagePerformance, StageEvidence, StageCompile}, stageNames(result))
	for _, s := range result.Stages {
		assert.True(t, s.Succeeded, s.Stage)
	}
	require.Len(t, result.Performance.Metrics, 1)
	assert.Equal(t, types.TierExcellent, result.Performance.Metrics[0].Tier)
	assert.False(t, result.Performance.Comparison.NoData)
	assert.Equal(t, "/opt/jmeter/bin/jmeter", result.Environment.LoadTool)
	assert.Equal(t, []string{"metrics.csv"}, result.Artifacts)
	assert.NotEmpty(t, result.Recommendations)

	for _, dir := range []string{"results", "reports", "evidence"} {
		assert.DirExists(t, filepath.Join(opts.Config.WorkDir, dir))
	}

	r.AssertCalled(t, "Resolve", mock.Anything, mock.MatchedBy(func(req resolver.Request) bool {
		return req.OutputDir == opts.Config.ResultsPath() && len(req.Scenarios) == len(opts.Config.Scenarios)
	}))

	ev := opts.Evidence.(*fakeEvidence).got
	assert.Equal(t, result.RunID, ev.RunID)
	assert.Contains(t, ev.FunctionalOutput, "BUILD SUCCESS")
	assert.Contains(t, ev.Comparison, "GET Masivo")
}

func TestRunSimulatedIsWarning(t *testing.T) {
	opts, _ := baseOptions(t, simulated())
	result := run(t, opts)

	assert.Equal(t, types.StatusSuccessWithWarnings, result.Status)
	assert.False(t, result.Stages[2].Succeeded)
	assert.Equal(t, types.StatusSuccessWithWarnings, result.Stages[2].Status)
	assert.Contains(t, result.Recommendations[0], "SIMULATED")
}

func TestRunFunctionalFailureIsPartial(t *testing.T) {
	opts, r := baseOptions(t, measured(245))
	opts.Functional = &fakeFunctional{
		enabled: true,
		summary: types.FunctionalSummary{Executed: true, Total: 4, Failures: 1, ExitCode: 1},
		err:     &types.ExternalToolError{Tool: "mvn", ExitCode: 1},
	}

	result := run(t, opts)

	assert.Equal(t, types.StatusPartial, result.Status)
	assert.Equal(t, 2, result.Status.ExitCode())
	assert.False(t, result.Stages[1].Succeeded)
	assert.Contains(t, result.Stages[1].Message, "mvn exited with code 1")
	assert.Len(t, result.Stages, 5, "later stages still run")
	r.AssertNumberOfCalls(t, "Resolve", 1)
}

func TestRunFunctionalDisabledIsWarning(t *testing.T) {
	opts, _ := baseOptions(t, measured(245))
	opts.Functional = nil

	result := run(t, opts)

	assert.Equal(t, types.StatusSuccessWithWarnings, result.Status)
	assert.False(t, result.Functional.Executed)
	assert.Contains(t, result.Stages[0].Message, "no functional test command configured")
}

func TestRunUnwritableDirectoryFails(t *testing.T) {
	opts, r := baseOptions(t, measured(245))
	blocker := filepath.Join(opts.Config.WorkDir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	opts.Config.EvidenceDir = filepath.Join(blocker, "evidence")

	result := run(t, opts)

	assert.Equal(t, types.StatusFailed, result.Status)
	assert.Equal(t, 3, result.Status.ExitCode())
	require.Len(t, result.Stages, 1)
	assert.Equal(t, StagePrepare, result.Stages[0].Stage)
	require.Len(t, result.Recommendations, 1)
	assert.Contains(t, result.Recommendations[0], "failed fatally")
	r.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything)
}

func TestRunPanicIsFailed(t *testing.T) {
	opts, _ := baseOptions(t, measured(245))
	r := new(MockResolver)
	r.On("Resolve", mock.Anything, mock.Anything).Run(func(mock.Arguments) { panic("resolver exploded") })
	opts.Resolver = r

	result := run(t, opts)

	assert.Equal(t, types.StatusFailed, result.Status)
	assert.Equal(t, []string{StagePrepare, StageFunctional, StagePerformance}, stageNames(result))
	require.Len(t, result.Recommendations, 1)
	assert.Contains(t, result.Recommendations[0], "resolver exploded")
}

func TestRunEvidenceFailureIsWarning(t *testing.T) {
	opts, _ := baseOptions(t, measured(245))
	opts.Evidence = &fakeEvidence{files: []string{"metrics.csv"}, err: errors.New("disk full")}

	result := run(t, opts)

	assert.Equal(t, types.StatusSuccessWithWarnings, result.Status)
	assert.Contains(t, result.Stages[3].Message, "disk full")
	assert.Equal(t, []string{"metrics.csv"}, result.Artifacts)
	assert.Contains(t, result.Recommendations, "Stage evidence: evidence generation degraded: disk full")
}

func TestRunPublishesToSinksAndTelemetry(t *testing.T) {
	opts, _ := baseOptions(t, measured(245))
	ok, failing := new(MockSink), new(MockSink)
	ok.On("Save", mock.Anything, mock.Anything).Return("/evidence/analysis-result.json", nil)
	failing.On("Save", mock.Anything, mock.Anything).Return("", errors.New("connection refused"))
	opts.Sinks = []ResultSink{failing, ok}
	opts.Telemetry = telemetry.New()

	result := run(t, opts)

	assert.Equal(t, types.StatusSuccess, result.Status)
	assert.Equal(t, []string{"metrics.csv", "/evidence/analysis-result.json"}, result.Artifacts)
	ok.AssertCalled(t, "Save", mock.Anything, mock.MatchedBy(func(r types.AnalysisResult) bool {
		return r.RunID == result.RunID && len(r.Stages) == 5
	}))
}

func TestRunDetectsRegressions(t *testing.T) {
	opts, _ := baseOptions(t, measured(600))
	prev := &types.AnalysisResult{RunID: "previous"}
	prev.Performance.Provenance = types.ProvenanceReal
	for _, m := range measured(245).Metrics {
		prev.Performance.Metrics = append(prev.Performance.Metrics, types.ScoredMetric{PerformanceMetric: m})
	}
	opts.History = fakeHistory{prev: prev}

	result := run(t, opts)

	assert.Equal(t, types.StatusSuccess, result.Status)
	assert.Contains(t, result.Stages[4].Message, "regressions against run previous")
	found := false
	for _, rec := range result.Recommendations {
		if strings.HasPrefix(rec, "critical regression in GET Masivo@10") {
			found = true
		}
	}
	assert.True(t, found, "expected a critical regression recommendation in %v", result.Recommendations)
}

func TestRunEmitsStageEvents(t *testing.T) {
	opts, _ := baseOptions(t, measured(245))
	rec := &recorder{}
	opts.Observers = []Observer{rec, ObserverFunc(func(StageEvent) { panic("observer bug") })}

	result := run(t, opts)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.events, 11)
	assert.Equal(t, StagePrepare, rec.events[0].Stage)
	assert.Equal(t, PhaseStarted, rec.events[0].Phase)
	assert.Equal(t, PhaseFinished, rec.events[1].Phase)
	require.NotNil(t, rec.events[1].Outcome)
	assert.Equal(t, StageCompile, rec.events[9].Stage)

	last := rec.events[10]
	assert.Equal(t, PhaseCompleted, last.Phase)
	require.NotNil(t, last.Result)
	assert.Equal(t, result.RunID, last.Result.RunID)
	for _, ev := range rec.events {
		assert.Equal(t, result.RunID, ev.RunID)
	}
}

func TestRunWithCancelledContextStillCompletes(t *testing.T) {
	opts, _ := baseOptions(t, simulated())
	o, err := New(opts, testLogger())
	require.NoError(t, err)
	defer o.Shutdown(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer waitCancel()
	result, err := o.Run(ctx).Get(waitCtx)
	require.NoError(t, err)

	assert.Len(t, result.Stages, 5)
	assert.Contains(t, result.Recommendations[0], "interrupted")
}

func TestConcurrentRunsExceedingQueueAllComplete(t *testing.T) {
	opts, _ := baseOptions(t, measured(245))
	opts.Functional = &fakeFunctional{}
	opts.Evidence = nil
	o, err := New(opts, testLogger())
	require.NoError(t, err)
	defer o.Shutdown(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	// one worker with a queue of four, far fewer slots than runs
	const runs = 12
	results := make(chan types.AnalysisResult, runs)
	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := o.Run(ctx).Get(ctx)
			assert.NoError(t, err)
			results <- result
		}()
	}
	wg.Wait()
	close(results)

	for result := range results {
		assert.Len(t, result.Stages, 5)
		for _, rec := range result.Recommendations {
			assert.NotContains(t, rec, "queue full")
		}
		assert.NotEqual(t, types.StatusFailed, result.Status)
	}
}

func TestRunAfterShutdownFails(t *testing.T) {
	opts, _ := baseOptions(t, measured(245))
	o, err := New(opts, testLogger())
	require.NoError(t, err)
	require.NoError(t, o.Shutdown(time.Second))

	result, err := o.Run(context.Background()).Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, result.Status)
	assert.Contains(t, result.Recommendations[0], "pool closed")
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{}, testLogger())
	assert.Error(t, err)

	_, err = New(Options{Config: testConfig(t)}, testLogger())
	assert.Error(t, err)
}
