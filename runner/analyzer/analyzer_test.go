package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perf-cascade/runner/types"
)

func scored(scenario string, users int, avg, errPct float64, tier types.Tier) types.ScoredMetric {
	return types.ScoredMetric{
		PerformanceMetric: types.PerformanceMetric{
			ScenarioName:     scenario,
			ConcurrentUsers:  users,
			AvgMs:            avg,
			MinMs:            avg / 2,
			MaxMs:            avg * 2,
			P90Ms:            avg * 1.5,
			P95Ms:            avg * 1.8,
			ThroughputPerSec: 100,
			ErrorRatePct:     errPct,
		},
		Tier: tier,
	}
}

func TestRecommendAllGood(t *testing.T) {
	recs := NewAnalyzer().Recommend(Input{
		Metrics:    []types.ScoredMetric{scored("GET Masivo", 10, 200, 0, types.TierExcellent), scored("GET Masivo", 50, 245, 0, types.TierExcellent)},
		Provenance: types.ProvenanceReal,
		Functional: types.FunctionalSummary{Executed: true, Passed: true, Total: 12},
	})

	require.Len(t, recs, 3)
	assert.Contains(t, recs[0], "acceptable parameters")
}

func TestRecommendSimulatedAndFailingTests(t *testing.T) {
	recs := NewAnalyzer().Recommend(Input{
		Metrics:    []types.ScoredMetric{scored("POST Masivo", 100, 3450, 8, types.TierUnacceptable)},
		Provenance: types.ProvenanceSimulated,
		Functional: types.FunctionalSummary{Executed: true, Total: 10, Failures: 2, Errors: 1},
		Stages: []types.StageReport{
			{Stage: "evidence", Succeeded: false, Message: "disk full"},
			{Stage: "functional", Succeeded: false, Message: "tests failed"},
		},
		Environment: types.EnvironmentInfo{CPUCores: 2},
	})

	assert.Contains(t, recs[0], "SIMULATED")
	assert.Contains(t, recs[1], "2 failures, 1 errors of 10 tests")
	assert.Contains(t, recs[2], "POST Masivo@100: UNACCEPTABLE")
	assert.Contains(t, recs[3], "Elevated error rate (8.0%)")
	assert.Contains(t, recs, "Stage evidence: disk full")
	assert.NotContains(t, recs, "Stage functional: tests failed")
	assert.Contains(t, recs[len(recs)-1], "Limited CPU cores detected (2)")
}

func TestRecommendFunctionalNotExecuted(t *testing.T) {
	recs := NewAnalyzer().Recommend(Input{
		Provenance: types.ProvenanceReconstructed,
		Functional: types.FunctionalSummary{Message: "no functional test command configured"},
	})

	require.Len(t, recs, 2)
	assert.Contains(t, recs[0], "reconstructed")
	assert.Equal(t, "Functional tests were not executed: no functional test command configured", recs[1])
}

func TestRecommendScaling(t *testing.T) {
	recs := NewAnalyzer().Recommend(Input{
		Metrics: []types.ScoredMetric{
			scored("Load", 50, 400, 0, types.TierExcellent),
			scored("Load", 10, 100, 0, types.TierExcellent),
		},
		Provenance: types.ProvenanceReal,
		Functional: types.FunctionalSummary{Executed: true, Passed: true},
	})

	require.Len(t, recs, 1)
	assert.Contains(t, recs[0], "Load: average latency grows from 100ms at 10 users to 400ms at 50 users")
}

func TestDetectRegressions(t *testing.T) {
	baseline := []types.PerformanceMetric{
		{ScenarioName: "GET", ConcurrentUsers: 10, P95Ms: 100, ThroughputPerSec: 100, ErrorRatePct: 0},
		{ScenarioName: "POST", ConcurrentUsers: 10, P95Ms: 100, ThroughputPerSec: 100, ErrorRatePct: 1},
	}
	current := []types.PerformanceMetric{
		{ScenarioName: "GET", ConcurrentUsers: 10, P95Ms: 140, ThroughputPerSec: 50, ErrorRatePct: 6},
		{ScenarioName: "POST", ConcurrentUsers: 10, P95Ms: 105, ThroughputPerSec: 95, ErrorRatePct: 1.5},
		{ScenarioName: "NEW", ConcurrentUsers: 10, P95Ms: 900},
	}

	regs := NewAnalyzer().DetectRegressions(current, baseline)
	require.Len(t, regs, 3)

	assert.Equal(t, "p95_latency", regs[0].Metric)
	assert.Equal(t, SeverityCritical, regs[0].Severity)
	assert.Equal(t, 40.0, regs[0].Change)

	assert.Equal(t, "error_rate", regs[1].Metric)
	assert.Equal(t, SeverityMajor, regs[1].Severity)

	assert.Equal(t, "throughput", regs[2].Metric)
	assert.Equal(t, SeverityCritical, regs[2].Severity)
	assert.Contains(t, regs[2].String(), "GET@10: throughput decreased by 50.0%")
}

func TestDetectRegressionsCustomThresholds(t *testing.T) {
	a := NewAnalyzer().WithRegressionThresholds(RegressionThresholds{
		Latency:    RegressionThreshold{Minor: 1, Major: 2, Critical: 3},
		ErrorRate:  RegressionThreshold{Minor: 50, Major: 60, Critical: 70},
		Throughput: RegressionThreshold{Minor: 50, Major: 60, Critical: 70},
	})

	regs := a.DetectRegressions(
		[]types.PerformanceMetric{{ScenarioName: "GET", ConcurrentUsers: 10, P95Ms: 101.5}},
		[]types.PerformanceMetric{{ScenarioName: "GET", ConcurrentUsers: 10, P95Ms: 100}},
	)
	require.Len(t, regs, 1)
	assert.Equal(t, SeverityMinor, regs[0].Severity)
}
