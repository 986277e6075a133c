package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perf-cascade/runner/types"
)

func sampleResult() types.AnalysisResult {
	return types.AnalysisResult{
		RunID:      "run-1",
		Status:     types.StatusSuccessWithWarnings,
		ExecutedAt: time.Unix(1700000000, 0),
		Performance: types.PerformanceSummary{
			Provenance: types.ProvenanceSimulated,
			Metrics: []types.ScoredMetric{
				{PerformanceMetric: types.PerformanceMetric{ScenarioName: "GET Masivo", ConcurrentUsers: 10, AvgMs: 245, P95Ms: 453.25, ThroughputPerSec: 40.82}},
			},
		},
	}
}

func TestObserveResult(t *testing.T) {
	m := New()
	m.ObserveStage("prepare", types.StatusSuccess, 20*time.Millisecond)
	m.ObserveResult(sampleResult())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("SUCCESS_WITH_WARNINGS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LastStatus))
	assert.Equal(t, 245.0, testutil.ToFloat64(m.ScenarioAvg.WithLabelValues("GET Masivo", "10", "simulated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageOutcomes.WithLabelValues("prepare", "SUCCESS")))
}

func TestObserveResultReplacesScenarioGauges(t *testing.T) {
	m := New()
	m.ObserveResult(sampleResult())

	next := sampleResult()
	next.Performance.Metrics[0].ConcurrentUsers = 50
	m.ObserveResult(next)

	assert.Equal(t, 1, testutil.CollectAndCount(m.ScenarioAvg))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.ObserveResult(sampleResult())

	path := filepath.Join(t.TempDir(), "pipeline.prom")
	require.NoError(t, WriteTextfile(m.Registry(), path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# TYPE perf_cascade_runs_total counter")
	assert.Contains(t, string(data), `perf_cascade_scenario_avg_ms{provenance="simulated",scenario="GET Masivo",users="10"} 245`)

	leftovers, err := filepath.Glob(path + ".tmp-*")
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveResult(sampleResult())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "perf_cascade_last_run_exit_code 1")
}
