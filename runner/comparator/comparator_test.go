package comparator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perf-cascade/runner/types"
)

func metric(scenario string, users int, avg float64) types.PerformanceMetric {
	return types.PerformanceMetric{
		ScenarioName:    scenario,
		ConcurrentUsers: users,
		AvgMs:           avg,
		MinMs:           avg / 2,
		MaxMs:           avg * 2,
		P90Ms:           avg * 1.5,
		P95Ms:           avg * 1.8,
	}
}

func TestCompareEmpty(t *testing.T) {
	report := Compare(nil)

	assert.True(t, report.NoData)
	assert.Nil(t, report.Best)
	assert.Nil(t, report.Worst)
	assert.Empty(t, report.Groups)
}

func TestCompareBestWorst(t *testing.T) {
	report := Compare([]types.PerformanceMetric{
		metric("GET Masivo", 10, 300),
		metric("POST Masivo", 10, 900),
		metric("GET Masivo", 50, 150),
	})

	assert.False(t, report.NoData)
	require.NotNil(t, report.Best)
	require.NotNil(t, report.Worst)
	assert.Equal(t, 150.0, report.Best.AvgMs)
	assert.Equal(t, 900.0, report.Worst.AvgMs)
	assert.Equal(t, "POST Masivo", report.Worst.ScenarioName)
}

func TestCompareTiesGoToFirst(t *testing.T) {
	report := Compare([]types.PerformanceMetric{
		metric("A", 1, 200),
		metric("B", 1, 200),
	})

	assert.Equal(t, "A", report.Best.ScenarioName)
	assert.Equal(t, "A", report.Worst.ScenarioName)
}

func TestCompareGroupingIsStable(t *testing.T) {
	report := Compare([]types.PerformanceMetric{
		metric("POST Masivo", 100, 3000),
		metric("GET Masivo", 10, 245),
		metric("POST Masivo", 10, 750),
		metric("GET Masivo", 100, 650),
	})

	require.Len(t, report.Groups, 2)
	assert.Equal(t, "POST Masivo", report.Groups[0].Scenario)
	assert.Equal(t, "GET Masivo", report.Groups[1].Scenario)

	post, ok := Group(report, "POST Masivo")
	require.True(t, ok)
	require.Len(t, post.Metrics, 2)
	assert.Equal(t, 100, post.Metrics[0].ConcurrentUsers)
	assert.Equal(t, 10, post.Metrics[1].ConcurrentUsers)

	_, ok = Group(report, "Spike")
	assert.False(t, ok)
}

func TestCompareDoesNotAliasInput(t *testing.T) {
	input := []types.PerformanceMetric{metric("A", 1, 100)}
	report := Compare(input)

	input[0].AvgMs = 999
	assert.Equal(t, 100.0, report.Metrics[0].AvgMs)
	assert.Equal(t, 100.0, report.Best.AvgMs)
}

func TestRender(t *testing.T) {
	report := Compare([]types.PerformanceMetric{
		metric("GET Masivo", 10, 245),
		metric("POST Masivo", 100, 3450),
	})

	out := Render(report, func(m types.PerformanceMetric) types.Tier {
		if m.AvgMs > 3000 {
			return types.TierUnacceptable
		}
		return types.TierExcellent
	})

	lines := strings.Split(out, "\n")
	assert.Contains(t, lines[0], "SCENARIO")
	assert.Contains(t, lines[0], "TIER")
	assert.Contains(t, lines[1], "GET Masivo")
	assert.Contains(t, lines[1], "245.00")
	assert.Contains(t, lines[1], "EXCELLENT")
	assert.Contains(t, lines[2], "UNACCEPTABLE")
	assert.Contains(t, out, "Best:  GET Masivo@10 (245.00 ms avg)")
	assert.Contains(t, out, "Worst: POST Masivo@100 (3450.00 ms avg)")

	assert.NotContains(t, Render(report, nil), "TIER")
	assert.Contains(t, Render(Compare(nil), nil), "No performance data")
}
