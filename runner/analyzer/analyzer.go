// Package analyzer turns a compiled analysis into recommendations and detects
// regressions against a previous run.
package analyzer

import (
	"fmt"
	"sort"

	"github.com/perf-cascade/runner/metrics"
	"github.com/perf-cascade/runner/types"
)

// Input is everything the recommendations are derived from
type Input struct {
	Metrics     []types.ScoredMetric
	Provenance  types.Provenance
	Functional  types.FunctionalSummary
	Stages      []types.StageReport
	Environment types.EnvironmentInfo
	Regressions []Regression
}

// Analyzer builds recommendations
type Analyzer struct {
	calc       *metrics.Calculator
	regression RegressionThresholds
}

// NewAnalyzer creates an analyzer with the default regression thresholds
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		calc:       metrics.NewCalculator(),
		regression: DefaultRegressionThresholds(),
	}
}

// WithRegressionThresholds returns a copy using t
func (a *Analyzer) WithRegressionThresholds(t RegressionThresholds) *Analyzer {
	c := *a
	c.regression = t
	return &c
}

// Recommend returns the recommendations for in. The list is never empty.
func (a *Analyzer) Recommend(in Input) []string {
	var recommendations []string

	switch in.Provenance {
	case types.ProvenanceSimulated:
		recommendations = append(recommendations,
			"Performance figures are SIMULATED. Provide JTL result files or install the load tool to measure the system under test.")
	case types.ProvenanceReconstructed:
		recommendations = append(recommendations,
			"Performance figures were reconstructed from rendered reports. Rerun the load test to obtain raw samples and exact percentiles.")
	}

	switch {
	case !in.Functional.Executed:
		if in.Functional.Message != "" {
			recommendations = append(recommendations, "Functional tests were not executed: "+in.Functional.Message)
		}
	case in.Functional.TimedOut:
		recommendations = append(recommendations,
			"Functional tests timed out. Raise the functional timeout or investigate hanging tests.")
	case !in.Functional.Passed:
		recommendations = append(recommendations, fmt.Sprintf(
			"Functional tests failed (%d failures, %d errors of %d tests). Fix them before trusting the performance results.",
			in.Functional.Failures, in.Functional.Errors, in.Functional.Total))
	}

	for _, m := range in.Metrics {
		switch {
		case m.Tier >= types.TierUnacceptable:
			recommendations = append(recommendations, fmt.Sprintf(
				"%s: UNACCEPTABLE performance (%.0fms avg, %.1f%% errors). Investigate slow queries, locks and resource limits before release.",
				m.Key(), m.AvgMs, m.ErrorRatePct))
		case m.Tier == types.TierPoor:
			recommendations = append(recommendations, fmt.Sprintf(
				"%s: POOR performance (%.0fms avg). Profile the slowest requests.", m.Key(), m.AvgMs))
		}

		if m.ErrorRatePct > 10 {
			recommendations = append(recommendations, fmt.Sprintf(
				"%s: Critical error rate (%.1f%%). Check server health, connection limits and timeout settings.", m.Key(), m.ErrorRatePct))
		} else if m.ErrorRatePct > 5 {
			recommendations = append(recommendations, fmt.Sprintf(
				"%s: Elevated error rate (%.1f%%). Consider increasing timeouts or connection pool size.", m.Key(), m.ErrorRatePct))
		}
	}

	recommendations = append(recommendations, a.scaling(in.Metrics)...)

	for _, r := range in.Regressions {
		recommendations = append(recommendations, r.String())
	}

	for _, st := range in.Stages {
		if !st.Succeeded && st.Message != "" && st.Stage != "functional" && st.Stage != "performance" {
			recommendations = append(recommendations, fmt.Sprintf("Stage %s: %s", st.Stage, st.Message))
		}
	}

	if in.Environment.CPUCores > 0 && in.Environment.CPUCores < 4 {
		recommendations = append(recommendations, fmt.Sprintf(
			"Limited CPU cores detected (%d). Load results may be bound by the analysis host.", in.Environment.CPUCores))
	}

	if len(recommendations) == 0 {
		recommendations = append(recommendations,
			"All scenarios perform within acceptable parameters.",
			"Consider increasing load to find performance limits.",
			"Monitor performance over time to detect regressions.")
	}

	return recommendations
}

// scaling flags scenarios whose average latency varies strongly across
// concurrency levels
func (a *Analyzer) scaling(scored []types.ScoredMetric) []string {
	byScenario := make(map[string][]types.ScoredMetric)
	var order []string
	for _, m := range scored {
		if _, ok := byScenario[m.ScenarioName]; !ok {
			order = append(order, m.ScenarioName)
		}
		byScenario[m.ScenarioName] = append(byScenario[m.ScenarioName], m)
	}

	var out []string
	for _, name := range order {
		group := byScenario[name]
		if len(group) < 2 {
			continue
		}
		sort.SliceStable(group, func(i, j int) bool { return group[i].ConcurrentUsers < group[j].ConcurrentUsers })

		avgs := make([]float64, len(group))
		for i, m := range group {
			avgs[i] = m.AvgMs
		}
		mean := a.calc.Mean(avgs)
		cv := a.calc.CoeffVar(mean, a.calc.StdDev(avgs))
		if cv <= 50 {
			continue
		}

		lo, hi := group[0], group[len(group)-1]
		out = append(out, fmt.Sprintf(
			"%s: average latency grows from %.0fms at %d users to %.0fms at %d users (CV %.0f%%). Check scaling limits.",
			name, lo.AvgMs, lo.ConcurrentUsers, hi.AvgMs, hi.ConcurrentUsers, cv))
	}
	return out
}
