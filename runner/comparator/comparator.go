package comparator

import (
	"github.com/perf-cascade/runner/types"
)

// Compare folds metrics into a ComparisonReport. It never fails: an empty
// input yields a report flagged NoData. Groups keep the order in which each
// scenario was first seen and the insertion order of their metrics. Best and
// worst are the lowest and highest average latency; ties go to the first
// metric encountered.
func Compare(metrics []types.PerformanceMetric) types.ComparisonReport {
	if len(metrics) == 0 {
		return types.ComparisonReport{NoData: true}
	}

	all := make([]types.PerformanceMetric, len(metrics))
	copy(all, metrics)

	report := types.ComparisonReport{Metrics: all}
	groupIndex := make(map[string]int)
	best, worst := 0, 0

	for i, m := range all {
		idx, ok := groupIndex[m.ScenarioName]
		if !ok {
			idx = len(report.Groups)
			groupIndex[m.ScenarioName] = idx
			report.Groups = append(report.Groups, types.ScenarioGroup{Scenario: m.ScenarioName})
		}
		report.Groups[idx].Metrics = append(report.Groups[idx].Metrics, m)

		if m.AvgMs < all[best].AvgMs {
			best = i
		}
		if m.AvgMs > all[worst].AvgMs {
			worst = i
		}
	}

	bestMetric, worstMetric := all[best], all[worst]
	report.Best = &bestMetric
	report.Worst = &worstMetric

	return report
}

// Group returns the group for scenario, if present
func Group(report types.ComparisonReport, scenario string) (types.ScenarioGroup, bool) {
	for _, g := range report.Groups {
		if g.Scenario == scenario {
			return g, true
		}
	}
	return types.ScenarioGroup{}, false
}
