package comparator

import (
	"bytes"
	"fmt"
	"text/tabwriter"

	"github.com/perf-cascade/runner/types"
)

// TierFunc classifies a metric for display
type TierFunc func(types.PerformanceMetric) types.Tier

// Render formats the report as an aligned text table, one row per metric in
// group order. tier may be nil, in which case the tier column is omitted.
func Render(report types.ComparisonReport, tier TierFunc) string {
	var buf bytes.Buffer

	if report.NoData {
		buf.WriteString("No performance data available for comparison.\n")
		return buf.String()
	}

	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	header := "SCENARIO\tUSERS\tAVG (ms)\tP90 (ms)\tP95 (ms)\tTHROUGHPUT (req/s)\tERRORS (%)"
	if tier != nil {
		header += "\tTIER"
	}
	fmt.Fprintln(w, header)

	for _, g := range report.Groups {
		for _, m := range g.Metrics {
			row := fmt.Sprintf("%s\t%d\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f",
				m.ScenarioName, m.ConcurrentUsers, m.AvgMs, m.P90Ms, m.P95Ms, m.ThroughputPerSec, m.ErrorRatePct)
			if tier != nil {
				row += "\t" + tier(m).String()
			}
			fmt.Fprintln(w, row)
		}
	}
	w.Flush()

	buf.WriteString("\n")
	if report.Best != nil {
		fmt.Fprintf(&buf, "Best:  %s (%.2f ms avg)\n", report.Best.Key(), report.Best.AvgMs)
	}
	if report.Worst != nil {
		fmt.Fprintf(&buf, "Worst: %s (%.2f ms avg)\n", report.Worst.Key(), report.Worst.AvgMs)
	}

	return buf.String()
}
