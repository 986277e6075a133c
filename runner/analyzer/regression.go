package analyzer

import (
	"fmt"
	"math"

	"github.com/perf-cascade/runner/types"
)

// Severity grades a regression
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

// RegressionThreshold holds the change needed for each severity. For error
// rate the values are absolute percentage points; otherwise they are percent
// changes relative to the baseline.
type RegressionThreshold struct {
	Minor    float64
	Major    float64
	Critical float64
}

// severity returns the grade for change, or "" when it is below Minor
func (t RegressionThreshold) severity(change float64) Severity {
	switch {
	case change >= t.Critical:
		return SeverityCritical
	case change >= t.Major:
		return SeverityMajor
	case change >= t.Minor:
		return SeverityMinor
	}
	return ""
}

// RegressionThresholds configures DetectRegressions
type RegressionThresholds struct {
	Latency    RegressionThreshold
	ErrorRate  RegressionThreshold
	Throughput RegressionThreshold
}

// DefaultRegressionThresholds returns the thresholds used when none are configured
func DefaultRegressionThresholds() RegressionThresholds {
	return RegressionThresholds{
		Latency:    RegressionThreshold{Minor: 10, Major: 15, Critical: 30},
		ErrorRate:  RegressionThreshold{Minor: 1, Major: 5, Critical: 10},
		Throughput: RegressionThreshold{Minor: 15, Major: 25, Critical: 40},
	}
}

// Regression is one metric that got worse than in the baseline run
type Regression struct {
	Key      string   `json:"key"`
	Metric   string   `json:"metric"`
	Baseline float64  `json:"baseline"`
	Current  float64  `json:"current"`
	Change   float64  `json:"change"`
	Severity Severity `json:"severity"`
}

func (r Regression) String() string {
	switch r.Metric {
	case "error_rate":
		return fmt.Sprintf("%s regression in %s: error rate increased by %.1f points (%.1f%% -> %.1f%%)",
			r.Severity, r.Key, r.Change, r.Baseline, r.Current)
	case "throughput":
		return fmt.Sprintf("%s regression in %s: throughput decreased by %.1f%% (%.2f/s -> %.2f/s)",
			r.Severity, r.Key, r.Change, r.Baseline, r.Current)
	default:
		return fmt.Sprintf("%s regression in %s: P95 latency increased by %.1f%% (%.1fms -> %.1fms)",
			r.Severity, r.Key, r.Change, r.Baseline, r.Current)
	}
}

// DetectRegressions compares current with baseline metric by metric, matching
// them by scenario and concurrency. Results follow the order of current.
func (a *Analyzer) DetectRegressions(current, baseline []types.PerformanceMetric) []Regression {
	base := make(map[string]types.PerformanceMetric, len(baseline))
	for _, m := range baseline {
		if _, ok := base[m.Key()]; !ok {
			base[m.Key()] = m
		}
	}

	var out []Regression
	for _, cur := range current {
		prev, ok := base[cur.Key()]
		if !ok {
			continue
		}

		if prev.P95Ms > 0 {
			change := (cur.P95Ms - prev.P95Ms) / prev.P95Ms * 100
			if sev := a.regression.Latency.severity(change); sev != "" {
				out = append(out, Regression{cur.Key(), "p95_latency", prev.P95Ms, cur.P95Ms, round1(change), sev})
			}
		}

		if sev := a.regression.ErrorRate.severity(cur.ErrorRatePct - prev.ErrorRatePct); sev != "" {
			out = append(out, Regression{cur.Key(), "error_rate", prev.ErrorRatePct, cur.ErrorRatePct,
				round1(cur.ErrorRatePct - prev.ErrorRatePct), sev})
		}

		if prev.ThroughputPerSec > 0 {
			change := (prev.ThroughputPerSec - cur.ThroughputPerSec) / prev.ThroughputPerSec * 100
			if sev := a.regression.Throughput.severity(change); sev != "" {
				out = append(out, Regression{cur.Key(), "throughput", prev.ThroughputPerSec, cur.ThroughputPerSec, round1(change), sev})
			}
		}
	}
	return out
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
