// Package reports finds load-test reports rendered by a previous run and
// recovers their aggregate figures when the raw samples are gone.
package reports

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/perf-cascade/runner/metrics"
	"github.com/perf-cascade/runner/schema"
	"github.com/perf-cascade/runner/types"
)

// Kind identifies the report format
type Kind string

const (
	KindJMeterStatistics Kind = "jmeter-statistics"
	KindK6Summary        Kind = "k6-summary"
	// KindJMeterDashboard is an HTML dashboard without a readable statistics.json
	KindJMeterDashboard Kind = "jmeter-dashboard"
)

// maxDepth bounds how deep report directories are searched
const maxDepth = 4

// Aggregate is the summary row recovered from a report
type Aggregate struct {
	AvgMs            float64
	MinMs            float64
	MaxMs            float64
	P90Ms            float64
	P95Ms            float64
	ThroughputPerSec float64
	ErrorRatePct     float64
	SampleCount      int
}

// Report is one detected report
type Report struct {
	Kind     Kind
	Path     string
	Scenario string
	Users    int
	// Aggregate is nil when the report carries no usable figures
	Aggregate *Aggregate
	// Problems lists schema or parse issues that made Aggregate unusable
	Problems []string
	ModTime  time.Time
}

// Metric converts the aggregate into a PerformanceMetric
func (r Report) Metric() (types.PerformanceMetric, error) {
	if r.Aggregate == nil {
		return types.PerformanceMetric{}, fmt.Errorf("report %s has no aggregate", r.Path)
	}
	a := r.Aggregate

	duration := 1
	if a.ThroughputPerSec > 0 && a.SampleCount > 0 {
		duration = int(math.Max(1, math.Round(float64(a.SampleCount)/a.ThroughputPerSec)))
	}

	return types.NewPerformanceMetric(types.PerformanceMetric{
		ScenarioName:     r.Scenario,
		ConcurrentUsers:  r.Users,
		AvgMs:            a.AvgMs,
		P90Ms:            a.P90Ms,
		P95Ms:            a.P95Ms,
		MinMs:            a.MinMs,
		MaxMs:            a.MaxMs,
		ThroughputPerSec: a.ThroughputPerSec,
		ErrorRatePct:     a.ErrorRatePct,
		DurationSec:      duration,
		SampleCount:      a.SampleCount,
		Source:           r.Path,
		CapturedAt:       r.ModTime.UTC(),
	})
}

// Detector scans report directories
type Detector struct {
	rule metrics.ScenarioRule
	log  logrus.FieldLogger
}

// NewDetector creates a detector naming scenarios with rule
func NewDetector(rule metrics.ScenarioRule, log logrus.FieldLogger) *Detector {
	return &Detector{rule: rule, log: log.WithField("component", "reports")}
}

// Detect returns the reports found under dirs, ordered by path. Missing
// directories are skipped.
func (d *Detector) Detect(dirs []string) ([]Report, error) {
	var found []Report
	seen := make(map[string]bool)

	for _, root := range dirs {
		if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
			continue
		}

		err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				d.log.WithError(err).WithField("path", path).Debug("Skipping unreadable path")
				return nil
			}
			if entry.IsDir() {
				if depth(root, path) > maxDepth {
					return filepath.SkipDir
				}
				return nil
			}

			kind, ok := kindOf(path, entry.Name())
			if !ok || seen[filepath.Dir(path)+string(kind)] {
				return nil
			}
			seen[filepath.Dir(path)+string(kind)] = true

			report := d.inspect(root, path, kind)
			if info, err := entry.Info(); err == nil {
				report.ModTime = info.ModTime()
			}
			found = append(found, report)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan report directory %s: %w", root, err)
		}
	}

	found = dropShadowedDashboards(found)
	sort.Slice(found, func(i, j int) bool { return found[i].Path < found[j].Path })
	return found, nil
}

func (d *Detector) inspect(root, path string, kind Kind) Report {
	report := Report{Kind: kind, Path: path}
	report.Scenario, report.Users = d.rule.Derive(scenarioSource(root, path))

	log := d.log.WithFields(logrus.Fields{"path": path, "kind": kind})

	var schemaName string
	var parse func([]byte) (*Aggregate, error)
	switch kind {
	case KindJMeterStatistics:
		schemaName, parse = schema.JMeterStatistics, parseJMeterStatistics
	case KindK6Summary:
		schemaName, parse = schema.K6Summary, parseK6Summary
	default:
		return report
	}

	data, err := os.ReadFile(path)
	if err != nil {
		report.Problems = append(report.Problems, err.Error())
		return report
	}

	valid, problems, err := schema.Validate(schemaName, data)
	if err != nil {
		report.Problems = append(report.Problems, err.Error())
		return report
	}
	if !valid {
		log.WithField("problems", len(problems)).Warn("Report does not match its schema")
		report.Problems = append(report.Problems, problems...)
		return report
	}

	agg, err := parse(data)
	if err != nil {
		report.Problems = append(report.Problems, err.Error())
		return report
	}
	report.Aggregate = agg
	return report
}

// kindOf recognises report files by name
func kindOf(path, name string) (Kind, bool) {
	switch strings.ToLower(name) {
	case "statistics.json":
		return KindJMeterStatistics, true
	case "summary.json":
		return KindK6Summary, true
	case "index.html":
		// JMeter dashboards ship a content/ directory next to index.html
		if st, err := os.Stat(filepath.Join(filepath.Dir(path), "content")); err == nil && st.IsDir() {
			return KindJMeterDashboard, true
		}
	}
	return "", false
}

// dropShadowedDashboards removes HTML entries whose directory also has statistics.json
func dropShadowedDashboards(reports []Report) []Report {
	withStats := make(map[string]bool)
	for _, r := range reports {
		if r.Kind == KindJMeterStatistics {
			withStats[filepath.Dir(r.Path)] = true
		}
	}
	out := reports[:0]
	for _, r := range reports {
		if r.Kind == KindJMeterDashboard && withStats[filepath.Dir(r.Path)] {
			continue
		}
		out = append(out, r)
	}
	return out
}

// scenarioSource names a report after its directory relative to the scan root,
// e.g. reports/get_masivo_50u/statistics.json -> "get_masivo_50u"
func scenarioSource(root, path string) string {
	dir := filepath.Dir(path)
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == "." {
		return filepath.Base(dir)
	}
	return strings.ReplaceAll(filepath.ToSlash(rel), "/", "_")
}

func depth(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return len(strings.Split(filepath.ToSlash(rel), "/"))
}
