// Package evidence persists the artifacts of an analysis run so they can be
// attached to a release or a CI job.
package evidence

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/perf-cascade/runner/telemetry"
	"github.com/perf-cascade/runner/types"
)

// File names written by FileWriter
const (
	ResultFile     = "analysis-result.json"
	MetricsFile    = "metrics.csv"
	ComparisonFile = "comparison.txt"
	SummaryFile    = "summary.md"
	ReportFile     = "report.html"
	FunctionalLog  = "functional-output.log"
	TelemetryFile  = "pipeline.prom"
)

// Bundle is what a run hands to the evidence collaborator
type Bundle struct {
	RunID            string
	Performance      types.PerformanceSummary
	Functional       types.FunctionalSummary
	FunctionalOutput string
	// Comparison is the rendered comparison table
	Comparison  string
	Environment types.EnvironmentInfo
}

// Collaborator generates evidence for a run and returns the paths it wrote
type Collaborator interface {
	Generate(ctx context.Context, bundle Bundle) ([]string, error)
}

// FileWriter writes evidence files into a directory
type FileWriter struct {
	dir      string
	gatherer prometheus.Gatherer
	log      logrus.FieldLogger
}

// NewFileWriter creates a writer for dir. gatherer may be nil, in which case
// no telemetry textfile is written.
func NewFileWriter(dir string, gatherer prometheus.Gatherer, log logrus.FieldLogger) *FileWriter {
	return &FileWriter{
		dir:      dir,
		gatherer: gatherer,
		log:      log.WithField("component", "evidence"),
	}
}

// Dir returns the evidence directory
func (w *FileWriter) Dir() string {
	return w.dir
}

// Generate writes the metric table, the rendered comparison, a markdown summary
// and the captured functional output
func (w *FileWriter) Generate(ctx context.Context, bundle Bundle) ([]string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create evidence directory: %w", err)
	}

	steps := []struct {
		name  string
		write func(string, Bundle) error
		skip  bool
	}{
		{MetricsFile, writeMetricsCSV, false},
		{ComparisonFile, writeComparison, false},
		{SummaryFile, writeSummary, false},
		{ReportFile, writeHTMLReport, false},
		{FunctionalLog, writeFunctionalLog, bundle.FunctionalOutput == ""},
	}

	var written []string
	for _, step := range steps {
		if step.skip {
			continue
		}
		if err := ctx.Err(); err != nil {
			return written, fmt.Errorf("evidence generation interrupted: %w", err)
		}
		path := filepath.Join(w.dir, step.name)
		if err := step.write(path, bundle); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", step.name, err)
		}
		written = append(written, path)
	}

	w.log.WithFields(logrus.Fields{
		"run_id": bundle.RunID,
		"dir":    w.dir,
		"files":  len(written),
	}).Info("Evidence generated")

	return written, nil
}

// Name identifies the writer as a result sink
func (w *FileWriter) Name() string {
	return "evidence-files"
}

// Save writes the final result as JSON and, when a gatherer is set, the
// pipeline telemetry. It returns the path of the result file.
func (w *FileWriter) Save(_ context.Context, result types.AnalysisResult) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create evidence directory: %w", err)
	}

	path := filepath.Join(w.dir, ResultFile)
	if err := writeJSON(path, result); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", ResultFile, err)
	}

	if w.gatherer != nil {
		if err := telemetry.WriteTextfile(w.gatherer, filepath.Join(w.dir, TelemetryFile)); err != nil {
			return path, fmt.Errorf("failed to write %s: %w", TelemetryFile, err)
		}
	}
	return path, nil
}

func writeJSON(path string, v any) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func writeMetricsCSV(path string, bundle Bundle) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{
		"Scenario", "Users", "Avg (ms)", "P90 (ms)", "P95 (ms)", "Min (ms)", "Max (ms)",
		"Throughput (req/s)", "Error Rate (%)", "Duration (s)", "Samples", "Tier", "Provenance", "Source",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, m := range bundle.Performance.Metrics {
		row := []string{
			m.ScenarioName,
			strconv.Itoa(m.ConcurrentUsers),
			fmt.Sprintf("%.2f", m.AvgMs),
			fmt.Sprintf("%.2f", m.P90Ms),
			fmt.Sprintf("%.2f", m.P95Ms),
			fmt.Sprintf("%.2f", m.MinMs),
			fmt.Sprintf("%.2f", m.MaxMs),
			fmt.Sprintf("%.2f", m.ThroughputPerSec),
			fmt.Sprintf("%.2f", m.ErrorRatePct),
			strconv.Itoa(m.DurationSec),
			strconv.Itoa(m.SampleCount),
			m.Tier.String(),
			string(bundle.Performance.Provenance),
			m.Source,
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeComparison(path string, bundle Bundle) error {
	text := bundle.Comparison
	if !bundle.Performance.Provenance.IsMeasured() {
		text = "NOTE: " + bundle.Performance.Provenance.Describe() + "\n\n" + text
	}
	return os.WriteFile(path, []byte(text), 0o644)
}

func writeFunctionalLog(path string, bundle Bundle) error {
	return os.WriteFile(path, []byte(bundle.FunctionalOutput), 0o644)
}

func writeSummary(path string, bundle Bundle) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	fmt.Fprintf(file, "# Performance Analysis Summary\n\n")
	fmt.Fprintf(file, "**Run:** %s\n", bundle.RunID)
	fmt.Fprintf(file, "**Data source:** %s\n\n", bundle.Performance.Provenance.Describe())

	env := bundle.Environment
	fmt.Fprintf(file, "## Environment\n\n")
	fmt.Fprintf(file, "- **OS:** %s %s\n", env.OS, env.Architecture)
	fmt.Fprintf(file, "- **CPU:** %s (%d cores)\n", env.CPUModel, env.CPUCores)
	fmt.Fprintf(file, "- **Memory:** %.1f GB\n", env.TotalMemoryGB)
	if env.LoadTool != "" {
		fmt.Fprintf(file, "- **Load tool:** %s\n", env.LoadTool)
	}
	fmt.Fprintf(file, "\n")

	f := bundle.Functional
	fmt.Fprintf(file, "## Functional Tests\n\n")
	if f.Executed {
		fmt.Fprintf(file, "%d run, %d failures, %d errors, %d skipped (passed: %t)\n\n", f.Total, f.Failures, f.Errors, f.Skipped, f.Passed)
	} else {
		fmt.Fprintf(file, "Not executed: %s\n\n", f.Message)
	}

	fmt.Fprintf(file, "## Key Metrics\n\n")
	fmt.Fprintf(file, "| Scenario | Users | Avg | P95 | Throughput | Errors | Tier |\n")
	fmt.Fprintf(file, "|----------|-------|-----|-----|------------|--------|------|\n")
	for _, m := range bundle.Performance.Metrics {
		fmt.Fprintf(file, "| %s | %d | %.1fms | %.1fms | %.1f req/s | %.2f%% | %s |\n",
			m.ScenarioName, m.ConcurrentUsers, m.AvgMs, m.P95Ms, m.ThroughputPerSec, m.ErrorRatePct, m.Tier)
	}

	if len(bundle.Performance.Notes) > 0 {
		fmt.Fprintf(file, "\n## Notes\n\n")
		for _, n := range bundle.Performance.Notes {
			fmt.Fprintf(file, "- %s\n", n)
		}
	}

	return nil
}
