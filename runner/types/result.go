package types

import (
	"fmt"
	"time"
)

// Status is the overall outcome of a pipeline run. Lower values are more severe,
// so the overall status of a run is the minimum over its stages.
type Status int

const (
	StatusFailed Status = iota
	StatusPartial
	StatusSuccessWithWarnings
	StatusSuccess
)

var statusNames = [...]string{"FAILED", "PARTIAL", "SUCCESS_WITH_WARNINGS", "SUCCESS"}

func (s Status) String() string {
	if s < StatusFailed || s > StatusSuccess {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(text []byte) error {
	for i, n := range statusNames {
		if n == string(text) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", string(text))
}

// ExitCode maps the status to the process exit code used by the CLI.
func (s Status) ExitCode() int {
	switch s {
	case StatusSuccess:
		return 0
	case StatusSuccessWithWarnings:
		return 1
	case StatusPartial:
		return 2
	default:
		return 3
	}
}

// MinStatus returns the most severe of the given statuses.
func MinStatus(first Status, rest ...Status) Status {
	min := first
	for _, s := range rest {
		if s < min {
			min = s
		}
	}
	return min
}

// Provenance tells where a set of performance metrics came from.
type Provenance string

const (
	ProvenanceReal          Provenance = "real"
	ProvenanceReconstructed Provenance = "reconstructed"
	ProvenanceFresh         Provenance = "fresh"
	ProvenanceSimulated     Provenance = "simulated"
)

// IsMeasured reports whether the metrics were computed from actual samples.
func (p Provenance) IsMeasured() bool {
	return p == ProvenanceReal || p == ProvenanceFresh
}

// Describe returns the user-facing wording for the provenance.
func (p Provenance) Describe() string {
	switch p {
	case ProvenanceReal:
		return "real samples from existing result files"
	case ProvenanceFresh:
		return "real samples from a fresh load-tool run"
	case ProvenanceReconstructed:
		return "approximation reconstructed from previously rendered reports"
	case ProvenanceSimulated:
		return "SIMULATED metrics (no real data available)"
	default:
		return "unknown provenance"
	}
}

// FunctionalSummary is the best-effort outcome of the functional test run.
type FunctionalSummary struct {
	Executed bool   `json:"executed"`
	Passed   bool   `json:"passed"`
	Total    int    `json:"total"`
	Failures int    `json:"failures"`
	Errors   int    `json:"errors"`
	Skipped  int    `json:"skipped"`
	TimedOut bool   `json:"timed_out"`
	ExitCode int    `json:"exit_code"`
	Message  string `json:"message"`
}

// ScoredMetric pairs a metric with its tier.
type ScoredMetric struct {
	PerformanceMetric
	Tier Tier `json:"tier"`
}

// PerformanceSummary is the performance section of an AnalysisResult.
type PerformanceSummary struct {
	Provenance Provenance       `json:"provenance"`
	Notes      []string         `json:"notes,omitempty"`
	Metrics    []ScoredMetric   `json:"metrics"`
	Comparison ComparisonReport `json:"comparison"`
}

// EnvironmentInfo captures the host the analysis ran on.
type EnvironmentInfo struct {
	OS            string  `json:"os"`
	Architecture  string  `json:"architecture"`
	Hostname      string  `json:"hostname,omitempty"`
	CPUModel      string  `json:"cpu_model,omitempty"`
	CPUCores      int     `json:"cpu_cores"`
	TotalMemoryGB float64 `json:"total_memory_gb"`
	GoVersion     string  `json:"go_version"`
	LoadTool      string  `json:"load_tool,omitempty"`
}

// StageReport is the compiled view of one pipeline stage.
type StageReport struct {
	Stage     string        `json:"stage"`
	Succeeded bool          `json:"succeeded"`
	Status    Status        `json:"status"`
	Message   string        `json:"message"`
	Duration  time.Duration `json:"duration_ns"`
}

// AnalysisResult is the terminal pipeline output. It is immutable once returned.
type AnalysisResult struct {
	RunID           string             `json:"run_id"`
	Status          Status             `json:"status"`
	Functional      FunctionalSummary  `json:"functional"`
	Performance     PerformanceSummary `json:"performance"`
	Stages          []StageReport      `json:"stages"`
	Recommendations []string           `json:"recommendations"`
	Artifacts       []string           `json:"artifacts"`
	Environment     EnvironmentInfo    `json:"environment"`
	ExecutedAt      time.Time          `json:"executed_at"`
}
