package types

import (
	"fmt"
	"math"
	"time"
)

// PerformanceMetric is the aggregated view of one (scenario, concurrency level) pair.
// Values are built once by NewPerformanceMetric and never updated in place;
// a changed analysis produces a new value.
type PerformanceMetric struct {
	ScenarioName     string    `json:"scenario_name"`
	ConcurrentUsers  int       `json:"concurrent_users"`
	AvgMs            float64   `json:"avg_ms"`
	P90Ms            float64   `json:"p90_ms"`
	P95Ms            float64   `json:"p95_ms"`
	MinMs            float64   `json:"min_ms"`
	MaxMs            float64   `json:"max_ms"`
	ThroughputPerSec float64   `json:"throughput_per_sec"`
	ErrorRatePct     float64   `json:"error_rate_pct"`
	DurationSec      int       `json:"duration_sec"`
	SampleCount      int       `json:"sample_count"`
	Source           string    `json:"source,omitempty"`
	CapturedAt       time.Time `json:"captured_at"`
}

// NewPerformanceMetric validates m and returns it. The returned value satisfies
// min <= avg <= max, p90 <= p95 and 0 <= error rate <= 100.
func NewPerformanceMetric(m PerformanceMetric) (PerformanceMetric, error) {
	if err := m.Validate(); err != nil {
		return PerformanceMetric{}, err
	}
	return m, nil
}

// Validate checks the metric invariants.
func (m PerformanceMetric) Validate() error {
	for name, v := range map[string]float64{
		"avg": m.AvgMs, "p90": m.P90Ms, "p95": m.P95Ms, "min": m.MinMs,
		"max": m.MaxMs, "throughput": m.ThroughputPerSec, "error_rate": m.ErrorRatePct,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("metric %q: %s is not a finite number", m.ScenarioName, name)
		}
	}
	if m.ScenarioName == "" {
		return fmt.Errorf("metric scenario name is required")
	}
	if m.ConcurrentUsers <= 0 {
		return fmt.Errorf("metric %q: concurrent users must be positive, got %d", m.ScenarioName, m.ConcurrentUsers)
	}
	if m.MinMs > m.AvgMs || m.AvgMs > m.MaxMs {
		return fmt.Errorf("metric %q: expected min <= avg <= max, got %.2f/%.2f/%.2f", m.ScenarioName, m.MinMs, m.AvgMs, m.MaxMs)
	}
	if m.P90Ms > m.P95Ms {
		return fmt.Errorf("metric %q: p90 (%.2f) exceeds p95 (%.2f)", m.ScenarioName, m.P90Ms, m.P95Ms)
	}
	if m.ErrorRatePct < 0 || m.ErrorRatePct > 100 {
		return fmt.Errorf("metric %q: error rate %.2f outside [0, 100]", m.ScenarioName, m.ErrorRatePct)
	}
	if m.ThroughputPerSec < 0 {
		return fmt.Errorf("metric %q: negative throughput", m.ScenarioName)
	}
	return nil
}

// Key identifies the scenario/concurrency pair, e.g. "GET Masivo@10".
func (m PerformanceMetric) Key() string {
	return fmt.Sprintf("%s@%d", m.ScenarioName, m.ConcurrentUsers)
}
