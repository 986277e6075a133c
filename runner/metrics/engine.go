package metrics

import (
	"fmt"
	"sort"
	"time"

	"github.com/perf-cascade/runner/types"
)

// Engine turns raw samples into a PerformanceMetric
type Engine struct {
	rule ScenarioRule
	calc *Calculator
	now  func() time.Time
}

// NewEngine creates a metrics engine using rule to name scenarios
func NewEngine(rule ScenarioRule) *Engine {
	return &Engine{
		rule: rule,
		calc: NewCalculator(),
		now:  time.Now,
	}
}

// Rule returns the scenario rule used by the engine
func (e *Engine) Rule() ScenarioRule {
	return e.rule
}

// ComputeMetric aggregates samples read from sourceName. Percentiles use the
// nearest-rank method; throughput is samples per wall-clock second of the
// sample window, which is never shorter than one second.
func (e *Engine) ComputeMetric(samples []types.SampleRecord, sourceName string) (types.PerformanceMetric, error) {
	if len(samples) == 0 {
		return types.PerformanceMetric{}, types.ErrEmptyInput
	}

	scenario, users := e.rule.Derive(sourceName)
	return e.compute(samples, sourceName, scenario, users)
}

// ComputeLabeled is ComputeMetric with an explicit scenario and user count,
// used when the caller launched the run and already knows both
func (e *Engine) ComputeLabeled(samples []types.SampleRecord, sourceName, scenario string, users int) (types.PerformanceMetric, error) {
	if len(samples) == 0 {
		return types.PerformanceMetric{}, types.ErrEmptyInput
	}
	return e.compute(samples, sourceName, scenario, users)
}

func (e *Engine) compute(samples []types.SampleRecord, sourceName, scenario string, users int) (types.PerformanceMetric, error) {
	elapsed := make([]float64, len(samples))
	var (
		sum    float64
		failed int
		minTs  = samples[0].TimestampMs
		maxTs  = samples[0].TimestampMs
	)
	for i, s := range samples {
		elapsed[i] = float64(s.ElapsedMs)
		sum += elapsed[i]
		if !s.Success {
			failed++
		}
		if s.TimestampMs < minTs {
			minTs = s.TimestampMs
		}
		if s.TimestampMs > maxTs {
			maxTs = s.TimestampMs
		}
	}
	sort.Float64s(elapsed)

	n := len(samples)
	durationSec := int((maxTs - minTs) / 1000)
	if durationSec < 1 {
		durationSec = 1
	}

	metric, err := types.NewPerformanceMetric(types.PerformanceMetric{
		ScenarioName:     scenario,
		ConcurrentUsers:  users,
		AvgMs:            sum / float64(n),
		P90Ms:            e.calc.PercentileSorted(elapsed, 90),
		P95Ms:            e.calc.PercentileSorted(elapsed, 95),
		MinMs:            elapsed[0],
		MaxMs:            elapsed[n-1],
		ThroughputPerSec: float64(n) / float64(durationSec),
		ErrorRatePct:     100 * float64(failed) / float64(n),
		DurationSec:      durationSec,
		SampleCount:      n,
		Source:           sourceName,
		CapturedAt:       e.now().UTC(),
	})
	if err != nil {
		return types.PerformanceMetric{}, fmt.Errorf("failed to build metric for %s: %w", sourceName, err)
	}
	return metric, nil
}

// Latencies returns the elapsed times of samples in milliseconds
func Latencies(samples []types.SampleRecord) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s.ElapsedMs)
	}
	return out
}
