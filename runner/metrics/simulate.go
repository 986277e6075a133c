package metrics

import (
	"math"
	"strings"
	"time"

	"github.com/perf-cascade/runner/config"
	"github.com/perf-cascade/runner/types"
)

// SourceSimulated tags metrics produced by Simulate
const SourceSimulated = "simulated"

const simulatedDurationSec = 60

// Simulator derives plausible metrics from a scenario profile. The output
// depends only on its inputs, CapturedAt included.
type Simulator struct {
	cfg config.SimulationConfig
}

// NewSimulator creates a simulator; an empty configuration uses the defaults
func NewSimulator(cfg config.SimulationConfig) *Simulator {
	if len(cfg.Profiles) == 0 && cfg.Default == (config.ProfileConfig{}) {
		cfg = config.DefaultSimulation()
	}
	return &Simulator{cfg: cfg}
}

// Profile returns the profile for scenario: the first whose Match is a
// case-insensitive substring of the name, else the default profile
func (s *Simulator) Profile(scenario string) config.ProfileConfig {
	lower := strings.ToLower(scenario)
	for _, p := range s.cfg.Profiles {
		if p.Match != "" && strings.Contains(lower, strings.ToLower(p.Match)) {
			return p
		}
	}
	return s.cfg.Default
}

// Simulate returns the metric for scenario at the given concurrency level
func (s *Simulator) Simulate(scenario string, users int) types.PerformanceMetric {
	if users <= 0 {
		users = 1
	}
	if scenario == "" {
		scenario = "default"
	}

	p := s.Profile(scenario)
	avg := p.BaseAvgMs + p.PerUserMs*float64(users)
	if avg < 1 {
		avg = 1
	}
	errPct := math.Min(100, math.Max(0, p.BaseErrorPct+p.PerUserErrorPct*float64(users)))
	throughput := float64(users) * 1000 / avg

	return types.PerformanceMetric{
		ScenarioName:     scenario,
		ConcurrentUsers:  users,
		AvgMs:            round2(avg),
		P90Ms:            round2(avg * 1.6),
		P95Ms:            round2(avg * 1.85),
		MinMs:            round2(avg * 0.35),
		MaxMs:            round2(avg * 3),
		ThroughputPerSec: round2(throughput),
		ErrorRatePct:     round2(errPct),
		DurationSec:      simulatedDurationSec,
		SampleCount:      int(throughput * simulatedDurationSec),
		Source:           SourceSimulated,
		CapturedAt:       time.Unix(0, 0).UTC(),
	}
}

// SimulateAll simulates every configured scenario at every users level
func (s *Simulator) SimulateAll(scenarios []config.ScenarioConfig) []types.PerformanceMetric {
	var out []types.PerformanceMetric
	for _, sc := range scenarios {
		for _, u := range sc.Users {
			out = append(out, s.Simulate(sc.Name, u))
		}
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
