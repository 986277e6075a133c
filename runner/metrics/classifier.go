package metrics

import (
	"fmt"

	"github.com/perf-cascade/runner/config"
	"github.com/perf-cascade/runner/types"
)

// Classifier assigns a Tier from an ordered threshold table. Rows are checked
// top-down and the first one whose limits hold wins; a metric that fits no row
// is TierUnacceptable.
type Classifier struct {
	rows []config.ThresholdConfig
}

// NewClassifier validates the table: tiers strictly increasing, limits non-decreasing
func NewClassifier(rows []config.ThresholdConfig) (*Classifier, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("threshold table is empty")
	}
	for i, row := range rows {
		if row.Tier >= types.TierUnacceptable {
			return nil, fmt.Errorf("threshold row %d: %s cannot have limits", i, row.Tier)
		}
		if row.MaxAvgMs < 0 || row.MaxErrorPct < 0 {
			return nil, fmt.Errorf("threshold row %d: limits must not be negative", i)
		}
		if i == 0 {
			continue
		}
		prev := rows[i-1]
		if row.Tier <= prev.Tier {
			return nil, fmt.Errorf("threshold row %d: tier %s does not follow %s", i, row.Tier, prev.Tier)
		}
		if row.MaxAvgMs < prev.MaxAvgMs || row.MaxErrorPct < prev.MaxErrorPct {
			return nil, fmt.Errorf("threshold row %d: limits for %s are tighter than for %s", i, row.Tier, prev.Tier)
		}
	}

	table := make([]config.ThresholdConfig, len(rows))
	copy(table, rows)
	return &Classifier{rows: table}, nil
}

// DefaultClassifier uses the built-in table
func DefaultClassifier() *Classifier {
	c, err := NewClassifier(config.DefaultThresholds())
	if err != nil {
		panic(err)
	}
	return c
}

// Classify returns the tier of m
func (c *Classifier) Classify(m types.PerformanceMetric) types.Tier {
	for _, row := range c.rows {
		if m.AvgMs <= row.MaxAvgMs && m.ErrorRatePct <= row.MaxErrorPct {
			return row.Tier
		}
	}
	return types.TierUnacceptable
}

// Score classifies every metric, preserving order
func (c *Classifier) Score(metrics []types.PerformanceMetric) []types.ScoredMetric {
	out := make([]types.ScoredMetric, len(metrics))
	for i, m := range metrics {
		out[i] = types.ScoredMetric{PerformanceMetric: m, Tier: c.Classify(m)}
	}
	return out
}
