package metrics

import (
	"math"
	"sort"
)

// Calculator provides the statistics used by the metrics engine
type Calculator struct{}

// NewCalculator creates a new calculator
func NewCalculator() *Calculator {
	return &Calculator{}
}

// Percentile returns the nearest-rank percentile of values. The input is not modified.
func (c *Calculator) Percentile(values []float64, percentile float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	return c.PercentileSorted(sorted, percentile)
}

// PercentileSorted returns the nearest-rank percentile of an ascending slice:
// the element at index ceil(p/100*n)-1, clamped to the slice bounds.
func (c *Calculator) PercentileSorted(sorted []float64, percentile float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}

	// p*n/100 keeps integral ranks exact, e.g. 95*20/100 == 19
	idx := int(math.Ceil(percentile*float64(n)/100.0)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

// Mean calculates the arithmetic mean
func (c *Calculator) Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Variance calculates the sample variance of values
func (c *Calculator) Variance(values []float64, mean float64) float64 {
	if len(values) <= 1 {
		return 0
	}

	var sum float64
	for _, v := range values {
		diff := v - mean
		sum += diff * diff
	}

	return sum / float64(len(values)-1)
}

// StdDev calculates the sample standard deviation
func (c *Calculator) StdDev(values []float64) float64 {
	return math.Sqrt(c.Variance(values, c.Mean(values)))
}

// CoeffVar calculates the coefficient of variation in percent
func (c *Calculator) CoeffVar(mean, stdDev float64) float64 {
	if mean == 0 {
		return 0
	}
	return (stdDev / mean) * 100
}
