package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/perf-cascade/runner/storage"
)

// ErrInsufficientData is returned when the stored history is too short to fit a trend
var ErrInsufficientData = errors.New("insufficient data points for trend analysis")

// MetricHistory is the read side of the result store the analyzer needs
type MetricHistory interface {
	QueryMetrics(ctx context.Context, q storage.MetricQuery) ([]storage.MetricPoint, error)
}

// Metric names accepted by the analyzer
const (
	MetricAvg        = "avg_ms"
	MetricP90        = "p90_ms"
	MetricP95        = "p95_ms"
	MetricMax        = "max_ms"
	MetricThroughput = "throughput_per_sec"
	MetricErrorRate  = "error_rate_pct"
)

var extractors = map[string]func(storage.MetricPoint) float64{
	MetricAvg:        func(p storage.MetricPoint) float64 { return p.AvgMs },
	MetricP90:        func(p storage.MetricPoint) float64 { return p.P90Ms },
	MetricP95:        func(p storage.MetricPoint) float64 { return p.P95Ms },
	MetricMax:        func(p storage.MetricPoint) float64 { return p.MaxMs },
	MetricThroughput: func(p storage.MetricPoint) float64 { return p.ThroughputPerSec },
	MetricErrorRate:  func(p storage.MetricPoint) float64 { return p.ErrorRatePct },
}

// higherIsBetter reports whether an increasing series is an improvement
func higherIsBetter(metric string) bool {
	return metric == MetricThroughput
}

// TrendConfig tunes the analyzer
type TrendConfig struct {
	MinDataPoints      int     `yaml:"min_data_points"`
	MaxDataPoints      int     `yaml:"max_data_points"`
	MovingAvgWindow    int     `yaml:"moving_avg_window"`
	AnomalySensitivity float64 `yaml:"anomaly_sensitivity"`
	// StableSlopePct is the per-run change, as a percentage of the mean,
	// below which a series counts as stable
	StableSlopePct float64 `yaml:"stable_slope_pct"`
}

// DefaultTrendConfig returns the analyzer defaults
func DefaultTrendConfig() TrendConfig {
	return TrendConfig{
		MinDataPoints:      3,
		MaxDataPoints:      200,
		MovingAvgWindow:    3,
		AnomalySensitivity: 2.0,
		StableSlopePct:     1.0,
	}
}

// TrendRequest selects the series to analyze
type TrendRequest struct {
	Scenario string
	Users    int
	Metric   string
	Since    time.Time
}

// TrendData is the analyzed series of one metric
type TrendData struct {
	Scenario     string               `json:"scenario"`
	Users        int                  `json:"users,omitempty"`
	Metric       string               `json:"metric"`
	DataPoints   []TrendDataPoint     `json:"data_points"`
	Statistics   TrendStatistics      `json:"statistics"`
	Direction    TrendDirection       `json:"direction"`
	MovingAvg    []MovingAveragePoint `json:"moving_average"`
	Anomalies    []AnomalyPoint       `json:"anomalies"`
	ChangePoints []ChangePoint        `json:"change_points"`
	Insights     []string             `json:"insights"`
}

// TrendDataPoint is one stored run's value, oldest first
type TrendDataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	RunID     string    `json:"run_id"`
	Users     int       `json:"users"`
	Measured  bool      `json:"measured"`
	IsAnomaly bool      `json:"is_anomaly"`
}

// TrendStatistics contains the descriptive statistics of a series
type TrendStatistics struct {
	Count            int                `json:"count"`
	Mean             float64            `json:"mean"`
	Median           float64            `json:"median"`
	StandardDev      float64            `json:"standard_deviation"`
	Min              float64            `json:"min"`
	Max              float64            `json:"max"`
	Percentiles      map[string]float64 `json:"percentiles"`
	LinearRegression LinearRegression   `json:"linear_regression"`
}

// LinearRegression is a least-squares fit over the run index
type LinearRegression struct {
	Slope       float64 `json:"slope"`
	Intercept   float64 `json:"intercept"`
	RSquared    float64 `json:"r_squared"`
	Significant bool    `json:"significant"`
	Equation    string  `json:"equation"`
}

// TrendDirection represents the overall direction and strength of a trend
type TrendDirection struct {
	Direction  string  `json:"direction"` // improving, degrading, stable
	Strength   string  `json:"strength"`  // weak, moderate, strong, very_strong
	Confidence float64 `json:"confidence"`
	Slope      float64 `json:"slope"`
	SlopePct   float64 `json:"slope_pct"`
	Volatility float64 `json:"volatility"`
}

// MovingAveragePoint represents a single moving average calculation
type MovingAveragePoint struct {
	Timestamp     time.Time `json:"timestamp"`
	Value         float64   `json:"value"`
	MovingAverage float64   `json:"moving_average"`
	UpperBound    float64   `json:"upper_bound"`
	LowerBound    float64   `json:"lower_bound"`
}

// AnomalyPoint represents a detected anomaly
type AnomalyPoint struct {
	Timestamp      time.Time `json:"timestamp"`
	Value          float64   `json:"value"`
	ExpectedValue  float64   `json:"expected_value"`
	DeviationScore float64   `json:"deviation_score"`
	Severity       string    `json:"severity"`
	RunID          string    `json:"run_id"`
}

// ChangePoint marks a level shift between two adjacent windows
type ChangePoint struct {
	Timestamp   time.Time `json:"timestamp"`
	RunID       string    `json:"run_id"`
	Magnitude   float64   `json:"magnitude_pct"`
	Description string    `json:"description"`
}

// TrendAnalyzer fits trends over the stored metric history of a scenario
type TrendAnalyzer struct {
	history MetricHistory
	config  TrendConfig
	log     logrus.FieldLogger
}

// NewTrendAnalyzer creates an analyzer reading from history. Zero config
// fields fall back to the defaults.
func NewTrendAnalyzer(history MetricHistory, cfg TrendConfig, log logrus.FieldLogger) *TrendAnalyzer {
	def := DefaultTrendConfig()
	if cfg.MinDataPoints < 2 {
		cfg.MinDataPoints = def.MinDataPoints
	}
	if cfg.MaxDataPoints <= 0 {
		cfg.MaxDataPoints = def.MaxDataPoints
	}
	if cfg.MovingAvgWindow <= 0 {
		cfg.MovingAvgWindow = def.MovingAvgWindow
	}
	if cfg.AnomalySensitivity <= 0 {
		cfg.AnomalySensitivity = def.AnomalySensitivity
	}
	if cfg.StableSlopePct <= 0 {
		cfg.StableSlopePct = def.StableSlopePct
	}
	return &TrendAnalyzer{
		history: history,
		config:  cfg,
		log:     log.WithField("component", "trend-analyzer"),
	}
}

// ValidMetric reports whether metric names a series the analyzer can extract
func ValidMetric(metric string) bool {
	_, ok := extractors[metric]
	return ok
}

// CalculateTrend loads the history selected by req and analyzes it
func (ta *TrendAnalyzer) CalculateTrend(ctx context.Context, req TrendRequest) (*TrendData, error) {
	if req.Metric == "" {
		req.Metric = MetricAvg
	}
	extract, ok := extractors[req.Metric]
	if !ok {
		return nil, fmt.Errorf("unknown metric %q", req.Metric)
	}

	points, err := ta.history.QueryMetrics(ctx, storage.MetricQuery{
		Scenario: req.Scenario,
		Users:    req.Users,
		Since:    req.Since,
		Limit:    ta.config.MaxDataPoints,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get metric history: %w", err)
	}

	// history arrives newest first
	series := make([]TrendDataPoint, 0, len(points))
	for i := len(points) - 1; i >= 0; i-- {
		p := points[i]
		series = append(series, TrendDataPoint{
			Timestamp: p.CapturedAt,
			Value:     extract(p),
			RunID:     p.RunID,
			Users:     p.ConcurrentUsers,
			Measured:  p.Provenance.IsMeasured(),
		})
	}

	if len(series) < ta.config.MinDataPoints {
		return nil, fmt.Errorf("%w: need at least %d, got %d", ErrInsufficientData, ta.config.MinDataPoints, len(series))
	}

	trend := ta.Analyze(series, req.Metric)
	trend.Scenario = req.Scenario
	trend.Users = req.Users

	ta.log.WithFields(logrus.Fields{
		"scenario":  req.Scenario,
		"metric":    req.Metric,
		"points":    len(series),
		"direction": trend.Direction.Direction,
		"anomalies": len(trend.Anomalies),
	}).Debug("Trend analysis completed")

	return trend, nil
}

// Analyze computes the trend of an ordered series without touching storage
func (ta *TrendAnalyzer) Analyze(series []TrendDataPoint, metric string) *TrendData {
	values := make([]float64, len(series))
	for i, p := range series {
		values[i] = p.Value
	}

	stats := describe(values)
	volatility := 0.0
	if stats.Mean != 0 {
		volatility = stats.StandardDev / math.Abs(stats.Mean)
	}

	trend := &TrendData{
		Metric:       metric,
		DataPoints:   series,
		Statistics:   stats,
		Direction:    ta.direction(stats, volatility, metric, len(series)),
		MovingAvg:    movingAverage(series, ta.config.MovingAvgWindow),
		Anomalies:    ta.anomalies(series, stats),
		ChangePoints: changePoints(series, ta.config.MovingAvgWindow),
	}
	for _, a := range trend.Anomalies {
		for i := range trend.DataPoints {
			if trend.DataPoints[i].RunID == a.RunID {
				trend.DataPoints[i].IsAnomaly = true
			}
		}
	}
	trend.Insights = insights(trend)
	return trend
}

func (ta *TrendAnalyzer) direction(stats TrendStatistics, volatility float64, metric string, n int) TrendDirection {
	reg := stats.LinearRegression
	slopePct := 0.0
	if stats.Mean != 0 {
		slopePct = reg.Slope / math.Abs(stats.Mean) * 100
	}

	dir := "stable"
	if math.Abs(slopePct) >= ta.config.StableSlopePct {
		if (reg.Slope > 0) == higherIsBetter(metric) {
			dir = "improving"
		} else {
			dir = "degrading"
		}
	}

	score := reg.RSquared * (1 - math.Min(volatility, 1))
	strength := "weak"
	switch {
	case score > 0.8:
		strength = "very_strong"
	case score > 0.6:
		strength = "strong"
	case score > 0.4:
		strength = "moderate"
	}

	dataQuality := math.Min(float64(n)/20.0, 1.0)
	confidence := (dataQuality + reg.RSquared + (1 - math.Min(volatility, 1))) / 3.0

	return TrendDirection{
		Direction:  dir,
		Strength:   strength,
		Confidence: confidence,
		Slope:      reg.Slope,
		SlopePct:   slopePct,
		Volatility: volatility,
	}
}

func (ta *TrendAnalyzer) anomalies(series []TrendDataPoint, stats TrendStatistics) []AnomalyPoint {
	out := []AnomalyPoint{}
	if stats.StandardDev == 0 {
		return out
	}

	threshold := ta.config.AnomalySensitivity * stats.StandardDev
	for _, p := range series {
		deviation := math.Abs(p.Value - stats.Mean)
		if deviation <= threshold {
			continue
		}
		severity := "mild"
		if deviation > 2*threshold {
			severity = "severe"
		} else if deviation > 1.5*threshold {
			severity = "moderate"
		}
		out = append(out, AnomalyPoint{
			Timestamp:      p.Timestamp,
			Value:          p.Value,
			ExpectedValue:  stats.Mean,
			DeviationScore: deviation / stats.StandardDev,
			Severity:       severity,
			RunID:          p.RunID,
		})
	}
	return out
}

func describe(values []float64) TrendStatistics {
	if len(values) == 0 {
		return TrendStatistics{Percentiles: map[string]float64{}}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	m := mean(values)
	return TrendStatistics{
		Count:       len(values),
		Mean:        m,
		Median:      percentile(sorted, 50),
		StandardDev: stddev(values, m),
		Min:         sorted[0],
		Max:         sorted[len(sorted)-1],
		Percentiles: map[string]float64{
			"p25": percentile(sorted, 25),
			"p50": percentile(sorted, 50),
			"p75": percentile(sorted, 75),
			"p90": percentile(sorted, 90),
		},
		LinearRegression: regression(values),
	}
}

func regression(values []float64) LinearRegression {
	n := float64(len(values))
	if n < 2 {
		return LinearRegression{}
	}

	var sumX, sumY, sumXY, sumX2 float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumX2 += x * x
	}

	denominator := n*sumX2 - sumX*sumX
	if denominator == 0 {
		return LinearRegression{}
	}
	slope := (n*sumXY - sumX*sumY) / denominator
	intercept := (sumY - slope*sumX) / n

	meanY := sumY / n
	var ssRes, ssTot float64
	for i, y := range values {
		predicted := slope*float64(i) + intercept
		ssRes += (y - predicted) * (y - predicted)
		ssTot += (y - meanY) * (y - meanY)
	}
	rSquared := 0.0
	if ssTot > 0 {
		rSquared = 1 - ssRes/ssTot
	}

	return LinearRegression{
		Slope:       slope,
		Intercept:   intercept,
		RSquared:    rSquared,
		Significant: rSquared > 0.5,
		Equation:    fmt.Sprintf("y = %.4fx + %.4f", slope, intercept),
	}
}

func movingAverage(series []TrendDataPoint, window int) []MovingAveragePoint {
	out := []MovingAveragePoint{}
	if len(series) < window {
		return out
	}

	for i := window - 1; i < len(series); i++ {
		vals := make([]float64, 0, window)
		for j := i - window + 1; j <= i; j++ {
			vals = append(vals, series[j].Value)
		}
		avg := mean(vals)
		var variance float64
		for _, v := range vals {
			variance += (v - avg) * (v - avg)
		}
		sd := math.Sqrt(variance / float64(window))

		out = append(out, MovingAveragePoint{
			Timestamp:     series[i].Timestamp,
			Value:         series[i].Value,
			MovingAverage: avg,
			UpperBound:    avg + 2*sd,
			LowerBound:    avg - 2*sd,
		})
	}
	return out
}

// changePoints compares the windows before and after each point and reports
// level shifts larger than twice the pooled deviation
func changePoints(series []TrendDataPoint, window int) []ChangePoint {
	out := []ChangePoint{}
	if len(series) < 2*window {
		return out
	}

	for i := window; i <= len(series)-window; i++ {
		before := make([]float64, window)
		after := make([]float64, window)
		for j := 0; j < window; j++ {
			before[j] = series[i-window+j].Value
			after[j] = series[i+j].Value
		}

		bm, am := mean(before), mean(after)
		pooled := math.Sqrt((math.Pow(stddev(before, bm), 2) + math.Pow(stddev(after, am), 2)) / 2)
		shift := math.Abs(am - bm)
		if bm == 0 || shift <= 2*pooled || shift == 0 {
			continue
		}

		magnitude := (am - bm) / bm * 100
		out = append(out, ChangePoint{
			Timestamp:   series[i].Timestamp,
			RunID:       series[i].RunID,
			Magnitude:   magnitude,
			Description: fmt.Sprintf("Level change of %.2f%% starting at run %s", magnitude, series[i].RunID),
		})
		// skip the rest of this window so one shift is reported once
		i += window - 1
	}
	return out
}

func insights(t *TrendData) []string {
	var out []string
	switch t.Direction.Direction {
	case "degrading":
		out = append(out, fmt.Sprintf("%s is degrading by %.2f%% per run (%s trend)", t.Metric, math.Abs(t.Direction.SlopePct), t.Direction.Strength))
	case "improving":
		out = append(out, fmt.Sprintf("%s is improving by %.2f%% per run (%s trend)", t.Metric, math.Abs(t.Direction.SlopePct), t.Direction.Strength))
	}
	if len(t.Anomalies) > 0 {
		a := t.Anomalies[0]
		out = append(out, fmt.Sprintf("%d anomalous runs, first is run %s at %.1f standard deviations from the mean", len(t.Anomalies), a.RunID, a.DeviationScore))
	}
	for _, cp := range t.ChangePoints {
		out = append(out, cp.Description)
	}
	simulated := 0
	for _, p := range t.DataPoints {
		if !p.Measured {
			simulated++
		}
	}
	if simulated > 0 {
		out = append(out, fmt.Sprintf("%d of %d points are not measured data and weaken this trend", simulated, len(t.DataPoints)))
	}
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddev(values []float64, m float64) float64 {
	if len(values) <= 1 {
		return 0
	}
	var sumSquares float64
	for _, v := range values {
		sumSquares += (v - m) * (v - m)
	}
	return math.Sqrt(sumSquares / float64(len(values)-1))
}

// percentile interpolates linearly over an already sorted slice
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	index := p / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))
	if lower == upper {
		return sorted[lower]
	}
	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}
