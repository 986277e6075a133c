package reports

import (
	"encoding/json"
	"fmt"
)

// JMeterStatistic is one row of a JMeter HTML dashboard statistics.json.
// pct1/pct2 are the 90th and 95th percentiles with the default dashboard settings.
type JMeterStatistic struct {
	Transaction   string  `json:"transaction"`
	SampleCount   int     `json:"sampleCount"`
	ErrorCount    int     `json:"errorCount"`
	ErrorPct      float64 `json:"errorPct"`
	MeanResTime   float64 `json:"meanResTime"`
	MedianResTime float64 `json:"medianResTime"`
	MinResTime    float64 `json:"minResTime"`
	MaxResTime    float64 `json:"maxResTime"`
	Pct1ResTime   float64 `json:"pct1ResTime"`
	Pct2ResTime   float64 `json:"pct2ResTime"`
	Pct3ResTime   float64 `json:"pct3ResTime"`
	Throughput    float64 `json:"throughput"`
}

func parseJMeterStatistics(data []byte) (*Aggregate, error) {
	var stats map[string]JMeterStatistic
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("failed to parse statistics: %w", err)
	}

	total, ok := stats["Total"]
	if !ok {
		return nil, fmt.Errorf("statistics have no Total row")
	}

	return &Aggregate{
		AvgMs:            total.MeanResTime,
		MinMs:            total.MinResTime,
		MaxMs:            total.MaxResTime,
		P90Ms:            total.Pct1ResTime,
		P95Ms:            total.Pct2ResTime,
		ThroughputPerSec: total.Throughput,
		ErrorRatePct:     total.ErrorPct,
		SampleCount:      total.SampleCount,
	}, nil
}
