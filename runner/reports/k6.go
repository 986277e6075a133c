package reports

import (
	"encoding/json"
	"fmt"
)

// K6MetricValue represents a k6 metric in the --summary-export output
type K6MetricValue struct {
	Count  int64   `json:"count"`
	Rate   float64 `json:"rate"`
	Value  float64 `json:"value"`
	Passes int64   `json:"passes"`
	Fails  int64   `json:"fails"`
	Avg    float64 `json:"avg"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Med    float64 `json:"med"`
	P90    float64 `json:"p(90)"`
	P95    float64 `json:"p(95)"`
}

// K6Summary represents the k6 summary output
type K6Summary struct {
	Metrics map[string]K6MetricValue `json:"metrics"`
}

func parseK6Summary(data []byte) (*Aggregate, error) {
	var summary K6Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("failed to parse summary: %w", err)
	}

	duration, ok := summary.Metrics["http_req_duration"]
	if !ok {
		return nil, fmt.Errorf("summary has no http_req_duration metric")
	}
	reqs := summary.Metrics["http_reqs"]

	// rate metrics export the failed ratio as "value"; older versions as "rate"
	failedRatio := 0.0
	if failed, ok := summary.Metrics["http_req_failed"]; ok {
		failedRatio = failed.Value
		if failedRatio == 0 {
			failedRatio = failed.Rate
		}
	}

	return &Aggregate{
		AvgMs:            duration.Avg,
		MinMs:            duration.Min,
		MaxMs:            duration.Max,
		P90Ms:            duration.P90,
		P95Ms:            duration.P95,
		ThroughputPerSec: reqs.Rate,
		ErrorRatePct:     failedRatio * 100,
		SampleCount:      int(reqs.Count),
	}, nil
}
