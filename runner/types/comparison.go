package types

// ScenarioGroup holds the metrics of one scenario in insertion order.
type ScenarioGroup struct {
	Scenario string              `json:"scenario"`
	Metrics  []PerformanceMetric `json:"metrics"`
}

// ComparisonReport is the read-only comparison of a metric set.
type ComparisonReport struct {
	NoData  bool                `json:"no_data"`
	Metrics []PerformanceMetric `json:"metrics"`
	Groups  []ScenarioGroup     `json:"groups"`
	Best    *PerformanceMetric  `json:"best,omitempty"`
	Worst   *PerformanceMetric  `json:"worst,omitempty"`
}
