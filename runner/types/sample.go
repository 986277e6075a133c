package types

// SampleRecord is one observed request taken from a load-test result file.
type SampleRecord struct {
	TimestampMs int64  `json:"timestamp_ms"`
	ElapsedMs   int64  `json:"elapsed_ms"`
	Label       string `json:"label"`
	Success     bool   `json:"success"`
}
