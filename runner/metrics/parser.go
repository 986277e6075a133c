package metrics

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/perf-cascade/runner/types"
)

// Fixed column positions of a headerless JMeter JTL file
const (
	colTimestamp = 0
	colElapsed   = 1
	colLabel     = 2
	colSuccess   = 7
)

// jtlTimeLayouts are accepted when timestamps are not written as epoch milliseconds
var jtlTimeLayouts = []string{
	"2006/01/02 15:04:05.000",
	"2006-01-02 15:04:05.000",
	time.RFC3339Nano,
}

// ParseStats describes one parse pass
type ParseStats struct {
	Lines          int
	Parsed         int
	HeaderDetected bool
	Malformed      []*types.MalformedRecordError
}

// columns maps the fields we read to CSV positions
type columns struct {
	timestamp, elapsed, label, success int
}

var fixedColumns = columns{colTimestamp, colElapsed, colLabel, colSuccess}

// ParseSamples decodes JMeter JTL CSV content. Malformed lines are skipped and
// recorded in the returned stats; only I/O failures are returned as errors.
func ParseSamples(r io.Reader) ([]types.SampleRecord, ParseStats, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = true

	var (
		stats   ParseStats
		samples []types.SampleRecord
		cols    = fixedColumns
		first   = true
	)

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				stats.Lines++
				stats.Malformed = append(stats.Malformed, &types.MalformedRecordError{
					Line:   perr.Line,
					Reason: perr.Err.Error(),
				})
				continue
			}
			return samples, stats, fmt.Errorf("failed to read samples: %w", err)
		}

		line, _ := reader.FieldPos(0)
		stats.Lines++

		if first {
			first = false
			if hc, ok := headerColumns(record); ok {
				cols = hc
				stats.HeaderDetected = true
				continue
			}
		}

		if isBlank(record) {
			continue
		}

		sample, err := parseRecord(record, cols)
		if err != nil {
			stats.Malformed = append(stats.Malformed, &types.MalformedRecordError{Line: line, Reason: err.Error()})
			continue
		}
		samples = append(samples, sample)
		stats.Parsed++
	}

	return samples, stats, nil
}

// ParseFile parses the JTL file at path
func ParseFile(path string) ([]types.SampleRecord, ParseStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ParseStats{}, fmt.Errorf("failed to open sample file: %w", err)
	}
	defer f.Close()

	return ParseSamples(f)
}

// headerColumns detects a JTL header row and resolves the column positions.
// Missing optional columns fall back to their fixed position.
func headerColumns(record []string) (columns, bool) {
	idx := make(map[string]int, len(record))
	for i, name := range record {
		idx[strings.ToLower(strings.TrimSpace(name))] = i
	}

	_, hasTS := idx["timestamp"]
	_, hasElapsed := idx["elapsed"]
	if !hasTS && !hasElapsed {
		return columns{}, false
	}

	lookup := func(name string, fallback int) int {
		if i, ok := idx[name]; ok {
			return i
		}
		return fallback
	}

	return columns{
		timestamp: lookup("timestamp", colTimestamp),
		elapsed:   lookup("elapsed", colElapsed),
		label:     lookup("label", colLabel),
		success:   lookup("success", colSuccess),
	}, true
}

func parseRecord(record []string, cols columns) (types.SampleRecord, error) {
	field := func(i int) (string, error) {
		if i >= len(record) {
			return "", fmt.Errorf("expected at least %d fields, got %d", i+1, len(record))
		}
		return strings.TrimSpace(record[i]), nil
	}

	rawTS, err := field(cols.timestamp)
	if err != nil {
		return types.SampleRecord{}, err
	}
	ts, err := parseTimestamp(rawTS)
	if err != nil {
		return types.SampleRecord{}, err
	}

	rawElapsed, err := field(cols.elapsed)
	if err != nil {
		return types.SampleRecord{}, err
	}
	elapsed, err := strconv.ParseInt(rawElapsed, 10, 64)
	if err != nil {
		return types.SampleRecord{}, fmt.Errorf("invalid elapsed %q", rawElapsed)
	}
	if elapsed < 0 {
		return types.SampleRecord{}, fmt.Errorf("negative elapsed %d", elapsed)
	}

	label, err := field(cols.label)
	if err != nil {
		return types.SampleRecord{}, err
	}

	rawSuccess, err := field(cols.success)
	if err != nil {
		return types.SampleRecord{}, err
	}
	success, err := strconv.ParseBool(strings.ToLower(rawSuccess))
	if err != nil {
		return types.SampleRecord{}, fmt.Errorf("invalid success flag %q", rawSuccess)
	}

	return types.SampleRecord{
		TimestampMs: ts,
		ElapsedMs:   elapsed,
		Label:       label,
		Success:     success,
	}, nil
}

func parseTimestamp(raw string) (int64, error) {
	if ts, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return ts, nil
	}
	for _, layout := range jtlTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("invalid timestamp %q", raw)
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
