package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrEmptyInput signals that a sample source produced no usable records.
// Callers fall back to the next data source instead of retrying.
var ErrEmptyInput = errors.New("no usable samples")

// ExternalToolError reports a load tool or test runner that is missing,
// timed out or exited with a non-zero code.
type ExternalToolError struct {
	Tool     string
	ExitCode int
	TimedOut bool
	Timeout  time.Duration
	Output   string
	Err      error
}

func (e *ExternalToolError) Error() string {
	switch {
	case e.TimedOut:
		return fmt.Sprintf("%s timed out after %s", e.Tool, e.Timeout)
	case e.Err != nil && e.ExitCode <= 0:
		return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
	default:
		return fmt.Sprintf("%s exited with code %d", e.Tool, e.ExitCode)
	}
}

func (e *ExternalToolError) Unwrap() error {
	return e.Err
}

// MalformedRecordError describes a single sample line that could not be parsed.
type MalformedRecordError struct {
	Line   int
	Reason string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record at line %d: %s", e.Line, e.Reason)
}

// StageFatalError aborts the pipeline, e.g. when working storage is unwritable.
type StageFatalError struct {
	Stage string
	Err   error
}

func (e *StageFatalError) Error() string {
	return fmt.Sprintf("stage %s failed fatally: %v", e.Stage, e.Err)
}

func (e *StageFatalError) Unwrap() error {
	return e.Err
}

// MalformedRecords joins per-line errors into a short summary, capped at limit entries.
func MalformedRecords(errs []*MalformedRecordError, limit int) string {
	if len(errs) == 0 {
		return ""
	}
	parts := make([]string, 0, limit)
	for i, e := range errs {
		if i == limit {
			parts = append(parts, fmt.Sprintf("... and %d more", len(errs)-limit))
			break
		}
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "; ")
}
