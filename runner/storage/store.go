// Package storage keeps the history of analysis runs, in PostgreSQL or in
// memory, so results can be served and compared with earlier runs.
package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/perf-cascade/runner/types"
)

// ErrRunNotFound is returned when no run has the requested id
var ErrRunNotFound = errors.New("run not found")

// RunSummary is the listing view of a stored run
type RunSummary struct {
	RunID            string           `json:"run_id"`
	ExecutedAt       time.Time        `json:"executed_at"`
	Status           types.Status     `json:"status"`
	Provenance       types.Provenance `json:"provenance"`
	FunctionalPassed bool             `json:"functional_passed"`
	MetricCount      int              `json:"metric_count"`
}

// RunFilter narrows a run listing
type RunFilter struct {
	Status     *types.Status
	Provenance types.Provenance
	Since      time.Time
	Limit      int
	Offset     int
}

// MetricQuery selects the stored history of one scenario
type MetricQuery struct {
	Scenario string
	Users    int
	Since    time.Time
	Limit    int
}

// MetricPoint is one stored metric with the run it belongs to
type MetricPoint struct {
	RunID      string           `json:"run_id"`
	Provenance types.Provenance `json:"provenance"`
	Tier       types.Tier       `json:"tier"`
	types.PerformanceMetric
}

func summarize(r types.AnalysisResult) RunSummary {
	return RunSummary{
		RunID:            r.RunID,
		ExecutedAt:       r.ExecutedAt,
		Status:           r.Status,
		Provenance:       r.Performance.Provenance,
		FunctionalPassed: r.Functional.Passed,
		MetricCount:      len(r.Performance.Metrics),
	}
}

func (f RunFilter) matches(r types.AnalysisResult) bool {
	if f.Status != nil && r.Status != *f.Status {
		return false
	}
	if f.Provenance != "" && r.Performance.Provenance != f.Provenance {
		return false
	}
	if !f.Since.IsZero() && r.ExecutedAt.Before(f.Since) {
		return false
	}
	return true
}

// MemoryStore keeps results in process memory, newest first
type MemoryStore struct {
	mu   sync.RWMutex
	runs []types.AnalysisResult
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Name identifies the store as a result sink
func (s *MemoryStore) Name() string {
	return "memory"
}

// Save stores result, replacing an earlier result with the same id
func (s *MemoryStore) Save(_ context.Context, result types.AnalysisResult) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, r := range s.runs {
		if r.RunID == result.RunID {
			s.runs = append(s.runs[:i], s.runs[i+1:]...)
			break
		}
	}
	s.runs = append(s.runs, result)
	sort.SliceStable(s.runs, func(i, j int) bool { return s.runs[i].ExecutedAt.After(s.runs[j].ExecutedAt) })
	return "", nil
}

// Latest returns the newest result, or nil when the store is empty
func (s *MemoryStore) Latest(_ context.Context) (*types.AnalysisResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.runs) == 0 {
		return nil, nil
	}
	r := s.runs[0]
	return &r, nil
}

// Get returns the result with the given id
func (s *MemoryStore) Get(_ context.Context, id string) (*types.AnalysisResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.runs {
		if r.RunID == id {
			return &r, nil
		}
	}
	return nil, ErrRunNotFound
}

// List returns the matching runs, newest first
func (s *MemoryStore) List(_ context.Context, filter RunFilter) ([]RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []RunSummary
	skipped := 0
	for _, r := range s.runs {
		if !filter.matches(r) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		out = append(out, summarize(r))
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// QueryMetrics returns the stored metrics of one scenario, newest run first
func (s *MemoryStore) QueryMetrics(_ context.Context, q MetricQuery) ([]MetricPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []MetricPoint
	for _, r := range s.runs {
		if !q.Since.IsZero() && r.ExecutedAt.Before(q.Since) {
			continue
		}
		for _, m := range r.Performance.Metrics {
			if m.ScenarioName != q.Scenario || (q.Users > 0 && m.ConcurrentUsers != q.Users) {
				continue
			}
			out = append(out, MetricPoint{RunID: r.RunID, Provenance: r.Performance.Provenance, Tier: m.Tier, PerformanceMetric: m.PerformanceMetric})
			if q.Limit > 0 && len(out) == q.Limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// DeleteOlderThan drops runs executed before the given time
func (s *MemoryStore) DeleteOlderThan(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.runs[:0]
	var deleted int64
	for _, r := range s.runs {
		if r.ExecutedAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	s.runs = kept
	return deleted, nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}
