package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perf-cascade/runner/types"
)

func TestMemoryStoreOrdersNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	latest, err := s.Latest(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	for i, id := range []string{"b", "a", "c"} {
		_, err := s.Save(ctx, sampleResult(id, base.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
	}

	latest, err = s.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c", latest.RunID)

	runs, err := s.List(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{runs[0].RunID, runs[1].RunID, runs[2].RunID})
	assert.Equal(t, 1, runs[0].MetricCount)
}

func TestMemoryStoreReplacesSameID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	at := time.Now()

	_, _ = s.Save(ctx, sampleResult("x", at))
	replaced := sampleResult("x", at)
	replaced.Status = types.StatusPartial
	_, _ = s.Save(ctx, replaced)

	runs, err := s.List(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, types.StatusPartial, runs[0].Status)
}

func TestMemoryStoreGetAndFilter(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	ok := sampleResult("ok", base)
	sim := sampleResult("sim", base.Add(time.Hour))
	sim.Status = types.StatusSuccessWithWarnings
	sim.Performance.Provenance = types.ProvenanceSimulated
	_, _ = s.Save(ctx, ok)
	_, _ = s.Save(ctx, sim)

	got, err := s.Get(ctx, "ok")
	require.NoError(t, err)
	assert.Equal(t, "ok", got.RunID)

	_, err = s.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)

	warn := types.StatusSuccessWithWarnings
	runs, _ := s.List(ctx, RunFilter{Status: &warn})
	require.Len(t, runs, 1)
	assert.Equal(t, "sim", runs[0].RunID)

	runs, _ = s.List(ctx, RunFilter{Provenance: types.ProvenanceReal})
	require.Len(t, runs, 1)
	assert.Equal(t, "ok", runs[0].RunID)

	runs, _ = s.List(ctx, RunFilter{Offset: 1, Limit: 1})
	require.Len(t, runs, 1)
	assert.Equal(t, "ok", runs[0].RunID)

	runs, _ = s.List(ctx, RunFilter{Since: base.Add(30 * time.Minute)})
	require.Len(t, runs, 1)
	assert.Equal(t, "sim", runs[0].RunID)
}

func TestMemoryStoreQueryMetrics(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	_, _ = s.Save(ctx, sampleResult("r1", base))
	_, _ = s.Save(ctx, sampleResult("r2", base.Add(time.Hour)))

	points, err := s.QueryMetrics(ctx, MetricQuery{Scenario: "GET Masivo", Users: 10})
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "r2", points[0].RunID)
	assert.Equal(t, types.TierGood, points[0].Tier)

	points, _ = s.QueryMetrics(ctx, MetricQuery{Scenario: "GET Masivo", Users: 50})
	assert.Empty(t, points)

	points, _ = s.QueryMetrics(ctx, MetricQuery{Scenario: "GET Masivo", Limit: 1})
	assert.Len(t, points, 1)
}

func TestMemoryStoreDeleteOlderThan(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	_, _ = s.Save(ctx, sampleResult("old", base))
	_, _ = s.Save(ctx, sampleResult("new", base.Add(48*time.Hour)))

	n, err := s.DeleteOlderThan(ctx, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	runs, _ := s.List(ctx, RunFilter{})
	require.Len(t, runs, 1)
	assert.Equal(t, "new", runs[0].RunID)
}
