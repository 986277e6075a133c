package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/perf-cascade/runner/config"
	"github.com/perf-cascade/runner/types"
)

// Store persists analysis results in PostgreSQL
type Store struct {
	db     *sql.DB
	tables Tables
	log    logrus.FieldLogger
}

// Open connects to PostgreSQL and brings the schema up to date
func Open(ctx context.Context, cfg *config.PostgreSQLConfig, log logrus.FieldLogger) (*Store, error) {
	tables := Tables{Runs: cfg.RunsTable, Metrics: cfg.MetricsTable}
	if err := tables.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store, err := NewStore(ctx, db, tables, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewStore wraps an open connection and runs the migrations
func NewStore(ctx context.Context, db *sql.DB, tables Tables, log logrus.FieldLogger) (*Store, error) {
	if err := tables.Validate(); err != nil {
		return nil, err
	}
	if err := RunMigrations(ctx, db, tables, log); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	s := &Store{db: db, tables: tables, log: log.WithField("component", "postgres")}
	s.log.Info("Connected to PostgreSQL result store")
	return s, nil
}

// Name identifies the store as a result sink
func (s *Store) Name() string {
	return "postgres"
}

// Save writes the run and its metrics in one transaction. Saving a run id
// twice replaces the earlier copy.
func (s *Store) Save(ctx context.Context, result types.AnalysisResult) (string, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	runQuery := fmt.Sprintf(`
		INSERT INTO %s (
			id, executed_at, status, exit_code, provenance, functional_passed, metric_count, result
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			executed_at = EXCLUDED.executed_at,
			status = EXCLUDED.status,
			exit_code = EXCLUDED.exit_code,
			provenance = EXCLUDED.provenance,
			functional_passed = EXCLUDED.functional_passed,
			metric_count = EXCLUDED.metric_count,
			result = EXCLUDED.result`, s.tables.Runs)

	_, err = tx.ExecContext(ctx, runQuery,
		result.RunID, result.ExecutedAt, result.Status.String(), result.Status.ExitCode(),
		string(result.Performance.Provenance), result.Functional.Passed,
		len(result.Performance.Metrics), payload,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE run_id = $1`, s.tables.Metrics), result.RunID); err != nil {
		return "", fmt.Errorf("failed to clear metrics: %w", err)
	}

	if len(result.Performance.Metrics) > 0 {
		stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (
				run_id, scenario, users, captured_at, avg_ms, p90_ms, p95_ms, min_ms, max_ms,
				throughput, error_rate, duration_sec, sample_count, tier, provenance
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`, s.tables.Metrics))
		if err != nil {
			return "", fmt.Errorf("failed to prepare metric insert: %w", err)
		}
		defer stmt.Close()

		for _, m := range result.Performance.Metrics {
			capturedAt := m.CapturedAt
			if capturedAt.IsZero() {
				capturedAt = result.ExecutedAt
			}
			_, err := stmt.ExecContext(ctx,
				result.RunID, m.ScenarioName, m.ConcurrentUsers, capturedAt,
				m.AvgMs, m.P90Ms, m.P95Ms, m.MinMs, m.MaxMs,
				m.ThroughputPerSec, m.ErrorRatePct, m.DurationSec, m.SampleCount,
				m.Tier.String(), string(result.Performance.Provenance),
			)
			if err != nil {
				return "", fmt.Errorf("failed to insert metric %s: %w", m.Key(), err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit run: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"run_id":  result.RunID,
		"metrics": len(result.Performance.Metrics),
	}).Debug("Stored analysis run")

	return fmt.Sprintf("postgres://%s/%s", s.tables.Runs, result.RunID), nil
}

// Latest returns the most recent run, or nil when nothing is stored yet
func (s *Store) Latest(ctx context.Context) (*types.AnalysisResult, error) {
	query := fmt.Sprintf(`SELECT result FROM %s ORDER BY executed_at DESC LIMIT 1`, s.tables.Runs)
	result, err := s.scanResult(s.db.QueryRowContext(ctx, query))
	if errors.Is(err, ErrRunNotFound) {
		return nil, nil
	}
	return result, err
}

// Get retrieves a run by id
func (s *Store) Get(ctx context.Context, id string) (*types.AnalysisResult, error) {
	query := fmt.Sprintf(`SELECT result FROM %s WHERE id = $1`, s.tables.Runs)
	return s.scanResult(s.db.QueryRowContext(ctx, query, id))
}

func (s *Store) scanResult(row *sql.Row) (*types.AnalysisResult, error) {
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	var result types.AnalysisResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("failed to decode stored result: %w", err)
	}
	return &result, nil
}

// List returns run summaries matching filter, newest first
func (s *Store) List(ctx context.Context, filter RunFilter) ([]RunSummary, error) {
	query := fmt.Sprintf(`SELECT id, executed_at, status, provenance, functional_passed, metric_count
		FROM %s WHERE 1=1`, s.tables.Runs)

	args := []interface{}{}
	argCount := 1

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, filter.Status.String())
		argCount++
	}

	if filter.Provenance != "" {
		query += fmt.Sprintf(" AND provenance = $%d", argCount)
		args = append(args, string(filter.Provenance))
		argCount++
	}

	if !filter.Since.IsZero() {
		query += fmt.Sprintf(" AND executed_at >= $%d", argCount)
		args = append(args, filter.Since)
	}

	query += " ORDER BY executed_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var (
			run        RunSummary
			status     string
			provenance string
		)
		if err := rows.Scan(&run.RunID, &run.ExecutedAt, &status, &provenance, &run.FunctionalPassed, &run.MetricCount); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if err := run.Status.UnmarshalText([]byte(status)); err != nil {
			return nil, fmt.Errorf("failed to scan run %s: %w", run.RunID, err)
		}
		run.Provenance = types.Provenance(provenance)
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// QueryMetrics returns the stored history of one scenario, newest first
func (s *Store) QueryMetrics(ctx context.Context, q MetricQuery) ([]MetricPoint, error) {
	query := fmt.Sprintf(`SELECT run_id, scenario, users, captured_at, avg_ms, p90_ms, p95_ms,
		min_ms, max_ms, throughput, error_rate, duration_sec, sample_count, tier, provenance
		FROM %s WHERE scenario = $1`, s.tables.Metrics)

	args := []interface{}{q.Scenario}
	argCount := 2

	if q.Users > 0 {
		query += fmt.Sprintf(" AND users = $%d", argCount)
		args = append(args, q.Users)
		argCount++
	}

	if !q.Since.IsZero() {
		query += fmt.Sprintf(" AND captured_at >= $%d", argCount)
		args = append(args, q.Since)
	}

	query += " ORDER BY captured_at DESC"

	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	defer rows.Close()

	var points []MetricPoint
	for rows.Next() {
		var (
			p          MetricPoint
			tier       string
			provenance string
		)
		err := rows.Scan(
			&p.RunID, &p.ScenarioName, &p.ConcurrentUsers, &p.CapturedAt,
			&p.AvgMs, &p.P90Ms, &p.P95Ms, &p.MinMs, &p.MaxMs,
			&p.ThroughputPerSec, &p.ErrorRatePct, &p.DurationSec, &p.SampleCount,
			&tier, &provenance,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan metric: %w", err)
		}
		if p.Tier, err = types.ParseTier(tier); err != nil {
			return nil, fmt.Errorf("failed to scan metric: %w", err)
		}
		p.Provenance = types.Provenance(provenance)
		points = append(points, p)
	}

	return points, rows.Err()
}

// DeleteOlderThan removes runs executed before the given time. Metrics go
// with them through the foreign key.
func (s *Store) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE executed_at < $1`, s.tables.Runs)
	result, err := s.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old runs: %w", err)
	}

	count, _ := result.RowsAffected()
	s.log.WithField("deleted_count", count).Info("Deleted old runs")
	return count, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
