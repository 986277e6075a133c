package storage

import (
	"fmt"
	"regexp"
)

var identifier = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Tables names the tables a store writes to
type Tables struct {
	Runs    string
	Metrics string
}

// Validate rejects names that are not plain SQL identifiers. The names are
// interpolated into statements, so nothing else is allowed.
func (t Tables) Validate() error {
	for _, name := range []string{t.Runs, t.Metrics} {
		if !identifier.MatchString(name) {
			return fmt.Errorf("invalid table name %q", name)
		}
	}
	if t.Runs == t.Metrics {
		return fmt.Errorf("runs and metrics tables must differ")
	}
	return nil
}

func (t Tables) runsTableSQL() string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    id VARCHAR(64) PRIMARY KEY,
    executed_at TIMESTAMPTZ NOT NULL,
    status VARCHAR(32) NOT NULL,
    exit_code INTEGER NOT NULL,
    provenance VARCHAR(32) NOT NULL,
    functional_passed BOOLEAN NOT NULL DEFAULT FALSE,
    metric_count INTEGER NOT NULL,
    result JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`, t.Runs)
}

func (t Tables) metricsTableSQL() string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    id BIGSERIAL PRIMARY KEY,
    run_id VARCHAR(64) NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
    scenario VARCHAR(255) NOT NULL,
    users INTEGER NOT NULL,
    captured_at TIMESTAMPTZ NOT NULL,
    avg_ms DOUBLE PRECISION NOT NULL,
    p90_ms DOUBLE PRECISION NOT NULL,
    p95_ms DOUBLE PRECISION NOT NULL,
    min_ms DOUBLE PRECISION NOT NULL,
    max_ms DOUBLE PRECISION NOT NULL,
    throughput DOUBLE PRECISION NOT NULL,
    error_rate DOUBLE PRECISION NOT NULL,
    duration_sec INTEGER NOT NULL,
    sample_count INTEGER NOT NULL,
    tier VARCHAR(16) NOT NULL,
    provenance VARCHAR(32) NOT NULL
);`, t.Metrics, t.Runs)
}

func (t Tables) indicesSQL() string {
	return fmt.Sprintf(`
CREATE INDEX IF NOT EXISTS idx_%[1]s_executed_at ON %[1]s(executed_at DESC);
CREATE INDEX IF NOT EXISTS idx_%[1]s_status ON %[1]s(status);
CREATE INDEX IF NOT EXISTS idx_%[2]s_run_id ON %[2]s(run_id);
CREATE INDEX IF NOT EXISTS idx_%[2]s_scenario_users ON %[2]s(scenario, users, captured_at DESC);
`, t.Runs, t.Metrics)
}
