package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Migration represents a database migration
type Migration struct {
	Version int
	SQL     string
}

// Migrations returns the ordered schema migrations for t
func Migrations(t Tables) []Migration {
	return []Migration{
		{Version: 1, SQL: t.runsTableSQL()},
		{Version: 2, SQL: t.metricsTableSQL()},
		{Version: 3, SQL: t.indicesSQL()},
	}
}

// RunMigrations applies every migration not yet recorded in schema_migrations
func RunMigrations(ctx context.Context, db *sql.DB, t Tables, log logrus.FieldLogger) error {
	log = log.WithField("component", "migration")

	if err := createMigrationTable(ctx, db); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	for _, migration := range Migrations(t) {
		applied, err := isMigrationApplied(ctx, db, migration.Version)
		if err != nil {
			return fmt.Errorf("failed to check migration %d: %w", migration.Version, err)
		}

		if applied {
			log.WithField("version", migration.Version).Debug("Migration already applied")
			continue
		}

		log.WithField("version", migration.Version).Info("Applying migration")
		if err := applyMigration(ctx, db, migration); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

func createMigrationTable(ctx context.Context, db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	)`

	_, err := db.ExecContext(ctx, query)
	return err
}

func isMigrationApplied(ctx context.Context, db *sql.DB, version int) (bool, error) {
	var count int
	query := `SELECT COUNT(*) FROM schema_migrations WHERE version = $1`
	if err := db.QueryRowContext(ctx, query, version).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func applyMigration(ctx context.Context, db *sql.DB, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, migration.Version); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}
