package config

import (
	"fmt"
)

// StorageConfig holds configuration for result persistence
type StorageConfig struct {
	Enabled    bool             `yaml:"enabled"`
	PostgreSQL PostgreSQLConfig `yaml:"postgresql"`
}

// PostgreSQLConfig contains database configuration for the result store
type PostgreSQLConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Database     string `yaml:"database"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	SSLMode      string `yaml:"ssl_mode"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
	RunsTable    string `yaml:"runs_table"`
	MetricsTable string `yaml:"metrics_table"`
}

// DefaultStorageConfig returns a default storage configuration
func DefaultStorageConfig() *StorageConfig {
	return &StorageConfig{
		Enabled: false,
		PostgreSQL: PostgreSQLConfig{
			Host:         "localhost",
			Port:         5432,
			Database:     "perf_analysis",
			User:         "postgres",
			SSLMode:      "disable",
			MaxOpenConns: 10,
			MaxIdleConns: 5,
			RunsTable:    "analysis_runs",
			MetricsTable: "analysis_metrics",
		},
	}
}

// applyDefaults fills missing fields from DefaultStorageConfig
func (c *StorageConfig) applyDefaults() {
	def := DefaultStorageConfig().PostgreSQL
	pg := &c.PostgreSQL
	if pg.Host == "" {
		pg.Host = def.Host
	}
	if pg.Port == 0 {
		pg.Port = def.Port
	}
	if pg.Database == "" {
		pg.Database = def.Database
	}
	if pg.User == "" {
		pg.User = def.User
	}
	if pg.SSLMode == "" {
		pg.SSLMode = def.SSLMode
	}
	if pg.MaxOpenConns == 0 {
		pg.MaxOpenConns = def.MaxOpenConns
	}
	if pg.MaxIdleConns == 0 {
		pg.MaxIdleConns = def.MaxIdleConns
	}
	if pg.RunsTable == "" {
		pg.RunsTable = def.RunsTable
	}
	if pg.MetricsTable == "" {
		pg.MetricsTable = def.MetricsTable
	}
}

// Validate validates the storage configuration
func (c *StorageConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if err := c.PostgreSQL.Validate(); err != nil {
		return fmt.Errorf("invalid PostgreSQL configuration: %w", err)
	}
	return nil
}

// Validate validates the PostgreSQL configuration
func (c *PostgreSQLConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.MaxOpenConns <= 0 {
		return fmt.Errorf("max_open_conns must be greater than 0")
	}
	if c.MaxIdleConns <= 0 {
		return fmt.Errorf("max_idle_conns must be greater than 0")
	}
	if c.RunsTable == "" || c.MetricsTable == "" {
		return fmt.Errorf("runs_table and metrics_table are required")
	}
	return nil
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgreSQLConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
