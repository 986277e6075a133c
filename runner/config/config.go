package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/perf-cascade/runner/types"
)

// Config represents the analysis pipeline configuration
type Config struct {
	Name         string             `yaml:"name"`
	WorkDir      string             `yaml:"work_dir"`
	ResultsDirs  []string           `yaml:"results_dirs"`
	ReportsDirs  []string           `yaml:"reports_dirs"`
	EvidenceDir  string             `yaml:"evidence_dir"`
	LoadTool     LoadToolConfig     `yaml:"load_tool"`
	Functional   FunctionalConfig   `yaml:"functional"`
	Scenarios    []ScenarioConfig   `yaml:"scenarios"`
	ScenarioRule ScenarioRuleConfig `yaml:"scenario_rule"`
	Thresholds   []ThresholdConfig  `yaml:"thresholds"`
	Simulation   SimulationConfig   `yaml:"simulation"`
	Pipeline     PipelineConfig     `yaml:"pipeline"`
	Storage      *StorageConfig     `yaml:"storage,omitempty"`
	Server       ServerConfig       `yaml:"server"`
	Log          LogConfig          `yaml:"log"`
}

// LoadToolConfig describes how to invoke the external load-testing tool (JMeter non-GUI mode)
type LoadToolConfig struct {
	Binary    string        `yaml:"binary"`
	Disabled  bool          `yaml:"disabled"`
	ExtraArgs []string      `yaml:"extra_args"`
	Timeout   time.Duration `yaml:"timeout"`
}

// FunctionalConfig describes the external test runner
type FunctionalConfig struct {
	Command []string          `yaml:"command"`
	Dir     string            `yaml:"dir"`
	Env     map[string]string `yaml:"env"`
	Timeout time.Duration     `yaml:"timeout"`
}

// ScenarioConfig is one named load pattern and the concurrency levels it runs at
type ScenarioConfig struct {
	Name  string `yaml:"name"`
	Plan  string `yaml:"plan"`
	Users []int  `yaml:"users"`
}

// KeywordConfig maps a file-name token to a scenario name
type KeywordConfig struct {
	Token    string `yaml:"token"`
	Scenario string `yaml:"scenario"`
}

// ScenarioRuleConfig configures how scenario and user count are derived from file names
type ScenarioRuleConfig struct {
	Keywords     []KeywordConfig `yaml:"keywords"`
	DefaultUsers int             `yaml:"default_users"`
}

// ThresholdConfig is one row of the tier table: a metric is classified as Tier
// when its average and error rate are both within the limits
type ThresholdConfig struct {
	Tier        types.Tier `yaml:"tier"`
	MaxAvgMs    float64    `yaml:"max_avg_ms"`
	MaxErrorPct float64    `yaml:"max_error_pct"`
}

// ProfileConfig parameterizes the deterministic simulation of one scenario kind
type ProfileConfig struct {
	Match           string  `yaml:"match"`
	BaseAvgMs       float64 `yaml:"base_avg_ms"`
	PerUserMs       float64 `yaml:"per_user_ms"`
	BaseErrorPct    float64 `yaml:"base_error_pct"`
	PerUserErrorPct float64 `yaml:"per_user_error_pct"`
}

// SimulationConfig holds the simulation profiles; Default applies when no profile matches
type SimulationConfig struct {
	Profiles []ProfileConfig `yaml:"profiles"`
	Default  ProfileConfig   `yaml:"default"`
}

// PipelineConfig controls the worker pool and stage timeouts
type PipelineConfig struct {
	Workers            int           `yaml:"workers"`
	ScanConcurrency    int           `yaml:"scan_concurrency"`
	PrepareTimeout     time.Duration `yaml:"prepare_timeout"`
	FunctionalTimeout  time.Duration `yaml:"functional_timeout"`
	PerformanceTimeout time.Duration `yaml:"performance_timeout"`
	EvidenceTimeout    time.Duration `yaml:"evidence_timeout"`
	ShutdownGrace      time.Duration `yaml:"shutdown_grace"`
}

// ServerConfig configures the results API
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig configures logrus
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ResultsPath returns the primary directory for raw sample files
func (c *Config) ResultsPath() string {
	if len(c.ResultsDirs) > 0 {
		return c.ResultsDirs[0]
	}
	return filepath.Join(c.WorkDir, "results")
}

// ReportsPath returns the primary directory for rendered reports
func (c *Config) ReportsPath() string {
	if len(c.ReportsDirs) > 0 {
		return c.ReportsDirs[0]
	}
	return filepath.Join(c.WorkDir, "reports")
}

// validateConfig performs validation on the loaded configuration
func validateConfig(cfg *Config) error {
	if cfg.WorkDir == "" {
		return fmt.Errorf("work_dir is required")
	}

	if cfg.EvidenceDir == "" {
		return fmt.Errorf("evidence_dir is required")
	}

	for i, sc := range cfg.Scenarios {
		if sc.Name == "" {
			return fmt.Errorf("scenario %d: name is required", i)
		}
		if len(sc.Users) == 0 {
			return fmt.Errorf("scenario %q: at least one users level is required", sc.Name)
		}
		for _, u := range sc.Users {
			if u <= 0 {
				return fmt.Errorf("scenario %q: users must be greater than 0, got %d", sc.Name, u)
			}
		}
	}

	for _, kw := range cfg.ScenarioRule.Keywords {
		if kw.Token == "" || kw.Scenario == "" {
			return fmt.Errorf("scenario_rule keywords need both token and scenario")
		}
	}
	if cfg.ScenarioRule.DefaultUsers <= 0 {
		return fmt.Errorf("scenario_rule.default_users must be greater than 0")
	}

	if len(cfg.Thresholds) == 0 {
		return fmt.Errorf("at least one threshold is required")
	}
	for i := 1; i < len(cfg.Thresholds); i++ {
		prev, cur := cfg.Thresholds[i-1], cfg.Thresholds[i]
		if cur.Tier <= prev.Tier || cur.MaxAvgMs < prev.MaxAvgMs || cur.MaxErrorPct < prev.MaxErrorPct {
			return fmt.Errorf("thresholds must be ordered by tier with non-decreasing limits (row %d)", i)
		}
	}

	if cfg.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be greater than 0")
	}

	for name, d := range map[string]time.Duration{
		"prepare_timeout":     cfg.Pipeline.PrepareTimeout,
		"functional_timeout":  cfg.Pipeline.FunctionalTimeout,
		"performance_timeout": cfg.Pipeline.PerformanceTimeout,
		"evidence_timeout":    cfg.Pipeline.EvidenceTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("pipeline.%s must be greater than 0", name)
		}
	}

	// a stage deadline must leave room for the tool timeout it wraps
	if len(cfg.Functional.Command) > 0 && cfg.Functional.Timeout > 0 &&
		cfg.Pipeline.FunctionalTimeout <= cfg.Functional.Timeout {
		return fmt.Errorf("pipeline.functional_timeout (%s) must be greater than functional.timeout (%s)",
			cfg.Pipeline.FunctionalTimeout, cfg.Functional.Timeout)
	}
	if !cfg.LoadTool.Disabled && cfg.LoadTool.Timeout > 0 &&
		cfg.Pipeline.PerformanceTimeout <= cfg.LoadTool.Timeout {
		return fmt.Errorf("pipeline.performance_timeout (%s) must be greater than load_tool.timeout (%s)",
			cfg.Pipeline.PerformanceTimeout, cfg.LoadTool.Timeout)
	}

	if cfg.Storage != nil {
		if err := cfg.Storage.Validate(); err != nil {
			return fmt.Errorf("invalid storage configuration: %w", err)
		}
	}

	return nil
}
