package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/perf-cascade/runner/types"
)

// Default returns the built-in configuration used when no file is provided
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// LoadFromFile loads the configuration from a YAML file. An empty path or a
// missing file yields the defaults.
func LoadFromFile(path string, log logrus.FieldLogger) (*Config, error) {
	log = log.WithField("component", "config")

	if path == "" {
		log.Info("No config path provided, using defaults")
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.WithField("path", path).Info("Config file not found, using defaults")
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"path":      path,
		"work_dir":  cfg.WorkDir,
		"scenarios": len(cfg.Scenarios),
		"workers":   cfg.Pipeline.Workers,
		"storage":   cfg.Storage != nil && cfg.Storage.Enabled,
	}).Info("Loaded configuration")

	return cfg, nil
}

// Parse substitutes environment variables in data, unmarshals it, applies
// defaults and validates the result
func Parse(data []byte) (*Config, error) {
	substituted, err := SubstituteEnvVars(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to substitute environment variables: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(substituted), &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate re-checks the configuration, e.g. after CLI overrides
func (c *Config) Validate() error {
	return validateConfig(c)
}

// DefaultThresholds is the tier table used when none is configured
func DefaultThresholds() []ThresholdConfig {
	return []ThresholdConfig{
		{Tier: types.TierExcellent, MaxAvgMs: 500, MaxErrorPct: 1},
		{Tier: types.TierGood, MaxAvgMs: 1000, MaxErrorPct: 2},
		{Tier: types.TierFair, MaxAvgMs: 2000, MaxErrorPct: 5},
		{Tier: types.TierPoor, MaxAvgMs: 3000, MaxErrorPct: 10},
	}
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// ScenarioSlug lower-cases name and joins its alphanumeric runs with
// underscores, e.g. "GET Masivo" -> "get_masivo". Sample files are named
// after it.
func ScenarioSlug(name string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(name), "_"), "_")
}

// ScenarioNames returns the configured scenario names in order
func (c *Config) ScenarioNames() []string {
	names := make([]string, 0, len(c.Scenarios))
	for _, s := range c.Scenarios {
		names = append(names, s.Name)
	}
	return names
}

// DefaultKeywords is the scenario keyword table used when none is configured
func DefaultKeywords() []KeywordConfig {
	return []KeywordConfig{
		{Token: "get", Scenario: "GET Masivo"},
		{Token: "post", Scenario: "POST Masivo"},
		{Token: "mixed", Scenario: "Mixto"},
		{Token: "mixto", Scenario: "Mixto"},
		{Token: "stress", Scenario: "Stress"},
		{Token: "spike", Scenario: "Spike"},
	}
}

// DefaultSimulation is the simulation table used when none is configured
func DefaultSimulation() SimulationConfig {
	return SimulationConfig{
		Profiles: []ProfileConfig{
			{Match: "get", BaseAvgMs: 200, PerUserMs: 4.5},
			{Match: "post", BaseAvgMs: 450, PerUserMs: 30, PerUserErrorPct: 0.08},
		},
		Default: ProfileConfig{BaseAvgMs: 300, PerUserMs: 10, PerUserErrorPct: 0.02},
	}
}

// DefaultScenarios is the scenario set simulated when none is configured
func DefaultScenarios() []ScenarioConfig {
	return []ScenarioConfig{
		{Name: "GET Masivo", Plan: "plans/get_masivo.jmx", Users: []int{10, 50, 100}},
		{Name: "POST Masivo", Plan: "plans/post_masivo.jmx", Users: []int{10, 50, 100}},
	}
}

// applyDefaults fills every unset field
func applyDefaults(cfg *Config) {
	if cfg.Name == "" {
		cfg.Name = "performance-analysis"
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = "perf-work"
	}
	if len(cfg.ResultsDirs) == 0 {
		cfg.ResultsDirs = []string{filepath.Join(cfg.WorkDir, "results")}
	}
	if len(cfg.ReportsDirs) == 0 {
		cfg.ReportsDirs = []string{filepath.Join(cfg.WorkDir, "reports")}
	}
	if cfg.EvidenceDir == "" {
		cfg.EvidenceDir = filepath.Join(cfg.WorkDir, "evidence")
	}

	if cfg.LoadTool.Binary == "" {
		cfg.LoadTool.Binary = "jmeter"
	}
	if cfg.LoadTool.Timeout == 0 {
		cfg.LoadTool.Timeout = 10 * time.Minute
	}

	if cfg.Functional.Command == nil {
		cfg.Functional.Command = []string{"mvn", "-B", "test"}
	}
	if cfg.Functional.Timeout == 0 {
		cfg.Functional.Timeout = 5 * time.Minute
	}

	if len(cfg.Scenarios) == 0 {
		cfg.Scenarios = DefaultScenarios()
	}
	if len(cfg.ScenarioRule.Keywords) == 0 {
		cfg.ScenarioRule.Keywords = DefaultKeywords()
	}
	if cfg.ScenarioRule.DefaultUsers == 0 {
		cfg.ScenarioRule.DefaultUsers = 10
	}
	if len(cfg.Thresholds) == 0 {
		cfg.Thresholds = DefaultThresholds()
	}
	if len(cfg.Simulation.Profiles) == 0 && cfg.Simulation.Default == (ProfileConfig{}) {
		cfg.Simulation = DefaultSimulation()
	}

	if cfg.Pipeline.Workers == 0 {
		cfg.Pipeline.Workers = 2
	}
	if cfg.Pipeline.ScanConcurrency == 0 {
		cfg.Pipeline.ScanConcurrency = 4
	}
	if cfg.Pipeline.PrepareTimeout == 0 {
		cfg.Pipeline.PrepareTimeout = 30 * time.Second
	}
	if cfg.Pipeline.FunctionalTimeout == 0 {
		cfg.Pipeline.FunctionalTimeout = cfg.Functional.Timeout + 30*time.Second
	}
	if cfg.Pipeline.PerformanceTimeout == 0 {
		cfg.Pipeline.PerformanceTimeout = 30 * time.Minute
		if floor := cfg.LoadTool.Timeout + time.Minute; floor > cfg.Pipeline.PerformanceTimeout {
			cfg.Pipeline.PerformanceTimeout = floor
		}
	}
	if cfg.Pipeline.EvidenceTimeout == 0 {
		cfg.Pipeline.EvidenceTimeout = time.Minute
	}
	if cfg.Pipeline.ShutdownGrace == 0 {
		cfg.Pipeline.ShutdownGrace = 10 * time.Second
	}

	if cfg.Storage != nil {
		cfg.Storage.applyDefaults()
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
