package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/perf-cascade/runner/types"
)

type LoaderTestSuite struct {
	suite.Suite
	log     logrus.FieldLogger
	tempDir string
}

func (s *LoaderTestSuite) SetupTest() {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	s.log = logger
	s.tempDir = s.T().TempDir()
}

func (s *LoaderTestSuite) writeConfig(content string) string {
	path := filepath.Join(s.tempDir, "perf.yaml")
	require.NoError(s.T(), os.WriteFile(path, []byte(content), 0644))
	return path
}

func (s *LoaderTestSuite) TestEmptyPathUsesDefaults() {
	cfg, err := LoadFromFile("", s.log)
	require.NoError(s.T(), err)

	assert.Equal(s.T(), "perf-work", cfg.WorkDir)
	assert.Equal(s.T(), []string{filepath.Join("perf-work", "results")}, cfg.ResultsDirs)
	assert.Equal(s.T(), "jmeter", cfg.LoadTool.Binary)
	assert.Equal(s.T(), []string{"mvn", "-B", "test"}, cfg.Functional.Command)
	assert.Equal(s.T(), 10, cfg.ScenarioRule.DefaultUsers)
	assert.Len(s.T(), cfg.Thresholds, 4)
	assert.Equal(s.T(), 2, cfg.Pipeline.Workers)
	assert.Nil(s.T(), cfg.Storage)
}

func (s *LoaderTestSuite) TestMissingFileUsesDefaults() {
	cfg, err := LoadFromFile(filepath.Join(s.tempDir, "absent.yaml"), s.log)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), Default().WorkDir, cfg.WorkDir)
}

func (s *LoaderTestSuite) TestLoadsYAMLWithEnvSubstitution() {
	s.T().Setenv("PERF_WORK", "/tmp/perf-run")
	path := s.writeConfig(`
name: checkout
work_dir: ${PERF_WORK}
load_tool:
  binary: /opt/jmeter/bin/jmeter
  timeout: 90s
functional:
  command: []
scenarios:
  - name: GET Masivo
    plan: plans/get.jmx
    users: [10, 100]
thresholds:
  - {tier: EXCELLENT, max_avg_ms: 300, max_error_pct: 0.5}
  - {tier: FAIR, max_avg_ms: 1500, max_error_pct: 3}
pipeline:
  workers: 4
  functional_timeout: 2m
storage:
  enabled: true
  postgresql:
    host: db
    password: ${PG_PASSWORD:-changeme}
`)

	cfg, err := LoadFromFile(path, s.log)
	require.NoError(s.T(), err)

	assert.Equal(s.T(), "checkout", cfg.Name)
	assert.Equal(s.T(), "/tmp/perf-run", cfg.WorkDir)
	assert.Equal(s.T(), filepath.Join("/tmp/perf-run", "evidence"), cfg.EvidenceDir)
	assert.Equal(s.T(), 90*time.Second, cfg.LoadTool.Timeout)
	assert.Empty(s.T(), cfg.Functional.Command, "explicit empty command disables the functional check")
	assert.Equal(s.T(), []int{10, 100}, cfg.Scenarios[0].Users)
	assert.Equal(s.T(), types.TierFair, cfg.Thresholds[1].Tier)
	assert.Equal(s.T(), 4, cfg.Pipeline.Workers)
	assert.Equal(s.T(), 2*time.Minute, cfg.Pipeline.FunctionalTimeout)
	require.NotNil(s.T(), cfg.Storage)
	assert.Equal(s.T(), "db", cfg.Storage.PostgreSQL.Host)
	assert.Equal(s.T(), "changeme", cfg.Storage.PostgreSQL.Password)
	assert.Equal(s.T(), 5432, cfg.Storage.PostgreSQL.Port)
}

func (s *LoaderTestSuite) TestRejectsInvalidConfig() {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"scenario without users", "scenarios:\n  - name: GET\n", "at least one users level"},
		{"non-positive users", "scenarios:\n  - name: GET\n    users: [0]\n", "users must be greater than 0"},
		{"unordered thresholds", "thresholds:\n  - {tier: GOOD, max_avg_ms: 900, max_error_pct: 2}\n  - {tier: EXCELLENT, max_avg_ms: 500, max_error_pct: 1}\n", "thresholds must be ordered"},
		{"unknown tier", "thresholds:\n  - {tier: SUPERB, max_avg_ms: 100, max_error_pct: 1}\n", "unknown tier"},
		{"negative workers", "pipeline:\n  workers: -1\n", "pipeline.workers"},
		{"stage shorter than test runner", "functional:\n  timeout: 5m\npipeline:\n  functional_timeout: 2m\n", "pipeline.functional_timeout"},
		{"stage equal to load tool", "load_tool:\n  timeout: 30m\npipeline:\n  performance_timeout: 30m\n", "pipeline.performance_timeout"},
		{"required env var", "work_dir: ${PERF_MISSING_DIR:?work dir must be set}\n", "work dir must be set"},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := LoadFromFile(s.writeConfig(tt.content), s.log)
			require.Error(s.T(), err)
			assert.Contains(s.T(), err.Error(), tt.wantErr)
		})
	}
}

func (s *LoaderTestSuite) TestStageTimeoutsCoverToolTimeouts() {
	cfg, err := LoadFromFile(s.writeConfig("functional:\n  timeout: 20m\nload_tool:\n  timeout: 45m\n"), s.log)
	require.NoError(s.T(), err)

	assert.Greater(s.T(), cfg.Pipeline.FunctionalTimeout, cfg.Functional.Timeout)
	assert.Greater(s.T(), cfg.Pipeline.PerformanceTimeout, cfg.LoadTool.Timeout)

	def := Default()
	assert.NoError(s.T(), def.Validate())
	assert.Greater(s.T(), def.Pipeline.FunctionalTimeout, def.Functional.Timeout)
	assert.Greater(s.T(), def.Pipeline.PerformanceTimeout, def.LoadTool.Timeout)
}

func TestLoaderTestSuite(t *testing.T) {
	suite.Run(t, new(LoaderTestSuite))
}
