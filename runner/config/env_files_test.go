package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("PERF_TEST_DB_HOST=db.internal\nPERF_TEST_PRESET=from-file\n"), 0o644))

	t.Setenv("PERF_TEST_PRESET", "from-env")
	os.Unsetenv("PERF_TEST_DB_HOST")
	t.Cleanup(func() { os.Unsetenv("PERF_TEST_DB_HOST") })

	n, err := LoadEnvFiles([]string{filepath.Join(dir, "missing.env"), envFile, dir})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "db.internal", os.Getenv("PERF_TEST_DB_HOST"))
	assert.Equal(t, "from-env", os.Getenv("PERF_TEST_PRESET"))

	cfg, err := Parse([]byte("storage:\n  enabled: true\n  postgresql:\n    host: ${PERF_TEST_DB_HOST}\n"))
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.Storage.PostgreSQL.Host)
}

func TestLoadEnvFilesNoneExist(t *testing.T) {
	n, err := LoadEnvFiles([]string{"/nonexistent/.env"})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestLoadEnvFilesMalformed(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "bad.env")
	require.NoError(t, os.WriteFile(bad, []byte("KEY='unterminated\n"), 0o644))

	_, err := LoadEnvFiles([]string{bad})
	assert.Error(t, err)
}
