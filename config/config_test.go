package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points CONFIG_FILE at a path that does not exist and clears
// variables a developer shell might carry.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	for _, key := range []string{
		"ECOCOUNTER_BASE_URL", "DB_PATH", "EXPORT_PATH", "HTTP_TIMEOUT", "REFRESH",
		"RESET_DB", "S3_BUCKET", "S3_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY", "DATABASE_URL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://smartview.ccc.govt.nz", cfg.Source.BaseURL)
	assert.Equal(t, "/app/router/map_features.php?feat=ecocounter", cfg.Source.SitesPath)
	assert.Equal(t, 60*time.Second, cfg.Source.Timeout)
	assert.Equal(t, "cycling.db", cfg.DBPath)
	assert.Equal(t, "cycling-counters.parquet", cfg.ExportPath)
	assert.True(t, cfg.Refresh)
	assert.False(t, cfg.ResetDB)
	assert.False(t, cfg.S3.Enabled())
	assert.EqualValues(t, 2*1024*1024, cfg.LogMaxSize)
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("ECOCOUNTER_BASE_URL", "http://localhost:9999")
	t.Setenv("DB_PATH", "/tmp/counts.db")
	t.Setenv("HTTP_TIMEOUT", "5s")
	t.Setenv("REFRESH", "false")
	t.Setenv("RESET_DB", "1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9999", cfg.Source.BaseURL)
	assert.Equal(t, "/tmp/counts.db", cfg.DBPath)
	assert.Equal(t, 5*time.Second, cfg.Source.Timeout)
	assert.False(t, cfg.Refresh)
	assert.True(t, cfg.ResetDB)
}

func TestLoad_InvalidTimeout(t *testing.T) {
	isolate(t)
	t.Setenv("HTTP_TIMEOUT", "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP_TIMEOUT")
}

func TestLoad_S3KeysMustBePaired(t *testing.T) {
	isolate(t)
	t.Setenv("S3_BUCKET", "exports")
	t.Setenv("S3_ACCESS_KEY_ID", "AKIA")

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_SourceFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "ecocounter.yaml")
	yml := "source:\n  base_url: http://mirror.local\n  counts_path: /counts?type=ecocounter\n  timeout: 10s\n"
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://mirror.local", cfg.Source.BaseURL)
	assert.Equal(t, "/counts?type=ecocounter", cfg.Source.CountsPath)
	assert.Equal(t, "/app/router/map_features.php?feat=ecocounter", cfg.Source.SitesPath)
	assert.Equal(t, 10*time.Second, cfg.Source.Timeout)
}

func TestLoad_BadSourceFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "ecocounter.yaml")
	require.NoError(t, os.WriteFile(path, []byte("source: [unclosed"), 0o644))
	t.Setenv("CONFIG_FILE", path)

	_, err := Load()
	require.Error(t, err)
}
