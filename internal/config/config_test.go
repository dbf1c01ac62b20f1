package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"PORT", "DATA_ROOT", "DB_PATH", "POLL_INTERVAL_MS", "HEARTBEAT_STALE_MS",
		"PLUGIN_SEARCH_PATH", "MAX_UPLOAD_BYTES", "TOOL_TIMEOUT_MS", "REDIS_URL",
		"SENTRY_DSN", "DISPATCH_ENV", "LOG_FORMAT", "LOG_LEVEL", "SUBMIT_RATE",
		"DISPATCH_CONFIG_FILE",
	}
	for _, k := range keys {
		orig, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, orig)
			}
		})
	}
}

func TestLoad_RequiresDataRootAndDBPath(t *testing.T) {
	clearEnv(t)
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_DefaultsApplied(t *testing.T) {
	clearEnv(t)
	os.Setenv("DATA_ROOT", "/data")
	os.Setenv("DB_PATH", "/data/jobs.db")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 5000*time.Millisecond, cfg.HeartbeatStale)
	assert.Equal(t, int64(512*1024*1024), cfg.MaxUploadBytes)
	assert.Equal(t, time.Duration(0), cfg.ToolTimeout)
	assert.Empty(t, cfg.RedisURL)
	assert.Empty(t, cfg.SentryDSN)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	clearEnv(t)
	os.Setenv("DATA_ROOT", "/data")
	os.Setenv("DB_PATH", "/data/jobs.db")
	os.Setenv("POLL_INTERVAL_MS", "1000")
	os.Setenv("REDIS_URL", "redis://localhost:6379")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, "redis://localhost:6379", cfg.RedisURL)
}

func TestLoad_FileOverlayFillsUnsetEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "dispatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_root: /from-file/data
db_path: /from-file/jobs.db
poll_interval_ms: 250
`), 0o644))

	os.Setenv("DISPATCH_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/from-file/data", cfg.DataRoot)
	assert.Equal(t, "/from-file/jobs.db", cfg.DBPath)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
}

func TestLoad_EnvTakesPrecedenceOverFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "dispatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_root: /from-file/data
db_path: /from-file/jobs.db
poll_interval_ms: 250
`), 0o644))

	os.Setenv("DISPATCH_CONFIG_FILE", path)
	os.Setenv("DATA_ROOT", "/from-env/data")
	os.Setenv("DB_PATH", "/from-env/jobs.db")
	os.Setenv("POLL_INTERVAL_MS", "750")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/from-env/data", cfg.DataRoot)
	assert.Equal(t, "/from-env/jobs.db", cfg.DBPath)
	assert.Equal(t, 750*time.Millisecond, cfg.PollInterval)
}

func TestLoad_MissingOverlayFileIsNotFatal(t *testing.T) {
	clearEnv(t)
	os.Setenv("DATA_ROOT", "/data")
	os.Setenv("DB_PATH", "/data/jobs.db")
	os.Setenv("DISPATCH_CONFIG_FILE", "/nonexistent/dispatch.yaml")

	_, err := Load()
	assert.NoError(t, err)
}
