package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 5, cfg.Sync.SchoolConcurrency)
	require.Equal(t, 1000, cfg.Sync.EventBatchLimit)
	require.False(t, cfg.Sync.FullOnMissingCursor)
	require.Equal(t, 2*time.Hour, cfg.Sync.StaleAttemptThreshold)
	require.Equal(t, 30*time.Second, cfg.SIS.Timeout)
	require.Equal(t, "info", cfg.Log.Level)
	require.NotEmpty(t, cfg.ControlDB)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rostersync.yaml")
	content := `
control:
  db: /var/lib/rostersync/control.db
sync:
  school_concurrency: 3
  event_batch_limit: 250
  attempt_timeout: 15m
  full_on_missing_cursor: true
sis:
  base_url: https://sis.example.com/api
  max_retries: 2
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "/var/lib/rostersync/control.db", cfg.ControlDB)
	require.Equal(t, 3, cfg.Sync.SchoolConcurrency)
	require.Equal(t, 250, cfg.Sync.EventBatchLimit)
	require.Equal(t, 15*time.Minute, cfg.Sync.AttemptTimeout)
	require.True(t, cfg.Sync.FullOnMissingCursor)
	require.Equal(t, "https://sis.example.com/api", cfg.SIS.BaseURL)
	require.Equal(t, 2, cfg.SIS.MaxRetries)
	require.Equal(t, "debug", cfg.Log.Level)

	// Untouched keys keep defaults.
	require.Equal(t, 30*time.Second, cfg.SIS.Timeout)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("RS_SYNC_SCHOOL_CONCURRENCY", "9")
	t.Setenv("RS_SIS_TOKEN", "sekrit")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 9, cfg.Sync.SchoolConcurrency)
	require.Equal(t, "sekrit", cfg.SIS.Token)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("RS_SYNC_SCHOOL_CONCURRENCY", "0")
	_, err := Load("")
	require.Error(t, err)
}
