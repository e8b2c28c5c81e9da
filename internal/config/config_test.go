package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/searchview/internal/segment"
	"github.com/Aman-CERP/searchview/internal/view"
)

// isolate points the user config lookup at an empty directory and clears
// every SEARCHVIEW_* override.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	for _, key := range []string{
		"SEARCHVIEW_DATA_DIR", "SEARCHVIEW_BACKEND", "SEARCHVIEW_SYNC_INTERVAL",
		"SEARCHVIEW_CLEANUP_INTERVAL_STEP", "SEARCHVIEW_LOCK_WAIT", "SEARCHVIEW_CONSOLIDATION",
		"SEARCHVIEW_LOG_LEVEL", "SEARCHVIEW_LOG_FILE", "SEARCHVIEW_WATCH", "SEARCHVIEW_FORCE_POLLING",
	} {
		t.Setenv(key, "")
	}
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	// Given: no configuration file exists
	cfg := NewConfig()

	// Then: defaults mirror a new view's properties
	require.NotNil(t, cfg)
	props := view.DefaultProperties()
	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, props.Backend, cfg.Store.Backend)
	assert.Equal(t, props.SyncInterval, cfg.Sync.Interval)
	assert.Equal(t, props.CleanupIntervalStep, cfg.Sync.CleanupIntervalStep)
	assert.Equal(t, props.LockWait, cfg.Sync.LockWait)
	assert.Equal(t, props.Consolidation, cfg.ConsolidationPolicy())
	assert.Equal(t, props.MatchCacheSize, cfg.Query.MatchCacheSize)

	assert.Contains(t, cfg.Paths.DataDir, filepath.Join(".searchview", "views"))
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Stderr)
	assert.True(t, cfg.Watch.Enabled)
	assert.Equal(t, 200*time.Millisecond, cfg.Watch.Debounce)
	require.NoError(t, cfg.Validate())
}

func TestLoad_NoFilesReturnsDefaults(t *testing.T) {
	// Given: no user config and no explicit file
	isolate(t)

	// When: loading configuration
	cfg, err := Load("")

	// Then: defaults are returned without error
	require.NoError(t, err)
	assert.Equal(t, NewConfig(), cfg)
}

func TestLoad_ExplicitFileOverridesDefaults(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "searchview.yaml")
	writeFile(t, path, `
paths:
  data_dir: /srv/views
store:
  backend: bolt
sync:
  interval: 250ms
  cleanup_interval_step: 3
  lock_wait: 5ms
consolidation:
  type: fill
  threshold: 0.3
query:
  match_cache_size: 64
logging:
  level: debug
  stderr: false
watch:
  force_polling: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/views", cfg.Paths.DataDir)
	assert.Equal(t, "bolt", cfg.Store.Backend)
	assert.Equal(t, 250*time.Millisecond, cfg.Sync.Interval)
	assert.Equal(t, 3, cfg.Sync.CleanupIntervalStep)
	assert.Equal(t, 5*time.Millisecond, cfg.Sync.LockWait)
	assert.Equal(t, segment.PolicyFill, cfg.ConsolidationPolicy().Type)
	assert.Equal(t, 0.3, cfg.Consolidation.Threshold)
	// unset fields keep their defaults
	assert.Equal(t, NewConfig().Consolidation.SegmentThreshold, cfg.Consolidation.SegmentThreshold)
	assert.Equal(t, 64, cfg.Query.MatchCacheSize)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Stderr)
	assert.True(t, cfg.Watch.ForcePolling)
	assert.True(t, cfg.Watch.Enabled)
}

func TestLoad_Precedence(t *testing.T) {
	// Given: a user config, an explicit file and an env override
	home := isolate(t)
	writeFile(t, filepath.Join(home, "searchview", FileName), `
store:
  backend: bolt
sync:
  interval: 2s
  lock_wait: 10ms
logging:
  stderr: false
`)
	explicit := filepath.Join(t.TempDir(), "override.yaml")
	writeFile(t, explicit, "sync:\n  interval: 500ms\n")
	t.Setenv("SEARCHVIEW_LOCK_WAIT", "1ms")

	// When: loading
	cfg, err := Load(explicit)
	require.NoError(t, err)

	// Then: each layer wins over the one below it
	assert.Equal(t, "bolt", cfg.Store.Backend, "user config over defaults")
	assert.Equal(t, 500*time.Millisecond, cfg.Sync.Interval, "explicit file over user config")
	assert.Equal(t, time.Millisecond, cfg.Sync.LockWait, "env over every file")
	assert.False(t, cfg.Logging.Stderr, "false booleans survive the user layer")
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("SEARCHVIEW_DATA_DIR", "/tmp/views")
	t.Setenv("SEARCHVIEW_BACKEND", "BOLT")
	t.Setenv("SEARCHVIEW_SYNC_INTERVAL", "3s")
	t.Setenv("SEARCHVIEW_CLEANUP_INTERVAL_STEP", "7")
	t.Setenv("SEARCHVIEW_CONSOLIDATION", "none")
	t.Setenv("SEARCHVIEW_LOG_LEVEL", "warn")
	t.Setenv("SEARCHVIEW_LOG_FILE", "/tmp/sv.log")
	t.Setenv("SEARCHVIEW_WATCH", "false")
	t.Setenv("SEARCHVIEW_FORCE_POLLING", "1")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/tmp/views", cfg.Paths.DataDir)
	assert.Equal(t, "bolt", cfg.Store.Backend)
	assert.Equal(t, 3*time.Second, cfg.Sync.Interval)
	assert.Equal(t, 7, cfg.Sync.CleanupIntervalStep)
	assert.Equal(t, segment.PolicyNone, cfg.ConsolidationPolicy().Type)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "/tmp/sv.log", cfg.Logging.File)
	assert.False(t, cfg.Watch.Enabled)
	assert.True(t, cfg.Watch.ForcePolling)
}

func TestLoad_MalformedEnvIsIgnored(t *testing.T) {
	isolate(t)
	t.Setenv("SEARCHVIEW_SYNC_INTERVAL", "soon")
	t.Setenv("SEARCHVIEW_CLEANUP_INTERVAL_STEP", "many")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, NewConfig().Sync.Interval, cfg.Sync.Interval)
	assert.Equal(t, NewConfig().Sync.CleanupIntervalStep, cfg.Sync.CleanupIntervalStep)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad yaml", "sync: [unclosed", "failed to parse"},
		{"unknown backend", "store:\n  backend: leveldb\n", "store.backend"},
		{"bad level", "logging:\n  level: loud\n", "logging.level"},
		{"negative step", "sync:\n  cleanup_interval_step: -1\n", "cleanup_interval_step"},
		{"bad policy", "consolidation:\n  type: tiered\n", "invalid configuration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			path := filepath.Join(t.TempDir(), "bad.yaml")
			writeFile(t, path, tt.content)

			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	isolate(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestConfig_Projections(t *testing.T) {
	cfg := NewConfig()
	cfg.Store.Backend = "bolt"
	cfg.Sync.Interval = time.Minute
	cfg.Sync.LockWait = 3 * time.Millisecond
	cfg.Query.MatchCacheSize = 9
	cfg.Logging.File = "/var/log/sv.log"
	cfg.Watch.PollInterval = time.Second

	props := cfg.ViewProperties()
	assert.Equal(t, "bolt", props.Backend)
	assert.Equal(t, time.Minute, props.SyncInterval)
	assert.Equal(t, 9, props.MatchCacheSize)
	assert.Empty(t, props.Collections)
	require.NoError(t, props.Validate())

	wc := cfg.WorkerConfig()
	assert.Equal(t, time.Minute, wc.Interval)
	assert.Equal(t, 3*time.Millisecond, wc.LockWait)
	assert.Equal(t, cfg.Sync.CleanupIntervalStep, wc.CleanupIntervalStep)

	lc := cfg.LoggingConfig()
	assert.Equal(t, "/var/log/sv.log", lc.FilePath)
	assert.Equal(t, cfg.Logging.MaxFiles, lc.MaxFiles)
	assert.True(t, lc.WriteToStderr)

	wo := cfg.WatcherOptions()
	assert.Equal(t, view.PropertiesFileName, wo.FileName)
	assert.Equal(t, time.Second, wo.PollInterval)
}

func TestWriteYAML_RoundTrip(t *testing.T) {
	isolate(t)
	cfg := NewConfig()
	cfg.Store.Backend = "bolt"
	cfg.Sync.Interval = 750 * time.Millisecond
	cfg.Logging.Stderr = false

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, cfg.WriteYAML(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "interval: 750ms")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestMissingKeys(t *testing.T) {
	// Given: a config written before the breaker and watch settings existed
	path := filepath.Join(t.TempDir(), "old.yaml")
	writeFile(t, path, `
version: 1
paths:
  data_dir: /srv/views
store:
  backend: bolt
sync:
  interval: 1s
  cleanup_interval_step: 10
  lock_wait: 50ms
consolidation:
  type: count
  segment_threshold: 10
  threshold: 0.5
query:
  match_cache_size: 256
logging:
  level: info
  file: ""
  max_size_mb: 10
  max_files: 5
  stderr: true
`)

	// When: diffing against the current settings
	missing, err := MissingKeys(path)
	require.NoError(t, err)

	// Then: exactly the new settings are reported
	assert.Equal(t, []string{
		"sync.max_failures", "sync.reset_timeout",
		"watch.debounce", "watch.enabled", "watch.force_polling", "watch.poll_interval",
	}, missing)
}

func TestMissingKeys_WrittenConfigIsComplete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, NewConfig().WriteYAML(path))

	missing, err := MissingKeys(path)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestGetUserConfigPath_XDG(t *testing.T) {
	dir := isolate(t)
	assert.Equal(t, filepath.Join(dir, "searchview", "config.yaml"), GetUserConfigPath())
	assert.Equal(t, filepath.Join(dir, "searchview"), GetUserConfigDir())
	assert.False(t, UserConfigExists())

	cfg, err := LoadUserConfig()
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_ExpandsHome(t *testing.T) {
	isolate(t)
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("SEARCHVIEW_DATA_DIR", "~/views")
	t.Setenv("SEARCHVIEW_LOG_FILE", "~/logs/sv.log")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "views"), cfg.Paths.DataDir)
	assert.Equal(t, filepath.Join(home, "logs", "sv.log"), cfg.Logging.File)
}
