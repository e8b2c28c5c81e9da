package cmd

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/searchview/internal/view"
)

func TestViews_CreateListDelete(t *testing.T) {
	dataDir := testEnv(t)

	out, err := run(t, "", "views")
	require.NoError(t, err)
	assert.Contains(t, out, "No views")

	out, err = run(t, "", "views", "create", "orders")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Created view orders")
	assert.FileExists(t, filepath.Join(dataDir, "orders", view.PropertiesFileName))

	out, err = run(t, "", "views")
	require.NoError(t, err)
	assert.Contains(t, out, "orders")
	assert.Contains(t, out, "sqlite")

	out, err = run(t, "", "views", "delete", "orders")
	require.NoError(t, err)
	assert.Contains(t, out, "without --force")
	assert.DirExists(t, filepath.Join(dataDir, "orders"))

	_, err = run(t, "", "views", "delete", "orders", "--force")
	require.NoError(t, err)
	assert.NoDirExists(t, filepath.Join(dataDir, "orders"))
}

func TestViews_RejectsPathNames(t *testing.T) {
	testEnv(t)
	for _, name := range []string{"..", "a/b", `a\b`} {
		_, err := run(t, "", "views", "create", name)
		require.Error(t, err, name)
		assert.Contains(t, err.Error(), "invalid view name")
	}
}

func TestCollections_AddListDrop(t *testing.T) {
	// Given: a view with documents in collections 1 and 2
	testEnv(t)
	_, err := run(t, widgets, "ingest", "orders", "-c", "1", "--create")
	require.NoError(t, err)
	_, err = run(t, widgets, "ingest", "orders", "-c", "2")
	require.NoError(t, err)

	out, err := run(t, "", "collections", "add", "orders", "9")
	require.NoError(t, err)
	assert.Contains(t, out, "now tracks collection 9")
	out, err = run(t, "", "collections", "add", "orders", "9")
	require.NoError(t, err)
	assert.Contains(t, out, "already tracks")

	out, err = run(t, "", "collections", "orders")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "9"}, strings.Fields(out))

	// When: dropping collection 1
	_, err = run(t, "", "collections", "drop", "orders", "1")
	require.NoError(t, err)

	// Then: only collection 2's documents remain
	out, err = run(t, "", "collections", "orders")
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "9"}, strings.Fields(out))

	result := searchJSON(t, "orders", "widget", "--field", "name")
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 3, result.Visible)
	for _, h := range result.Hits {
		assert.Equal(t, uint64(2), h.Key.Collection)
	}
}

func TestStats_JSON(t *testing.T) {
	testEnv(t)
	_, err := run(t, widgets, "ingest", "orders", "-c", "1", "--create")
	require.NoError(t, err)

	out, err := run(t, "", "stats", "--json")
	require.NoError(t, err, out)

	var stats []StatsOutput
	require.NoError(t, json.Unmarshal([]byte(out), &stats), out)
	require.Len(t, stats, 1)
	assert.Equal(t, "orders", stats[0].Name)
	assert.Equal(t, 1, stats[0].Collections)
	assert.Equal(t, 3, stats[0].PersistedDocs)
	assert.Greater(t, stats[0].StoreBytes, uint64(0))

	out, err = run(t, "", "stats", "orders")
	require.NoError(t, err)
	assert.Contains(t, out, "Persisted")
	assert.Contains(t, out, "3 docs")
}

func TestCompact_KeepsDocuments(t *testing.T) {
	// Given: several ingests of the same keys, each leaving a persisted segment
	testEnv(t)
	for i := 0; i < 3; i++ {
		_, err := run(t, widgets, "ingest", "orders", "-c", "1", "--create")
		require.NoError(t, err)
	}

	// When: compacting
	out, err := run(t, "", "compact", "orders")
	require.NoError(t, err, out)
	assert.Contains(t, out, "orders:")

	// Then: the documents survive consolidation
	result := searchJSON(t, "orders", "widget", "--field", "name")
	assert.Equal(t, 2, result.Total)
}

func TestServe_CreatesAndFlushes(t *testing.T) {
	// Given: serve with a view to create and a short lifetime
	dataDir := testEnv(t)
	t.Setenv("SEARCHVIEW_SYNC_INTERVAL", "20ms")
	t.Setenv("SEARCHVIEW_FORCE_POLLING", "true")

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	// When: it runs until the context ends
	out, err := runContext(t, ctx, "", "serve", "--create", "orders")

	// Then: it exits cleanly after opening the view
	require.NoError(t, err, out)
	assert.Contains(t, out, "Serving 1 view")
	assert.FileExists(t, filepath.Join(dataDir, "orders", view.PropertiesFileName))
}

func TestServe_NoViews(t *testing.T) {
	testEnv(t)
	_, err := run(t, "", "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no views")
}

func TestServe_ReloadsEditedProperties(t *testing.T) {
	// Given: an existing view and a fast polling watcher
	dataDir := testEnv(t)
	_, err := run(t, "", "views", "create", "orders")
	require.NoError(t, err)
	cfgPath := filepath.Join(t.TempDir(), "serve.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
watch:
  enabled: true
  force_polling: true
  poll_interval: 20ms
  debounce: 20ms
`), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := runContext(t, ctx, "", "--debug", "--config", cfgPath, "serve", "orders")
		done <- err
	}()

	// When: view.yaml is edited while serving
	dir := filepath.Join(dataDir, "orders")
	time.Sleep(150 * time.Millisecond)
	props, err := view.LoadProperties(dir)
	require.NoError(t, err)
	props.CleanupIntervalStep = 42
	data, err := yaml.Marshal(props)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, view.PropertiesFileName), data, 0o644))

	// Then: the running view picks the change up
	require.Eventually(t, func() bool {
		out, err := run(t, "", "logs", "--filter", "view_properties_reloaded", "--no-color")
		return err == nil && strings.Contains(out, "view_properties_reloaded")
	}, 3*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	reloaded, err := view.LoadProperties(dir)
	require.NoError(t, err)
	assert.Equal(t, 42, reloaded.CleanupIntervalStep)
}
