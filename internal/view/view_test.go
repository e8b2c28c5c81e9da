package view

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/searchview/internal/analysis"
	sverrors "github.com/Aman-CERP/searchview/internal/errors"
	"github.com/Aman-CERP/searchview/internal/segment"
	"github.com/Aman-CERP/searchview/internal/store"
)

func TestNew_RequiresDataDir(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, sverrors.ErrInvalidInput)
}

func TestNew_ZeroPropertiesUseDefaults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "orders")
	v, err := New(Options{DataDir: dir})
	require.NoError(t, err)

	p := v.Properties()
	assert.Equal(t, "orders", p.Name)
	assert.Equal(t, DefaultProperties().SyncInterval, p.SyncInterval)
	assert.Equal(t, segment.DefaultPolicy(), p.Consolidation)
}

func TestOpen_WritesPropertiesAndLocksDirectory(t *testing.T) {
	// Given: an opened view
	dir := t.TempDir()
	v := newTestView(t, dir, manualProperties())
	require.NoError(t, v.Open(context.Background()))
	defer func() { _ = v.Close() }()

	// Then: view.yaml and the persisted store exist
	_, err := os.Stat(filepath.Join(dir, PropertiesFileName))
	require.NoError(t, err)
	assert.Equal(t, store.BackendSQLite, store.DetectBackend(filepath.Join(dir, "segments")))

	// And: a second view on the same directory is refused
	other := newTestView(t, dir, manualProperties())
	err = other.Open(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, sverrors.ErrStoreLocked)
}

func TestOpen_Twice(t *testing.T) {
	v, _ := openTestView(t, manualProperties())
	assert.Error(t, v.Open(context.Background()))
}

func TestView_ReopenKeepsCommittedDocuments(t *testing.T) {
	for _, backend := range []store.Backend{store.BackendSQLite, store.BackendBolt} {
		t.Run(string(backend), func(t *testing.T) {
			// Given: a view with committed documents and collections
			dir := t.TempDir()
			props := manualProperties()
			props.Backend = string(backend)
			v := newTestView(t, dir, props)
			require.NoError(t, v.Open(context.Background()))
			mgr := newManager()
			insertCommitted(t, v, mgr, 7, 0, 5)
			require.NoError(t, v.Commit())

			// And: transactions committed after the last view commit
			insertCommitted(t, v, mgr, 8, 0, 3)

			// When: closing and reopening the directory
			require.NoError(t, v.Close())
			reopened := newTestView(t, dir, manualProperties())
			require.NoError(t, reopened.Open(context.Background()))
			defer func() { _ = reopened.Close() }()

			// Then: everything committed survives, close flushed the rest
			assert.Equal(t, 8, forcedCount(t, reopened, mgr))
			assert.Equal(t, []uint64{7, 8}, reopened.Properties().Collections)
			assert.Equal(t, string(backend), reopened.Properties().Backend)
		})
	}
}

func TestOpen_PrunesUntrackedCollections(t *testing.T) {
	// Given: a view holding collections 1 and 2
	dir := t.TempDir()
	v := newTestView(t, dir, manualProperties())
	require.NoError(t, v.Open(context.Background()))
	mgr := newManager()
	insertCommitted(t, v, mgr, 1, 0, 4)
	insertCommitted(t, v, mgr, 2, 0, 6)
	require.NoError(t, v.Commit())
	require.NoError(t, v.Close())

	// And: view.yaml no longer tracks collection 2
	p, err := LoadProperties(dir)
	require.NoError(t, err)
	p.Collections = []uint64{1}
	require.NoError(t, saveProperties(dir, p))

	// When: reopening
	reopened := newTestView(t, dir, manualProperties())
	require.NoError(t, reopened.Open(context.Background()))
	defer func() { _ = reopened.Close() }()

	// Then: only collection 1 documents remain
	assert.Equal(t, 4, forcedCount(t, reopened, mgr))
}

func TestView_ClosedViewRejectsOperations(t *testing.T) {
	// Given: a closed view
	v, mgr := openTestView(t, manualProperties())
	insertCommitted(t, v, mgr, 1, 0, 1)
	require.NoError(t, v.Close())

	tx := mgr.Begin()
	defer func() { _ = tx.Abort() }()

	// Then: every operation reports the closed view
	err := v.Insert(tx, 1, 9, body("late"), analysis.DefaultLinkMeta())
	assert.ErrorIs(t, err, sverrors.ErrViewClosed)
	err = v.Insert(tx, 99, 9, body("late"), analysis.DefaultLinkMeta())
	assert.ErrorIs(t, err, sverrors.ErrViewClosed)
	assert.ErrorIs(t, v.Commit(), sverrors.ErrViewClosed)
	assert.ErrorIs(t, v.Drop(1), sverrors.ErrViewClosed)
	_, err = v.Snapshot(tx, true)
	assert.ErrorIs(t, err, sverrors.ErrViewClosed)
	_, err = v.Stats()
	assert.ErrorIs(t, err, sverrors.ErrViewClosed)

	// And: closing again is harmless
	assert.NoError(t, v.Close())
}

func TestView_Delete(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "view")
	v := newTestView(t, dir, manualProperties())
	require.NoError(t, v.Open(context.Background()))
	insertCommitted(t, v, newManager(), 1, 0, 2)

	require.NoError(t, v.Delete())

	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestView_UpdateProperties(t *testing.T) {
	// Given: an open view
	v, _ := openTestView(t, manualProperties())

	// When: updating the mutable properties
	p := v.Properties()
	p.Name = "renamed"
	p.SyncInterval = 5 * time.Second
	p.Consolidation = segment.Policy{Type: segment.PolicyNone}
	p.Collections = []uint64{42}
	require.NoError(t, v.UpdateProperties(p))

	// Then: they are applied and persisted, collections untouched
	assert.Equal(t, "renamed", v.Name())
	assert.Equal(t, 5*time.Second, v.WorkerConfig().Interval)
	stored, err := LoadProperties(v.DataDir())
	require.NoError(t, err)
	assert.Equal(t, "renamed", stored.Name)
	assert.Equal(t, segment.PolicyNone, stored.Consolidation.Type)
	assert.Empty(t, stored.Collections)

	// And: invalid properties are rejected
	p.SyncInterval = -time.Second
	assert.Error(t, v.UpdateProperties(p))
}

func TestView_ReloadProperties(t *testing.T) {
	// Given: an open view whose view.yaml was edited on disk
	v, _ := openTestView(t, manualProperties())
	p, err := LoadProperties(v.DataDir())
	require.NoError(t, err)
	p.Name = "edited"
	p.MatchCacheSize = 16
	require.NoError(t, saveProperties(v.DataDir(), p))

	// When: reloading
	changed, err := v.ReloadProperties()

	// Then: the edit is applied once
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "edited", v.Name())
	assert.Equal(t, 16, v.Properties().MatchCacheSize)

	changed, err = v.ReloadProperties()
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestView_Stats(t *testing.T) {
	// Given: committed data plus a running transaction
	v, mgr := openTestView(t, manualProperties())
	insertCommitted(t, v, mgr, 1, 0, 3)
	require.NoError(t, v.Commit())

	running := mgr.Begin()
	defer func() { _ = running.Abort() }()
	require.NoError(t, v.Insert(running, 1, 10, body("x"), analysis.DefaultLinkMeta()))
	_, err := v.Snapshot(running, true)
	require.NoError(t, err)

	// When
	s, err := v.Stats()

	// Then
	require.NoError(t, err)
	assert.Equal(t, "test", s.Name)
	assert.Equal(t, 1, s.Collections)
	assert.Equal(t, 3, s.PersistedDocs)
	assert.Equal(t, 1, s.PersistedSegments)
	assert.Equal(t, 1, s.Pending)
	assert.Equal(t, 1, s.Snapshots)
	assert.Equal(t, 1, s.Transactions)
}

func TestView_FailedOpenReleasesLock(t *testing.T) {
	// Given: a directory whose view.yaml is not valid yaml
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, PropertiesFileName), []byte("sync_interval: [oops"), 0o644))

	// When: opening
	v := newTestView(t, dir, manualProperties())
	err := v.Open(context.Background())

	// Then: the error is a config error and the lock is released
	require.Error(t, err)
	assert.True(t, errors.Is(err, &sverrors.ViewError{Code: sverrors.ErrCodeConfigInvalid}))
	lock := store.NewFileLock(dir)
	ok, err := lock.TryLock()
	require.NoError(t, err)
	assert.True(t, ok)
	_ = lock.Unlock()
}
