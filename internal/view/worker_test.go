package view

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/searchview/internal/analysis"
	"github.com/Aman-CERP/searchview/internal/syncworker"
)

// scheduledProperties has the worker visit the view every millisecond.
func scheduledProperties() Properties {
	p := manualProperties()
	p.SyncInterval = time.Millisecond
	p.CleanupIntervalStep = 2
	p.LockWait = time.Millisecond
	return p
}

func fastWorker(t *testing.T, m *syncworker.Metrics) *syncworker.Worker {
	t.Helper()
	cfg := syncworker.Config{Interval: time.Millisecond}
	opts := []syncworker.Option{syncworker.WithLogger(discardLogger())}
	if m != nil {
		opts = append(opts, syncworker.WithMetrics(m))
	}
	w := syncworker.New(syncworker.ConfigFunc(func() syncworker.Config { return cfg }), opts...)
	w.Start(context.Background())
	t.Cleanup(w.Close)
	return w
}

func TestWorker_SyncMakesCommittedWritesVisible(t *testing.T) {
	// Given: a view on a shared fast worker
	w := fastWorker(t, nil)
	v, err := New(Options{DataDir: t.TempDir(), Properties: scheduledProperties(), Worker: w, Logger: discardLogger()})
	require.NoError(t, err)
	require.NoError(t, v.Open(context.Background()))
	defer func() { _ = v.Close() }()
	mgr := newManager()

	// When: a transaction commits without an explicit view commit
	insertCommitted(t, v, mgr, 1, 0, 5)

	// Then: a scheduled cycle drains it into the persisted store
	assert.Eventually(t, func() bool {
		return v.persisted.Reader().DocCount() == 5
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 5, forcedCount(t, v, mgr))
}

func TestWorker_OwnWorkerFollowsProperties(t *testing.T) {
	// Given: a view with its own worker in manual mode
	v, mgr := openTestView(t, manualProperties())
	insertCommitted(t, v, mgr, 1, 0, 3)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 0, v.persisted.Reader().DocCount())

	// When: the sync interval is switched on
	p := v.Properties()
	p.SyncInterval = time.Millisecond
	require.NoError(t, v.UpdateProperties(p))

	// Then: the refreshed worker syncs without an explicit commit
	assert.Eventually(t, func() bool {
		return v.persisted.Reader().DocCount() == 3
	}, 5*time.Second, 5*time.Millisecond)
}

func TestWorker_SharedWorkerFollowsViewProperties(t *testing.T) {
	// Given: a manual view on a shared worker that cycles every millisecond
	w := fastWorker(t, nil)
	v, err := New(Options{DataDir: t.TempDir(), Properties: manualProperties(), Worker: w, Logger: discardLogger()})
	require.NoError(t, err)
	require.NoError(t, v.Open(context.Background()))
	defer func() { _ = v.Close() }()
	mgr := newManager()
	insertCommitted(t, v, mgr, 1, 0, 4)

	// Then: cycles pass without visiting its stores
	require.Eventually(t, func() bool { return w.Cycles() >= 10 }, 5*time.Second, time.Millisecond)
	require.Equal(t, 0, v.persisted.Reader().DocCount())

	// When: the view's own interval is switched on
	p := v.Properties()
	p.SyncInterval = time.Millisecond
	require.NoError(t, v.UpdateProperties(p))

	// Then: the shared worker syncs it on that interval
	assert.Eventually(t, func() bool {
		return v.persisted.Reader().DocCount() == 4
	}, 5*time.Second, 5*time.Millisecond)

	// And: the handle reports the view's parameters to the worker
	cfg, ok := v.persistedHandle().TaskConfig()
	require.True(t, ok)
	assert.Equal(t, p.WorkerConfig(), cfg)
}

func TestWorker_ExplicitCommitCompletesUnderLoad(t *testing.T) {
	w := fastWorker(t, nil)
	v, err := New(Options{DataDir: t.TempDir(), Properties: scheduledProperties(), Worker: w, Logger: discardLogger()})
	require.NoError(t, err)
	require.NoError(t, v.Open(context.Background()))
	defer func() { _ = v.Close() }()
	mgr := newManager()

	for i := range 20 {
		insertCommitted(t, v, mgr, 1, i*5, i*5+5)
		require.NoError(t, v.Commit())
	}
	assert.Equal(t, 100, forcedCount(t, v, mgr))
}

func TestWorker_DestroyRacesCycles(t *testing.T) {
	// Given: a shared worker cycling every millisecond
	metrics := syncworker.NewMetrics(prometheus.NewRegistry())
	w := fastWorker(t, metrics)
	root := t.TempDir()

	// When: many views are written to and destroyed while it runs
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := New(Options{
				DataDir:    filepath.Join(root, fmt.Sprintf("view-%d", i)),
				Properties: scheduledProperties(),
				Worker:     w,
				Logger:     discardLogger(),
			})
			if !assert.NoError(t, err) || !assert.NoError(t, v.Open(context.Background())) {
				return
			}
			mgr := newManager()
			for j := range 5 {
				tx := mgr.Begin()
				for did := range 10 {
					_ = v.Insert(tx, uint64(j), uint64(did), body("x"), analysis.DefaultLinkMeta())
				}
				_ = tx.Commit()
			}
			if i%2 == 0 {
				assert.NoError(t, v.Delete())
			} else {
				assert.NoError(t, v.Close())
			}
		}()
	}
	wg.Wait()

	// Then: the worker drops every task of the destroyed views
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.ActiveTasks) == 0
	}, 5*time.Second, 5*time.Millisecond)
}

