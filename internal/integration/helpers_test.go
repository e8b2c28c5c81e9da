package integration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/searchview/internal/analysis"
	"github.com/Aman-CERP/searchview/internal/syncworker"
	"github.com/Aman-CERP/searchview/internal/txn"
	"github.com/Aman-CERP/searchview/internal/view"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openView(t *testing.T, dataDir, name, backend string, worker *syncworker.Worker) *view.View {
	t.Helper()
	return openViewWith(t, dataDir, name, backend, worker, 20*time.Millisecond)
}

// openViewWith opens a view whose stores the worker visits every
// syncInterval. Zero leaves syncing to explicit commits.
func openViewWith(t *testing.T, dataDir, name, backend string, worker *syncworker.Worker, syncInterval time.Duration) *view.View {
	t.Helper()
	props := view.DefaultProperties()
	props.Name = name
	props.Backend = backend
	props.SyncInterval = syncInterval
	props.CleanupIntervalStep = 2
	props.LockWait = 10 * time.Millisecond
	v, err := view.New(view.Options{
		DataDir:    filepath.Join(dataDir, name),
		Properties: props,
		Worker:     worker,
		Logger:     discardLogger(),
	})
	require.NoError(t, err)
	require.NoError(t, v.Open(context.Background()))
	return v
}

func insertRange(v *view.View, mgr *txn.Manager, cid uint64, from, to int) error {
	if _, err := v.Emplace(cid); err != nil {
		return err
	}
	tx := mgr.Begin()
	for did := from; did < to; did++ {
		doc := map[string]any{"title": fmt.Sprintf("widget %d", did)}
		if err := v.Insert(tx, cid, uint64(did), doc, analysis.DefaultLinkMeta()); err != nil {
			_ = tx.Abort()
			return err
		}
	}
	return tx.Commit()
}

func visible(t *testing.T, v *view.View, mgr *txn.Manager) int {
	t.Helper()
	tx := mgr.Begin()
	defer func() { _ = tx.Abort() }()
	snap, err := v.Snapshot(tx, true)
	require.NoError(t, err)
	return snap.DocCount()
}
