package view

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/searchview/internal/analysis"
	"github.com/Aman-CERP/searchview/internal/txn"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// manualProperties syncs only on explicit Commit.
func manualProperties() Properties {
	p := DefaultProperties()
	p.Name = "test"
	p.SyncInterval = 0
	return p
}

func newTestView(t *testing.T, dir string, props Properties) *View {
	t.Helper()
	v, err := New(Options{DataDir: dir, Properties: props, Logger: discardLogger()})
	require.NoError(t, err)
	return v
}

func openTestView(t *testing.T, props Properties) (*View, *txn.Manager) {
	t.Helper()
	v := newTestView(t, t.TempDir(), props)
	require.NoError(t, v.Open(context.Background()))
	t.Cleanup(func() { _ = v.Close() })
	return v, newManager()
}

func newManager() *txn.Manager {
	return txn.NewManager(txn.WithLogger(discardLogger()))
}

func body(title string) map[string]any {
	return map[string]any{"title": title}
}

// insertCommitted inserts documents [from, to) of cid in one committed
// transaction.
func insertCommitted(t *testing.T, v *View, mgr *txn.Manager, cid uint64, from, to int) {
	t.Helper()
	tx := mgr.Begin()
	for did := from; did < to; did++ {
		require.NoError(t, v.Insert(tx, cid, uint64(did), body(fmt.Sprintf("doc-%d", did)), analysis.DefaultLinkMeta()))
	}
	require.NoError(t, tx.Commit())
}

// forcedCount returns the document count of a fresh forced snapshot.
func forcedCount(t *testing.T, v *View, mgr *txn.Manager) int {
	t.Helper()
	tx := mgr.Begin()
	defer func() { _ = tx.Abort() }()
	snap, err := v.Snapshot(tx, true)
	require.NoError(t, err)
	require.NotNil(t, snap)
	return snap.DocCount()
}
