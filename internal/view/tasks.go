package view

import (
	"context"

	"github.com/Aman-CERP/searchview/internal/syncworker"
)

// persistedTask is the sync worker's view of the persisted store. The worker
// holds the persisted node's mutex while it runs.
type persistedTask struct{ v *View }

var _ syncworker.Target = persistedTask{}

func (t persistedTask) Sync(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.v.persisted.syncLocked()
}

func (t persistedTask) Consolidate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.v.mu.RLock()
	policy := t.v.props.Consolidation
	t.v.mu.RUnlock()
	return t.v.persisted.consolidateLocked(policy)
}

func (t persistedTask) Cleanup(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.v.persisted.store.Cleanup()
}

// memoryTask drives the memory ring. The worker holds the view's commit
// mutex while it runs, so a scheduled sync is a full commit.
type memoryTask struct{ v *View }

var _ syncworker.Target = memoryTask{}

func (t memoryTask) Sync(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.v.commitLocked()
}

// Consolidate merges the segments the active node accumulated since the
// last rotation.
func (t memoryTask) Consolidate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.v.mu.RLock()
	policy := t.v.props.Consolidation
	t.v.mu.RUnlock()

	node := t.v.ring.activeNode()
	node.mu.Lock()
	defer node.mu.Unlock()
	return node.consolidateLocked(policy)
}

// Cleanup is a no-op: memory nodes hold no reclaimable files.
func (t memoryTask) Cleanup(context.Context) error { return nil }
