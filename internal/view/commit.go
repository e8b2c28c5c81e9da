package view

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	sverrors "github.com/Aman-CERP/searchview/internal/errors"
	"github.com/Aman-CERP/searchview/internal/segment"
)

// Commit rotates the memory ring, drains the previously active node into the
// persisted store and refreshes the readers. Concurrent commits serialize;
// inserts into the node that stays active are blocked only by the rotation.
func (v *View) Commit() error {
	v.commitMu.Lock()
	defer v.commitMu.Unlock()
	return v.commitLocked()
}

// commitLocked must be called with v.commitMu held.
func (v *View) commitLocked() error {
	start := time.Now()

	v.mu.RLock()
	err := v.checkOpenLocked()
	policy := v.props.Consolidation
	v.mu.RUnlock()
	if err != nil {
		return err
	}

	// the to-flush node holds older data than the active one: segments a
	// failed drain left behind, or writes of transactions pinned to it that
	// committed after the last rotation. Both must reach the persisted store
	// before the active node's newer writes do.
	if pending := v.ring.toFlushNode(); pending.SegmentCount() > 0 || pending.hasRetained() {
		if err := v.drain(pending, policy); err != nil {
			return err
		}
	}

	v.mu.Lock()
	drained := v.ring.rotate()
	v.mu.Unlock()

	if err := v.drain(drained, policy); err != nil {
		return err
	}
	if err := v.ring.activeNode().Sync(); err != nil {
		return err
	}

	v.logger.Debug("view_committed",
		slog.String("view", v.Name()),
		slog.Int("persisted_segments", v.persisted.SegmentCount()),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// drain moves everything node has committed into the persisted store and
// empties node. Writes of transactions still running stay buffered in the
// node's writer.
func (v *View) drain(node *StoreNode, policy segment.Policy) error {
	node.mu.Lock()
	defer node.mu.Unlock()

	if err := node.syncLocked(); err != nil {
		return fmt.Errorf("sync %s: %w", node.Name(), err)
	}

	if seg := node.Reader().Flatten(); seg != nil {
		if err := v.persist(seg, policy); err != nil {
			return err
		}
	}

	if err := node.store.Reset(); err != nil {
		return err
	}
	return node.reopenLocked()
}

// persist appends seg to the persisted store and consolidates it.
func (v *View) persist(seg *segment.Segment, policy segment.Policy) error {
	p := v.persisted
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.Valid() {
		return sverrors.StoreUnavailable(p.Name())
	}
	if err := p.store.Append(seg); err != nil {
		return err
	}
	if err := p.consolidateLocked(policy); err != nil {
		// the segment is durable; a failed merge is retried by the next pass
		v.logger.Warn("view_consolidation_failed",
			slog.String("store", p.Name()),
			slog.String("error", err.Error()))
		return p.reopenLocked()
	}
	return nil
}

// Sync commits the view and, while maxDuration allows, consolidates and
// cleans up the persisted store. maxDuration <= 0 means no limit. It reports
// whether every step ran.
func (v *View) Sync(ctx context.Context, maxDuration time.Duration) (bool, error) {
	start := time.Now()
	expired := func() bool {
		return maxDuration > 0 && time.Since(start) >= maxDuration
	}

	v.commitMu.Lock()
	defer v.commitMu.Unlock()

	if err := v.commitLocked(); err != nil {
		return false, err
	}
	if expired() || ctx.Err() != nil {
		return false, ctx.Err()
	}

	v.mu.RLock()
	policy := v.props.Consolidation
	v.mu.RUnlock()

	p := v.persisted
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.consolidateLocked(policy); err != nil {
		return false, err
	}
	if expired() || ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err := p.store.Cleanup(); err != nil {
		return false, err
	}
	return true, nil
}
