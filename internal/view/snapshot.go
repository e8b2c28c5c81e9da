package view

import (
	"github.com/Aman-CERP/searchview/internal/segment"
	"github.com/Aman-CERP/searchview/internal/txn"
)

// Recency tiers of the snapshot parts. The active node always holds the
// newest writes, the persisted store the oldest.
const (
	tierPersisted = iota
	tierToFlush
	tierActive
)

// Snapshot returns the reader bound to tx. A transaction sees the same
// reader for its whole lifetime. Without a binding, force=false returns nil
// and force=true builds one over the persisted store, the active node and
// the to-flush node, in that order.
func (v *View) Snapshot(tx Transaction, force bool) (*segment.Composite, error) {
	id := tx.ID()
	if c, ok := v.snapshots.Load(id); ok {
		return c, nil
	}
	if !force {
		return nil, nil
	}

	v.mu.RLock()
	if err := v.checkOpenLocked(); err != nil {
		v.mu.RUnlock()
		return nil, err
	}
	// a concurrent drain moves segments from the to-flush node into the
	// persisted store, so the to-flush reader must be taken first
	toFlush := v.ring.toFlushNode().Reader()
	active := v.ring.activeNode().Reader()
	persisted := v.persisted.Reader()
	cacheSize := v.props.MatchCacheSize
	v.mu.RUnlock()

	c := segment.NewComposite(cacheSize,
		segment.Part{Reader: persisted, Tier: tierPersisted},
		segment.Part{Reader: active, Tier: tierActive},
		segment.Part{Reader: toFlush, Tier: tierToFlush},
	)

	bound, loaded := v.snapshots.LoadOrStore(id, c)
	if loaded {
		return bound, nil
	}
	if err := tx.OnEnd(func(txn.Status) { v.snapshots.Delete(id) }); err != nil {
		v.snapshots.Delete(id)
		return nil, err
	}
	return bound, nil
}
