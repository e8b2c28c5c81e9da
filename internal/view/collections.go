package view

import (
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/searchview/internal/segment"
)

// Emplace starts tracking cid. It reports whether cid was newly tracked.
func (v *View) Emplace(cid uint64) (bool, error) {
	v.mu.Lock()
	if err := v.checkOpenLocked(); err != nil {
		v.mu.Unlock()
		return false, err
	}
	i, found := slices.BinarySearch(v.props.Collections, cid)
	if found {
		v.mu.Unlock()
		return false, nil
	}
	v.props.Collections = slices.Insert(v.props.Collections, i, cid)
	v.rev++
	v.mu.Unlock()

	if err := v.persistProperties(); err != nil {
		return true, err
	}
	return true, nil
}

// ensureTracked emplaces cid unless it is already tracked.
func (v *View) ensureTracked(cid uint64) error {
	v.mu.RLock()
	tracked := v.props.tracks(cid)
	v.mu.RUnlock()
	if tracked {
		return nil
	}
	_, err := v.Emplace(cid)
	return err
}

// VisitCollections calls visitor for every tracked collection in ascending
// order. It returns false as soon as visitor does.
func (v *View) VisitCollections(visitor func(cid uint64) bool) bool {
	v.mu.RLock()
	cids := slices.Clone(v.props.Collections)
	v.mu.RUnlock()

	for _, cid := range cids {
		if !visitor(cid) {
			return false
		}
	}
	return true
}

// Drop stops tracking cid and removes its documents and tombstones from
// every node, buffered writes included. Snapshots already bound keep
// seeing the collection.
func (v *View) Drop(cid uint64) error {
	// no drain may carry the collection back into the persisted store
	v.commitMu.Lock()
	defer v.commitMu.Unlock()

	v.mu.Lock()
	if err := v.checkOpenLocked(); err != nil {
		v.mu.Unlock()
		return err
	}
	if i, found := slices.BinarySearch(v.props.Collections, cid); found {
		v.props.Collections = slices.Delete(v.props.Collections, i, i+1)
		v.rev++
	}
	nodes := []*StoreNode{v.persisted.StoreNode, v.ring.nodes[0], v.ring.nodes[1]}
	v.mu.Unlock()

	pred := segment.InCollection(cid)
	var g errgroup.Group
	for _, n := range nodes {
		g.Go(func() error { return n.removeWhere(pred) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := v.persistProperties(); err != nil {
		return err
	}
	v.logger.Info("view_collection_dropped",
		slog.String("view", v.Name()),
		slog.Uint64("collection", cid))
	return nil
}
