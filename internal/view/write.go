package view

import (
	"fmt"
	"sync"

	"github.com/Aman-CERP/searchview/internal/analysis"
	sverrors "github.com/Aman-CERP/searchview/internal/errors"
	"github.com/Aman-CERP/searchview/internal/segment"
	"github.com/Aman-CERP/searchview/internal/txn"
)

// BatchEntry is one document of a batch insert.
type BatchEntry struct {
	DocumentID uint64
	Body       map[string]any
}

// writeState pins a transaction to the memory node it first wrote to. Every
// later operation of the transaction lands in the same node, so its buffered
// generation is sealed and committed as one ordered unit even when the ring
// rotates while the transaction runs.
type writeState struct {
	mu   sync.Mutex
	done bool
	node *StoreNode
}

// Insert maps body through meta and appends it to the memory node tx is
// pinned to (the active node for its first write) as part of tx. The
// document becomes visible to snapshots after tx commits and the view is
// committed or synced.
func (v *View) Insert(tx Transaction, cid, did uint64, body map[string]any, meta analysis.LinkMeta) error {
	doc, err := v.mapper.Map(segment.Key{Collection: cid, Document: did}, body, meta)
	if err != nil {
		return err
	}
	if err := v.ensureTracked(cid); err != nil {
		return err
	}
	ws, err := v.writeState(tx)
	if err != nil {
		return err
	}
	return v.appendPinned(tx.ID(), ws, cid, true, func(w *segment.Writer, gen segment.Generation) error {
		return w.Append(gen, doc)
	})
}

// InsertBatch inserts entries in order. It stops at the first failing entry
// and returns a *errors.BatchError carrying its index; entries before it
// stay applied within tx.
func (v *View) InsertBatch(tx Transaction, cid uint64, entries []BatchEntry, meta analysis.LinkMeta) error {
	if len(entries) == 0 {
		return nil
	}
	if err := v.ensureTracked(cid); err != nil {
		return &sverrors.BatchError{Index: 0, Cause: err}
	}
	ws, err := v.writeState(tx)
	if err != nil {
		return &sverrors.BatchError{Index: 0, Cause: err}
	}
	for i, e := range entries {
		doc, err := v.mapper.Map(segment.Key{Collection: cid, Document: e.DocumentID}, e.Body, meta)
		if err != nil {
			return &sverrors.BatchError{Index: i, Cause: err}
		}
		err = v.appendPinned(tx.ID(), ws, cid, true, func(w *segment.Writer, gen segment.Generation) error {
			return w.Append(gen, doc)
		})
		if err != nil {
			return &sverrors.BatchError{Index: i, Cause: err}
		}
	}
	return nil
}

// Remove records a tombstone for the document in the memory node tx is
// pinned to as part of tx.
func (v *View) Remove(tx Transaction, cid, did uint64) error {
	ws, err := v.writeState(tx)
	if err != nil {
		return err
	}
	key := segment.Key{Collection: cid, Document: did}
	return v.appendPinned(tx.ID(), ws, cid, false, func(w *segment.Writer, gen segment.Generation) error {
		return w.Remove(gen, key)
	})
}

// appendPinned runs fn against the writer of the node tx is pinned to,
// pinning it to the active node on its first write. It holds the shared lock
// so a rotation cannot slip between choosing the node and appending, and a
// Drop cannot untrack cid between the check and the append. Inserts must
// target a tracked collection; tombstones need not.
func (v *View) appendPinned(id txn.ID, ws *writeState, cid uint64, insert bool, fn func(*segment.Writer, segment.Generation) error) error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if err := v.checkOpenLocked(); err != nil {
		return err
	}
	if insert && !v.props.tracks(cid) {
		return sverrors.ValidationError(
			fmt.Sprintf("collection %d was dropped from view %q", cid, v.props.Name), nil)
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.done {
		return sverrors.New(sverrors.ErrCodeTransactionFinished,
			fmt.Sprintf("transaction %s already finished", id), nil)
	}
	node := ws.node
	if node == nil {
		node = v.ring.activeNode()
	}
	w, err := node.writer()
	if err != nil {
		return err
	}
	if err := fn(w, segment.Generation(id)); err != nil {
		return err
	}
	ws.node = node
	return nil
}

// writeState returns the write state of tx, registering the end-of-
// transaction hook the first time tx writes to this view.
func (v *View) writeState(tx Transaction) (*writeState, error) {
	id := tx.ID()
	var hookErr error
	ws, ok := v.writes.Compute(id, func(old *writeState, loaded bool) (*writeState, bool) {
		if loaded {
			return old, false
		}
		if err := tx.OnEnd(func(s txn.Status) { v.finishWrites(id, s) }); err != nil {
			hookErr = err
			return nil, true
		}
		return &writeState{}, false
	})
	if hookErr != nil {
		return nil, hookErr
	}
	if !ok {
		return nil, sverrors.InternalError(fmt.Sprintf("no write state for transaction %s", id), nil)
	}
	return ws, nil
}

// finishWrites seals or rolls back the generation of a finished transaction
// in the node it is pinned to.
func (v *View) finishWrites(id txn.ID, status txn.Status) {
	ws, ok := v.writes.LoadAndDelete(id)
	if !ok {
		return
	}
	ws.mu.Lock()
	ws.done = true
	node := ws.node
	ws.node = nil
	ws.mu.Unlock()

	if node == nil {
		return
	}
	w, err := node.writer()
	if err != nil {
		return
	}
	gen := segment.Generation(id)
	if status == txn.StatusCommitted {
		w.Seal(gen)
	} else {
		w.Rollback(gen)
	}
}
