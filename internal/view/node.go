package view

import (
	"sync"
	"sync/atomic"

	sverrors "github.com/Aman-CERP/searchview/internal/errors"
	"github.com/Aman-CERP/searchview/internal/segment"
)

// SegmentedStore is the segmented index store capability a node wraps.
// *segment.Store implements it.
type SegmentedStore interface {
	Writer() *segment.Writer
	Commit() (*segment.Segment, error)
	Append(seg *segment.Segment) error
	OpenReader() (*segment.Reader, error)
	Reopen(r *segment.Reader) (*segment.Reader, error)
	Consolidate(p segment.Policy) (int, error)
	RemoveWhere(pred func(segment.Key) bool) (int, error)
	Reset() error
	Cleanup() error
	SegmentCount() int
	Valid() bool
	Close() error
}

var _ SegmentedStore = (*segment.Store)(nil)

// StoreNode is a named segmented store plus its current reader. mu guards
// the commit and reader-reopen sequence; reading the current reader never
// takes it.
type StoreNode struct {
	name string

	mu       sync.Mutex
	store    SegmentedStore
	reader   atomic.Pointer[segment.Reader]
	segments atomic.Int64
}

func newStoreNode(name string, s SegmentedStore) (*StoreNode, error) {
	n := &StoreNode{name: name, store: s}
	r, err := s.OpenReader()
	if err != nil {
		return nil, err
	}
	n.reader.Store(r)
	n.segments.Store(int64(s.SegmentCount()))
	return n, nil
}

// Name returns the node name.
func (n *StoreNode) Name() string { return n.name }

// Valid reports whether the node has a usable store and writer.
func (n *StoreNode) Valid() bool {
	return n != nil && n.store != nil && n.store.Valid()
}

// Reader returns the node's current reader.
func (n *StoreNode) Reader() *segment.Reader { return n.reader.Load() }

// SegmentCount returns the segment count as of the last reopen.
func (n *StoreNode) SegmentCount() int { return int(n.segments.Load()) }

func (n *StoreNode) writer() (*segment.Writer, error) {
	if !n.Valid() {
		return nil, sverrors.StoreUnavailable(n.name)
	}
	return n.store.Writer(), nil
}

// hasRetained reports whether the writer holds sealed operations that no
// commit has picked up yet.
func (n *StoreNode) hasRetained() bool {
	w, err := n.writer()
	if err != nil {
		return false
	}
	retained, _ := w.Buffered()
	return retained > 0
}

// Sync commits the retained writes and refreshes the reader.
func (n *StoreNode) Sync() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.syncLocked()
}

func (n *StoreNode) syncLocked() error {
	if !n.Valid() {
		return sverrors.StoreUnavailable(n.name)
	}
	if _, err := n.store.Commit(); err != nil {
		return err
	}
	return n.reopenLocked()
}

func (n *StoreNode) reopenLocked() error {
	r, err := n.store.Reopen(n.reader.Load())
	if err != nil {
		return err
	}
	n.reader.Store(r)
	n.segments.Store(int64(n.store.SegmentCount()))
	return nil
}

func (n *StoreNode) consolidateLocked(p segment.Policy) error {
	if !n.Valid() {
		return sverrors.StoreUnavailable(n.name)
	}
	if _, err := n.store.Consolidate(p); err != nil {
		return err
	}
	return n.reopenLocked()
}

func (n *StoreNode) removeWhere(pred func(segment.Key) bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.Valid() {
		return sverrors.StoreUnavailable(n.name)
	}
	if _, err := n.store.RemoveWhere(pred); err != nil {
		return err
	}
	return n.reopenLocked()
}

func (n *StoreNode) close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.store == nil {
		return nil
	}
	return n.store.Close()
}

// PersistedStore is the durable node of a view, bound to a path that never
// changes after creation.
type PersistedStore struct {
	*StoreNode
	path string
}

// Path returns the store's base path.
func (p *PersistedStore) Path() string { return p.path }

// memoryRing holds the two memory nodes. Exactly one is active at a time;
// rotation flips the index, never the slots. The index is read under the
// view's shared lock and flipped under its exclusive lock.
type memoryRing struct {
	nodes  [2]*StoreNode
	active atomic.Uint32
}

func (r *memoryRing) activeNode() *StoreNode { return r.nodes[r.active.Load()] }

func (r *memoryRing) toFlushNode() *StoreNode { return r.nodes[1-r.active.Load()] }

// rotate swaps the roles and returns the node that must now be drained.
func (r *memoryRing) rotate() *StoreNode {
	prev := r.active.Load()
	r.active.Store(1 - prev)
	return r.nodes[prev]
}
