package segment

import (
	"sync"

	sverrors "github.com/Aman-CERP/searchview/internal/errors"
)

// Generation groups buffered operations of one transaction so they can be
// retained or rolled back together. The zero Generation is untracked:
// operations appended under it are retained immediately.
type Generation string

type opKind uint8

const (
	opInsert opKind = iota + 1
	opRemove
)

type op struct {
	kind opKind
	key  Key
	doc  *Document
}

// Writer buffers insert and remove operations until the owning store commits
// them into a segment. Writers are safe for concurrent use.
//
// Operations live in one of two buffers: pending (per generation, waiting for
// their transaction to end) and retained (sealed, picked up by the next
// commit).
type Writer struct {
	name string

	mu       sync.Mutex
	pending  map[Generation][]op
	retained []op
	closed   bool
}

// NewWriter creates an empty writer. The name is used in errors only.
func NewWriter(name string) *Writer {
	return &Writer{
		name:    name,
		pending: make(map[Generation][]op),
	}
}

// Append buffers doc under gen.
func (w *Writer) Append(gen Generation, doc *Document) error {
	if doc == nil {
		return sverrors.ValidationError("document is nil", nil)
	}
	return w.add(gen, op{kind: opInsert, key: doc.Key, doc: doc})
}

// Remove buffers a tombstone for key under gen.
func (w *Writer) Remove(gen Generation, key Key) error {
	return w.add(gen, op{kind: opRemove, key: key})
}

// Insert appends doc outside of any transaction.
func (w *Writer) Insert(doc *Document) error { return w.Append("", doc) }

// Delete removes key outside of any transaction.
func (w *Writer) Delete(key Key) error { return w.Remove("", key) }

func (w *Writer) add(gen Generation, o op) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return sverrors.StoreUnavailable(w.name)
	}
	if gen == "" {
		w.retained = append(w.retained, o)
		return nil
	}
	w.pending[gen] = append(w.pending[gen], o)
	return nil
}

// Seal moves the operations of gen into the retained buffer and returns how
// many were moved.
func (w *Writer) Seal(gen Generation) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	ops := w.pending[gen]
	delete(w.pending, gen)
	w.retained = append(w.retained, ops...)
	return len(ops)
}

// Rollback discards the operations of gen and returns how many were dropped.
func (w *Writer) Rollback(gen Generation) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(w.pending[gen])
	delete(w.pending, gen)
	return n
}

// Purge drops every buffered operation, pending or retained, whose key
// matches pred.
func (w *Writer) Purge(pred func(Key) bool) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	removed := 0
	keep := func(ops []op) []op {
		out := ops[:0]
		for _, o := range ops {
			if pred(o.key) {
				removed++
				continue
			}
			out = append(out, o)
		}
		return out
	}
	w.retained = keep(w.retained)
	for gen, ops := range w.pending {
		if ops = keep(ops); len(ops) == 0 {
			delete(w.pending, gen)
		} else {
			w.pending[gen] = ops
		}
	}
	return removed
}

// Buffered returns the number of retained and pending operations.
func (w *Writer) Buffered() (retained, pending int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ops := range w.pending {
		pending += len(ops)
	}
	return len(w.retained), pending
}

// take hands the retained buffer to a commit.
func (w *Writer) take() ([]op, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, sverrors.StoreUnavailable(w.name)
	}
	ops := w.retained
	w.retained = nil
	return ops, nil
}

// restore puts back operations a failed commit could not persist, ahead of
// anything retained since.
func (w *Writer) restore(ops []op) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.retained = append(ops, w.retained...)
}

func (w *Writer) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.pending = make(map[Generation][]op)
	w.retained = nil
}

func (w *Writer) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}
