package store

import (
	"context"
	"slices"
	"sync"

	"github.com/Aman-CERP/searchview/internal/segment"
)

// MemoryDirectory keeps segments in process memory. It backs memory nodes
// and stores opened without a path.
type MemoryDirectory struct {
	mu     sync.Mutex
	segs   map[uint64]*segment.Segment
	closed bool
}

// NewMemoryDirectory creates an empty in-memory directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{segs: make(map[uint64]*segment.Segment)}
}

// Load returns the retained segments ordered by id.
func (d *MemoryDirectory) Load(_ context.Context) ([]*segment.Segment, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errDirectoryClosed
	}
	out := make([]*segment.Segment, 0, len(d.segs))
	for _, s := range d.segs {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b *segment.Segment) int {
		switch {
		case a.ID() < b.ID():
			return -1
		case a.ID() > b.ID():
			return 1
		}
		return 0
	})
	return out, nil
}

// Save retains seg.
func (d *MemoryDirectory) Save(seg *segment.Segment) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errDirectoryClosed
	}
	d.segs[seg.ID()] = seg
	return nil
}

// Replace drops the removed ids, then retains the added segments.
func (d *MemoryDirectory) Replace(removed []uint64, added []*segment.Segment) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errDirectoryClosed
	}
	for _, id := range removed {
		delete(d.segs, id)
	}
	for _, s := range added {
		d.segs[s.ID()] = s
	}
	return nil
}

// Cleanup is a no-op.
func (d *MemoryDirectory) Cleanup() error { return nil }

// Close releases the retained segments.
func (d *MemoryDirectory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.segs = nil
	return nil
}
