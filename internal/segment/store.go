package segment

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	sverrors "github.com/Aman-CERP/searchview/internal/errors"
)

// Directory persists the segment set of a store.
// Implementations live in the store package.
type Directory interface {
	// Load returns every persisted segment, oldest first.
	Load(ctx context.Context) ([]*Segment, error)
	// Save persists a new segment.
	Save(seg *Segment) error
	// Replace atomically drops the segments with the given ids and persists
	// the added ones. An added segment may reuse a removed id.
	Replace(removed []uint64, added []*Segment) error
	// Cleanup reclaims space left behind by removed segments.
	Cleanup() error
	// Close releases the directory.
	Close() error
}

// Option configures a Store.
type Option func(*Store)

// WithRetainedTombstones keeps tombstones through consolidation. Stores
// whose deletions must shadow data held elsewhere (memory nodes in front of
// a persisted store) need this.
func WithRetainedTombstones() Option {
	return func(s *Store) { s.keepTombstones = true }
}

// Store is a segmented index store: a writer plus an ordered list of
// immutable segments, optionally backed by a Directory.
type Store struct {
	name           string
	dir            Directory
	writer         *Writer
	keepTombstones bool

	mu      sync.RWMutex
	segs    []*Segment // oldest first, ids ascending
	nextID  uint64
	version uint64
	closed  bool

	segmentCount atomic.Int64
}

// Open creates a store named name. With a nil dir the store is memory only;
// otherwise the persisted segments are loaded.
func Open(ctx context.Context, name string, dir Directory, opts ...Option) (*Store, error) {
	s := &Store{
		name:    name,
		dir:     dir,
		writer:  NewWriter(name),
		nextID:  1,
		version: 1,
	}
	for _, opt := range opts {
		opt(s)
	}

	if dir != nil {
		segs, err := dir.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load segments of %s: %w", name, err)
		}
		for _, seg := range segs {
			if seg.id >= s.nextID {
				s.nextID = seg.id + 1
			}
		}
		s.segs = segs
	}
	s.segmentCount.Store(int64(len(s.segs)))
	return s, nil
}

// Name returns the store name.
func (s *Store) Name() string { return s.name }

// Writer returns the store's writer.
func (s *Store) Writer() *Writer { return s.writer }

// Commit turns the writer's retained operations into a new segment.
// It returns nil when nothing was retained.
func (s *Store) Commit() (*Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, sverrors.StoreUnavailable(s.name)
	}

	ops, err := s.writer.take()
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, nil
	}

	seg := buildSegment(s.nextID, ops)
	if s.dir != nil {
		if err := s.dir.Save(seg); err != nil {
			s.writer.restore(ops)
			return nil, sverrors.IOError(fmt.Sprintf("commit segment to %s", s.name), err)
		}
	}
	s.appendLocked(seg)
	return seg, nil
}

// Append adds a segment produced by another store. The segment is assigned
// the next id of this store so it ranks newer than everything already here.
func (s *Store) Append(seg *Segment) error {
	if seg == nil || seg.Empty() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return sverrors.StoreUnavailable(s.name)
	}

	seg = seg.WithID(s.nextID)
	if s.dir != nil {
		if err := s.dir.Save(seg); err != nil {
			return sverrors.IOError(fmt.Sprintf("append segment to %s", s.name), err)
		}
	}
	s.appendLocked(seg)
	return nil
}

func (s *Store) appendLocked(seg *Segment) {
	s.segs = append(s.segs, seg)
	s.nextID = seg.id + 1
	s.version++
	s.segmentCount.Store(int64(len(s.segs)))
}

// OpenReader returns a reader over the current segment set.
func (s *Store) OpenReader() (*Reader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, sverrors.StoreUnavailable(s.name)
	}
	return NewReader(s.version, s.segs), nil
}

// Reopen returns r itself when the segment set has not changed since r was
// opened, and a fresh reader otherwise.
func (s *Store) Reopen(r *Reader) (*Reader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, sverrors.StoreUnavailable(s.name)
	}
	if r != nil && r.version == s.version {
		return r, nil
	}
	return NewReader(s.version, s.segs), nil
}

// Consolidate merges segments according to p and returns how many segments
// were removed from the set.
func (s *Store) Consolidate(p Policy) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, sverrors.StoreUnavailable(s.name)
	}

	pl := planConsolidation(s.segs, p, s.keepTombstones)
	if pl.empty() {
		return 0, nil
	}
	if err := s.replaceLocked(pl); err != nil {
		return 0, sverrors.IOError(fmt.Sprintf("consolidate %s", s.name), err)
	}
	return len(pl.removed) - len(pl.added), nil
}

// RemoveWhere drops every document and tombstone whose key matches pred,
// from the segments and from the writer's buffers. It returns the number of
// segments rewritten or removed.
func (s *Store) RemoveWhere(pred func(Key) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, sverrors.StoreUnavailable(s.name)
	}

	s.writer.Purge(pred)

	var pl plan
	for _, seg := range s.segs {
		rewritten, changed := seg.without(pred)
		if !changed {
			continue
		}
		pl.removed = append(pl.removed, seg.id)
		if !rewritten.Empty() {
			pl.added = append(pl.added, rewritten)
		}
	}
	if pl.empty() {
		return 0, nil
	}
	if err := s.replaceLocked(pl); err != nil {
		return 0, sverrors.IOError(fmt.Sprintf("remove documents from %s", s.name), err)
	}
	return len(pl.removed), nil
}

// Reset drops every committed segment. Buffered writer operations are kept:
// they belong to transactions that have not been drained yet.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return sverrors.StoreUnavailable(s.name)
	}
	if len(s.segs) == 0 {
		return nil
	}

	pl := plan{removed: make([]uint64, 0, len(s.segs))}
	for _, seg := range s.segs {
		pl.removed = append(pl.removed, seg.id)
	}
	if err := s.replaceLocked(pl); err != nil {
		return sverrors.IOError(fmt.Sprintf("reset %s", s.name), err)
	}
	return nil
}

// replaceLocked applies pl to the directory and to the in-memory set.
func (s *Store) replaceLocked(pl plan) error {
	if s.dir != nil {
		if err := s.dir.Replace(pl.removed, pl.added); err != nil {
			return err
		}
	}

	drop := make(map[uint64]bool, len(pl.removed))
	for _, id := range pl.removed {
		drop[id] = true
	}
	added := make(map[uint64]*Segment, len(pl.added))
	for _, seg := range pl.added {
		added[seg.id] = seg
	}

	segs := make([]*Segment, 0, len(s.segs))
	for _, seg := range s.segs {
		if repl, ok := added[seg.id]; ok {
			segs = append(segs, repl)
			continue
		}
		if !drop[seg.id] {
			segs = append(segs, seg)
		}
	}
	s.segs = segs
	s.version++
	s.segmentCount.Store(int64(len(s.segs)))
	return nil
}

// Cleanup lets the directory reclaim space.
func (s *Store) Cleanup() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return sverrors.StoreUnavailable(s.name)
	}
	if s.dir == nil {
		return nil
	}
	if err := s.dir.Cleanup(); err != nil {
		return sverrors.IOError(fmt.Sprintf("cleanup %s", s.name), err)
	}
	return nil
}

// SegmentCount returns the number of committed segments.
func (s *Store) SegmentCount() int { return int(s.segmentCount.Load()) }

// Valid reports whether the store and its writer are usable.
func (s *Store) Valid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed && !s.writer.isClosed()
}

// Close closes the writer and the directory. Closing twice is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.writer.close()
	if s.dir != nil {
		return s.dir.Close()
	}
	return nil
}
