package segment

import "sync"

// Snapshot is the read surface shared by Reader and Composite.
type Snapshot interface {
	// DocCount returns the number of visible documents.
	DocCount() int
	// Document returns the visible document stored under k.
	Document(k Key) (*Document, bool)
	// Keys returns every visible key in a deterministic order.
	Keys() []Key
	// Match returns visible keys whose field carries any of terms.
	Match(field string, terms ...string) []Key
	// Segments returns the number of segments the snapshot spans.
	Segments() int
}

var (
	_ Snapshot = (*Reader)(nil)
	_ Snapshot = (*Composite)(nil)
)

// Reader is an immutable point-in-time view over a list of segments, oldest
// first. For any key the newest segment mentioning it decides visibility.
type Reader struct {
	version uint64
	segs    []*Segment

	keysOnce sync.Once
	keys     []Key
}

// NewReader creates a reader over segs, which must be ordered oldest first.
func NewReader(version uint64, segs []*Segment) *Reader {
	return &Reader{
		version: version,
		segs:    append([]*Segment(nil), segs...),
	}
}

// Version returns the store version the reader was opened at.
func (r *Reader) Version() uint64 { return r.version }

// Segments returns the number of segments in the reader.
func (r *Reader) Segments() int { return len(r.segs) }

// lookup resolves k. seen reports whether any segment mentions k; doc is nil
// when the newest mention is a tombstone.
func (r *Reader) lookup(k Key) (doc *Document, seen bool) {
	for i := len(r.segs) - 1; i >= 0; i-- {
		s := r.segs[i]
		if d, ok := s.docs[k]; ok {
			return d, true
		}
		if s.Tombstoned(k) {
			return nil, true
		}
	}
	return nil, false
}

// newest reports whether segment i is the newest one mentioning k.
func (r *Reader) newest(i int, k Key) bool {
	for j := i + 1; j < len(r.segs); j++ {
		if r.segs[j].touches(k) {
			return false
		}
	}
	return true
}

// Document returns the visible document stored under k.
func (r *Reader) Document(k Key) (*Document, bool) {
	d, _ := r.lookup(k)
	return d, d != nil
}

// Keys returns the visible keys in segment order, then key order.
// The slice is shared and must not be modified.
func (r *Reader) Keys() []Key {
	r.keysOnce.Do(func() {
		r.keys = make([]Key, 0)
		for i, s := range r.segs {
			for _, k := range s.keys {
				if r.newest(i, k) {
					r.keys = append(r.keys, k)
				}
			}
		}
	})
	return r.keys
}

// DocCount returns the number of visible documents.
func (r *Reader) DocCount() int { return len(r.Keys()) }

// Match returns visible keys whose field carries any of terms, in segment
// order, then key order.
func (r *Reader) Match(field string, terms ...string) []Key {
	var out []Key
	for i, s := range r.segs {
		for _, k := range s.match(field, terms) {
			if r.newest(i, k) {
				out = append(out, k)
			}
		}
	}
	return out
}

// Flatten folds the reader's segments into one segment that carries every
// visible document plus the tombstones still deciding a key. It returns nil
// when there is nothing to carry. The result has the id of the newest
// segment.
func (r *Reader) Flatten() *Segment {
	if len(r.segs) == 0 {
		return nil
	}
	if len(r.segs) == 1 {
		if r.segs[0].Empty() {
			return nil
		}
		return r.segs[0]
	}
	pl := mergeAll(r.segs, true)
	if len(pl.added) == 0 {
		return nil
	}
	return pl.added[0]
}
