package segment

import "slices"

// Segment is an immutable unit of indexed data produced by a writer commit.
// It holds live documents, tombstones for keys removed relative to older
// segments, and per-field postings over the documents' terms.
type Segment struct {
	id         uint64
	docs       map[Key]*Document
	tombstones map[Key]struct{}
	keys       []Key
	postings   map[string]map[string][]Key
}

// NewSegment builds a segment from documents and tombstones.
// A later document with the same key replaces an earlier one; a tombstone for
// a key that also has a document in this segment is ignored.
func NewSegment(id uint64, docs []*Document, tombstones []Key) *Segment {
	s := &Segment{
		id:         id,
		docs:       make(map[Key]*Document, len(docs)),
		tombstones: make(map[Key]struct{}, len(tombstones)),
	}
	for _, d := range docs {
		if d != nil {
			s.docs[d.Key] = d
		}
	}
	for _, k := range tombstones {
		if _, ok := s.docs[k]; !ok {
			s.tombstones[k] = struct{}{}
		}
	}
	s.index()
	return s
}

// buildSegment applies buffered operations in order.
func buildSegment(id uint64, ops []op) *Segment {
	s := &Segment{
		id:         id,
		docs:       make(map[Key]*Document),
		tombstones: make(map[Key]struct{}),
	}
	for _, o := range ops {
		switch o.kind {
		case opInsert:
			s.docs[o.key] = o.doc
			delete(s.tombstones, o.key)
		case opRemove:
			delete(s.docs, o.key)
			s.tombstones[o.key] = struct{}{}
		}
	}
	s.index()
	return s
}

func (s *Segment) index() {
	s.keys = make([]Key, 0, len(s.docs))
	s.postings = make(map[string]map[string][]Key)
	for k := range s.docs {
		s.keys = append(s.keys, k)
	}
	sortKeys(s.keys)

	for _, k := range s.keys {
		for _, f := range s.docs[k].Fields {
			terms := s.postings[f.Name]
			if terms == nil {
				terms = make(map[string][]Key)
				s.postings[f.Name] = terms
			}
			for _, t := range f.Terms {
				list := terms[t]
				// keys are visited in order, so a duplicate term is always the tail
				if n := len(list); n > 0 && list[n-1] == k {
					continue
				}
				terms[t] = append(list, k)
			}
		}
	}
}

// ID returns the segment id. Ids grow with segment age inside one store.
func (s *Segment) ID() uint64 { return s.id }

// WithID returns a copy of the segment carrying a different id.
// The copy shares the immutable contents.
func (s *Segment) WithID(id uint64) *Segment {
	c := *s
	c.id = id
	return &c
}

// Len returns the number of live documents in the segment.
func (s *Segment) Len() int { return len(s.docs) }

// Empty reports whether the segment carries neither documents nor tombstones.
func (s *Segment) Empty() bool { return len(s.docs) == 0 && len(s.tombstones) == 0 }

// Document returns the document stored under k in this segment.
func (s *Segment) Document(k Key) (*Document, bool) {
	d, ok := s.docs[k]
	return d, ok
}

// Tombstoned reports whether this segment removes k.
func (s *Segment) Tombstoned(k Key) bool {
	_, ok := s.tombstones[k]
	return ok
}

// Keys returns the sorted document keys. The slice must not be modified.
func (s *Segment) Keys() []Key { return s.keys }

// Documents returns the documents in key order.
func (s *Segment) Documents() []*Document {
	out := make([]*Document, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, s.docs[k])
	}
	return out
}

// Tombstones returns the sorted tombstone keys.
func (s *Segment) Tombstones() []Key {
	out := make([]Key, 0, len(s.tombstones))
	for k := range s.tombstones {
		out = append(out, k)
	}
	sortKeys(out)
	return out
}

// touches reports whether the segment has any entry, live or tombstone, for k.
func (s *Segment) touches(k Key) bool {
	if _, ok := s.docs[k]; ok {
		return true
	}
	_, ok := s.tombstones[k]
	return ok
}

// match returns the keys carrying any of terms in field, in key order.
func (s *Segment) match(field string, terms []string) []Key {
	postings := s.postings[field]
	if postings == nil {
		return nil
	}
	var out []Key
	for _, t := range terms {
		out = append(out, postings[t]...)
	}
	if len(terms) > 1 {
		sortKeys(out)
		out = slices.Compact(out)
	}
	return out
}

// without returns a copy of the segment with every entry matching pred
// removed, and whether anything was removed.
func (s *Segment) without(pred func(Key) bool) (*Segment, bool) {
	var docs []*Document
	var tombs []Key
	changed := false
	for _, k := range s.keys {
		if pred(k) {
			changed = true
			continue
		}
		docs = append(docs, s.docs[k])
	}
	for k := range s.tombstones {
		if pred(k) {
			changed = true
			continue
		}
		tombs = append(tombs, k)
	}
	if !changed {
		return s, false
	}
	return NewSegment(s.id, docs, tombs), true
}
