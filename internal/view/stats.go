package view

import "github.com/Aman-CERP/searchview/internal/segment"

// Stats describes the state of a view.
type Stats struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Backend     string `json:"backend"`
	Collections int    `json:"collections"`

	PersistedSegments int `json:"persisted_segments"`
	PersistedDocs     int `json:"persisted_docs"`
	ActiveSegments    int `json:"active_segments"`
	ToFlushSegments   int `json:"to_flush_segments"`

	// Retained and Pending count writer operations not yet in a segment,
	// across both memory nodes.
	Retained int `json:"retained"`
	Pending  int `json:"pending"`

	Snapshots    int `json:"snapshots"`
	Transactions int `json:"transactions"`
}

// Stats returns the current state of the view.
func (v *View) Stats() (Stats, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if err := v.checkOpenLocked(); err != nil {
		return Stats{}, err
	}

	s := Stats{
		Name:              v.props.Name,
		Path:              v.persisted.Path(),
		Backend:           v.props.Backend,
		Collections:       len(v.props.Collections),
		PersistedSegments: v.persisted.SegmentCount(),
		PersistedDocs:     docCount(v.persisted.Reader()),
		ActiveSegments:    v.ring.activeNode().SegmentCount(),
		ToFlushSegments:   v.ring.toFlushNode().SegmentCount(),
		Snapshots:         v.snapshots.Size(),
		Transactions:      v.writes.Size(),
	}
	for _, n := range v.ring.nodes {
		if w, err := n.writer(); err == nil {
			retained, pending := w.Buffered()
			s.Retained += retained
			s.Pending += pending
		}
	}
	return s, nil
}

func docCount(r *segment.Reader) int {
	if r == nil {
		return 0
	}
	return r.DocCount()
}
