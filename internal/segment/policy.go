package segment

import (
	"fmt"
)

// PolicyType selects a consolidation strategy.
type PolicyType string

const (
	// PolicyNone disables consolidation.
	PolicyNone PolicyType = "none"
	// PolicyCount merges every segment into one once the segment count
	// reaches SegmentThreshold.
	PolicyCount PolicyType = "count"
	// PolicyFill rewrites segments whose share of still-visible documents
	// fell below Threshold and drops segments left with nothing visible.
	PolicyFill PolicyType = "fill"
)

// Policy describes when and how a store merges its segments.
type Policy struct {
	Type             PolicyType `yaml:"type" json:"type"`
	SegmentThreshold int        `yaml:"segment_threshold" json:"segment_threshold"`
	Threshold        float64    `yaml:"threshold" json:"threshold"`
}

// DefaultPolicy returns the count policy with a threshold of 10 segments.
func DefaultPolicy() Policy {
	return Policy{
		Type:             PolicyCount,
		SegmentThreshold: 10,
		Threshold:        0.5,
	}
}

// Validate checks the policy parameters.
func (p Policy) Validate() error {
	switch p.Type {
	case PolicyNone, "":
		return nil
	case PolicyCount:
		if p.SegmentThreshold < 1 {
			return fmt.Errorf("consolidation segment_threshold must be >= 1, got %d", p.SegmentThreshold)
		}
	case PolicyFill:
		if p.Threshold <= 0 || p.Threshold > 1 {
			return fmt.Errorf("consolidation threshold must be in (0, 1], got %g", p.Threshold)
		}
		if p.SegmentThreshold < 0 {
			return fmt.Errorf("consolidation segment_threshold must be >= 0, got %d", p.SegmentThreshold)
		}
	default:
		return fmt.Errorf("unknown consolidation policy %q (valid: none, count, fill)", p.Type)
	}
	return nil
}

// plan is the outcome of a consolidation pass: segments to drop and their
// replacements.
type plan struct {
	removed []uint64
	added   []*Segment
}

func (p plan) empty() bool { return len(p.removed) == 0 && len(p.added) == 0 }

// planConsolidation computes the merge for segs (oldest first).
// keepTombstones must be set when older data may live outside this store,
// in which case tombstones still shadow something and cannot be dropped.
func planConsolidation(segs []*Segment, p Policy, keepTombstones bool) plan {
	switch p.Type {
	case PolicyCount:
		threshold := max(p.SegmentThreshold, 2)
		if len(segs) < threshold {
			return plan{}
		}
		return mergeAll(segs, keepTombstones)
	case PolicyFill:
		if len(segs) < p.SegmentThreshold {
			return plan{}
		}
		return rewriteSparse(segs, p.Threshold, keepTombstones)
	default:
		return plan{}
	}
}

// mergeAll folds every segment into one carrying the newest id.
func mergeAll(segs []*Segment, keepTombstones bool) plan {
	r := NewReader(0, segs)
	docs := make([]*Document, 0, r.DocCount())
	for _, k := range r.Keys() {
		d, _ := r.Document(k)
		docs = append(docs, d)
	}

	var tombs []Key
	if keepTombstones {
		for i, s := range segs {
			for k := range s.tombstones {
				if r.newest(i, k) {
					tombs = append(tombs, k)
				}
			}
		}
	}

	pl := plan{removed: make([]uint64, 0, len(segs))}
	for _, s := range segs {
		pl.removed = append(pl.removed, s.id)
	}
	merged := NewSegment(segs[len(segs)-1].id, docs, tombs)
	if !merged.Empty() {
		pl.added = []*Segment{merged}
	}
	return pl
}

// rewriteSparse rewrites segments whose live ratio is below threshold.
func rewriteSparse(segs []*Segment, threshold float64, keepTombstones bool) plan {
	r := NewReader(0, segs)
	var pl plan
	for i, s := range segs {
		var live []*Document
		for _, k := range s.keys {
			if r.newest(i, k) {
				live = append(live, s.docs[k])
			}
		}
		var tombs []Key
		if keepTombstones || i > 0 {
			for k := range s.tombstones {
				if r.newest(i, k) {
					tombs = append(tombs, k)
				}
			}
		}

		dropTombs := len(tombs) < len(s.tombstones)
		sparse := s.Len() > 0 && float64(len(live))/float64(s.Len()) < threshold
		if !sparse && !dropTombs {
			continue
		}
		pl.removed = append(pl.removed, s.id)
		if rewritten := NewSegment(s.id, live, tombs); !rewritten.Empty() {
			pl.added = append(pl.added, rewritten)
		}
	}
	return pl
}
