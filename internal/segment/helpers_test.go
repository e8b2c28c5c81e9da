package segment

import (
	"context"
	"errors"
	"sync"
)

func doc(cid, did uint64, text string) *Document {
	return &Document{
		Key:    Key{Collection: cid, Document: did},
		Fields: []Field{{Name: "body", Value: text, Terms: []string{text}}},
	}
}

func key(cid, did uint64) Key { return Key{Collection: cid, Document: did} }

// fakeDirectory records directory calls and can be told to fail.
type fakeDirectory struct {
	mu       sync.Mutex
	segs     map[uint64]*Segment
	saves    int
	replaces int
	cleanups int
	closed   bool
	failNext bool
}

func newFakeDirectory(segs ...*Segment) *fakeDirectory {
	d := &fakeDirectory{segs: make(map[uint64]*Segment)}
	for _, s := range segs {
		d.segs[s.ID()] = s
	}
	return d
}

var errInjected = errors.New("injected failure")

func (d *fakeDirectory) fail() error {
	if d.failNext {
		d.failNext = false
		return errInjected
	}
	return nil
}

func (d *fakeDirectory) Load(_ context.Context) ([]*Segment, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail(); err != nil {
		return nil, err
	}
	out := make([]*Segment, 0, len(d.segs))
	for _, s := range d.segs {
		out = append(out, s)
	}
	// ids ascending
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].ID() < out[j-1].ID(); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

func (d *fakeDirectory) Save(seg *Segment) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail(); err != nil {
		return err
	}
	d.saves++
	d.segs[seg.ID()] = seg
	return nil
}

func (d *fakeDirectory) Replace(removed []uint64, added []*Segment) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail(); err != nil {
		return err
	}
	d.replaces++
	for _, id := range removed {
		delete(d.segs, id)
	}
	for _, s := range added {
		d.segs[s.ID()] = s
	}
	return nil
}

func (d *fakeDirectory) Cleanup() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cleanups++
	return d.fail()
}

func (d *fakeDirectory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDirectory) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.segs)
}
