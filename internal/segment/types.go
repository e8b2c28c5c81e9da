package segment

import (
	"fmt"
	"slices"
)

// Key identifies a document inside a view: the collection it belongs to and
// its local document id within that collection.
type Key struct {
	Collection uint64 `json:"cid"`
	Document   uint64 `json:"did"`
}

// String returns "cid/did".
func (k Key) String() string {
	return fmt.Sprintf("%d/%d", k.Collection, k.Document)
}

// Compare orders keys by collection, then document.
func (k Key) Compare(o Key) int {
	switch {
	case k.Collection < o.Collection:
		return -1
	case k.Collection > o.Collection:
		return 1
	case k.Document < o.Document:
		return -1
	case k.Document > o.Document:
		return 1
	default:
		return 0
	}
}

// InCollection returns a predicate matching every key of collection cid.
func InCollection(cid uint64) func(Key) bool {
	return func(k Key) bool { return k.Collection == cid }
}

// Field is one indexable attribute of a document.
// Terms are the analyzed tokens the postings are built from.
type Field struct {
	Name  string   `json:"name"`
	Value string   `json:"value"`
	Terms []string `json:"terms,omitempty"`
}

// Document is the unit stored in a segment.
type Document struct {
	Key    Key     `json:"key"`
	Fields []Field `json:"fields"`
}

// Field returns the first field with the given name.
func (d *Document) Field(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func sortKeys(keys []Key) {
	slices.SortFunc(keys, Key.Compare)
}
