package segment

import (
	"slices"
	"strconv"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMatchCacheSize bounds the per-composite match cache.
const DefaultMatchCacheSize = 256

// Part is one reader of a composite. Tier orders parts by recency: when
// several parts mention the same key, the part with the highest tier decides
// its visibility. Parts of equal tier resolve in favor of the later part.
type Part struct {
	Reader *Reader
	Tier   int
}

// Composite merges several readers into one snapshot. Keys and match results
// are reported part by part in the order the parts were given, which is
// independent of the recency tiers used for visibility.
//
// A composite never changes after construction, so cached match results stay
// valid for its whole lifetime.
type Composite struct {
	parts []Part
	cache *lru.Cache[string, []Key]

	keysOnce sync.Once
	keys     []Key
}

// NewComposite creates a composite over parts. Parts with a nil reader are
// skipped. cacheSize <= 0 selects DefaultMatchCacheSize.
func NewComposite(cacheSize int, parts ...Part) *Composite {
	if cacheSize <= 0 {
		cacheSize = DefaultMatchCacheSize
	}
	c := &Composite{parts: make([]Part, 0, len(parts))}
	for _, p := range parts {
		if p.Reader != nil {
			c.parts = append(c.parts, p)
		}
	}
	// lru.New only fails for a non-positive size
	c.cache, _ = lru.New[string, []Key](cacheSize)
	return c
}

// Parts returns the number of readers in the composite.
func (c *Composite) Parts() int { return len(c.parts) }

// Segments returns the total number of segments across all parts.
func (c *Composite) Segments() int {
	n := 0
	for _, p := range c.parts {
		n += p.Reader.Segments()
	}
	return n
}

// owner returns the index of the part deciding k, or -1.
func (c *Composite) owner(k Key) int {
	best := -1
	for i, p := range c.parts {
		if _, seen := p.Reader.lookup(k); !seen {
			continue
		}
		if best < 0 || p.Tier >= c.parts[best].Tier {
			best = i
		}
	}
	return best
}

// Document returns the visible document stored under k.
func (c *Composite) Document(k Key) (*Document, bool) {
	i := c.owner(k)
	if i < 0 {
		return nil, false
	}
	return c.parts[i].Reader.Document(k)
}

// Keys returns the visible keys, part by part.
// The slice is shared and must not be modified.
func (c *Composite) Keys() []Key {
	c.keysOnce.Do(func() {
		c.keys = make([]Key, 0)
		for i, p := range c.parts {
			for _, k := range p.Reader.Keys() {
				if c.owner(k) == i {
					c.keys = append(c.keys, k)
				}
			}
		}
	})
	return c.keys
}

// DocCount returns the number of visible documents.
func (c *Composite) DocCount() int { return len(c.Keys()) }

// Match returns visible keys whose field carries any of terms.
func (c *Composite) Match(field string, terms ...string) []Key {
	cacheKey := matchKey(field, terms)
	if keys, ok := c.cache.Get(cacheKey); ok {
		return slices.Clone(keys)
	}

	var keys []Key
	for i, p := range c.parts {
		for _, k := range p.Reader.Match(field, terms...) {
			if c.owner(k) == i {
				keys = append(keys, k)
			}
		}
	}
	c.cache.Add(cacheKey, keys)
	return slices.Clone(keys)
}

// matchKey length-prefixes every part so field and terms may hold any byte.
func matchKey(field string, terms []string) string {
	var b strings.Builder
	for _, s := range append([]string{field}, terms...) {
		b.WriteString(strconv.Itoa(len(s)))
		b.WriteByte(':')
		b.WriteString(s)
	}
	return b.String()
}
