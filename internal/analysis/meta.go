package analysis

import (
	"fmt"
	"slices"
)

// FieldMeta overrides indexing of one top-level attribute.
type FieldMeta struct {
	Analyzer string `yaml:"analyzer,omitempty" json:"analyzer,omitempty"`
}

// LinkMeta describes how documents of a collection are indexed by a view.
type LinkMeta struct {
	// Analyzer applies to string values without a field override.
	// Empty selects the keyword analyzer (the whole string is one term).
	Analyzer string `yaml:"analyzer,omitempty" json:"analyzer,omitempty"`

	// Fields lists top-level attributes to index, with optional overrides.
	Fields map[string]FieldMeta `yaml:"fields,omitempty" json:"fields,omitempty"`

	// IncludeAllFields indexes every attribute, not only those in Fields.
	IncludeAllFields bool `yaml:"include_all_fields" json:"include_all_fields"`

	// TrackListPositions names array elements "a[0]", "a[1]" instead of
	// indexing them all under "a".
	TrackListPositions bool `yaml:"track_list_positions" json:"track_list_positions"`
}

// DefaultLinkMeta indexes every attribute with the keyword analyzer.
func DefaultLinkMeta() LinkMeta {
	return LinkMeta{IncludeAllFields: true}
}

// FieldNames returns the configured field names, sorted.
func (m LinkMeta) FieldNames() []string {
	names := make([]string, 0, len(m.Fields))
	for name := range m.Fields {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// analyzerFor resolves the analyzer name for a top-level attribute and
// whether the attribute is indexed at all.
func (m LinkMeta) analyzerFor(attr string) (string, bool) {
	if f, ok := m.Fields[attr]; ok {
		if f.Analyzer != "" {
			return f.Analyzer, true
		}
		return m.Analyzer, true
	}
	return m.Analyzer, m.IncludeAllFields
}

func (m LinkMeta) String() string {
	return fmt.Sprintf("analyzer=%q fields=%v include_all=%t track_positions=%t",
		m.Analyzer, m.FieldNames(), m.IncludeAllFields, m.TrackListPositions)
}
