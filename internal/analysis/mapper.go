// Package analysis turns JSON-like documents into indexable segment fields.
// String values run through bleve analyzers; the code analyzer registered
// here splits identifiers the way source text is usually searched.
package analysis

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	_ "github.com/blevesearch/bleve/v2/analysis/analyzer/simple"
	_ "github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"

	sverrors "github.com/Aman-CERP/searchview/internal/errors"
	"github.com/Aman-CERP/searchview/internal/segment"
)

// DefaultAnalyzer is used when a link names no analyzer.
const DefaultAnalyzer = keyword.Name

// Mapper flattens documents into segment fields. It is safe for concurrent
// use; resolved analyzers are cached by name.
type Mapper struct {
	mapping *mapping.IndexMappingImpl

	mu        sync.RWMutex
	analyzers map[string]analysis.Analyzer
}

// NewMapper creates a mapper with the built-in bleve analyzers plus the
// code analyzer.
func NewMapper() (*Mapper, error) {
	im := bleve.NewIndexMapping()
	err := im.AddCustomAnalyzer(CodeAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": CodeTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			CodeStopFilterName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}
	return &Mapper{
		mapping:   im,
		analyzers: make(map[string]analysis.Analyzer),
	}, nil
}

func (m *Mapper) analyzer(name string) (analysis.Analyzer, error) {
	if name == "" {
		name = DefaultAnalyzer
	}
	m.mu.RLock()
	a, ok := m.analyzers[name]
	m.mu.RUnlock()
	if ok {
		return a, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.analyzers[name]; ok {
		return a, nil
	}
	a = m.mapping.AnalyzerNamed(name)
	if a == nil {
		return nil, sverrors.ValidationError(fmt.Sprintf("unknown analyzer %q", name), nil).
			WithSuggestion("Use one of: keyword, standard, simple, code")
	}
	m.analyzers[name] = a
	return a, nil
}

// Terms analyzes text with the named analyzer. Duplicate terms are kept
// once, in first-occurrence order.
func (m *Mapper) Terms(analyzerName, text string) ([]string, error) {
	a, err := m.analyzer(analyzerName)
	if err != nil {
		return nil, err
	}
	stream := a.Analyze([]byte(text))
	terms := make([]string, 0, len(stream))
	seen := make(map[string]struct{}, len(stream))
	for _, tok := range stream {
		t := string(tok.Term)
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		terms = append(terms, t)
	}
	return terms, nil
}

// Map flattens raw into a document keyed by key. Nested objects produce
// dotted names ("a.b"); array elements share their parent's name unless
// the link tracks list positions.
func (m *Mapper) Map(key segment.Key, raw map[string]any, meta LinkMeta) (*segment.Document, error) {
	doc := &segment.Document{Key: key}
	for _, attr := range sortedKeys(raw) {
		analyzerName, indexed := meta.analyzerFor(attr)
		if !indexed {
			continue
		}
		if err := m.walk(doc, attr, raw[attr], analyzerName, meta.TrackListPositions); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func (m *Mapper) walk(doc *segment.Document, name string, v any, analyzerName string, positions bool) error {
	switch val := v.(type) {
	case map[string]any:
		for _, k := range sortedKeys(val) {
			if err := m.walk(doc, name+"."+k, val[k], analyzerName, positions); err != nil {
				return err
			}
		}
		return nil
	case []any:
		for i, elem := range val {
			child := name
			if positions {
				child = fmt.Sprintf("%s[%d]", name, i)
			}
			if err := m.walk(doc, child, elem, analyzerName, positions); err != nil {
				return err
			}
		}
		return nil
	case string:
		terms, err := m.Terms(analyzerName, val)
		if err != nil {
			return err
		}
		doc.Fields = append(doc.Fields, segment.Field{Name: name, Value: val, Terms: terms})
		return nil
	}

	s, ok := scalarString(v)
	if !ok {
		return sverrors.ValidationError(fmt.Sprintf("field %q has unsupported type %T", name, v), nil)
	}
	doc.Fields = append(doc.Fields, segment.Field{Name: name, Value: s, Terms: []string{s}})
	return nil
}

// scalarString renders non-string scalars as a single identity term.
func scalarString(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "null", true
	case bool:
		return strconv.FormatBool(val), true
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case uint64:
		return strconv.FormatUint(val, 10), true
	case json.Number:
		return val.String(), true
	default:
		return "", false
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
