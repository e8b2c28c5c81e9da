package analysis

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/registry"
)

const (
	// CodeTokenizerName is the registry name of the identifier-splitting tokenizer.
	CodeTokenizerName = "code_tokenizer"

	// CodeStopFilterName is the registry name of the code stop word filter.
	CodeStopFilterName = "code_stop"

	// CodeAnalyzerName is the analyzer combining the two with lowercasing.
	CodeAnalyzerName = "code"
)

func init() {
	_ = registry.RegisterTokenizer(CodeTokenizerName, codeTokenizerConstructor)
	_ = registry.RegisterTokenFilter(CodeStopFilterName, codeStopFilterConstructor)
}

// DefaultCodeStopWords are keywords too common in source text to be useful terms.
var DefaultCodeStopWords = []string{
	"var", "let", "const", "func", "function", "def", "class",
	"return", "if", "else", "for", "while",
	"err", "ctx", "tmp",
}

var wordRegex = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// SplitIdentifiers breaks text into lowercase words, splitting snake_case
// and camelCase identifiers and dropping single-character pieces.
//
//	"parseHTTPRequest user_id" -> ["parse", "http", "request", "user", "id"]
func SplitIdentifiers(text string) []string {
	var out []string
	for _, word := range wordRegex.FindAllString(text, -1) {
		for _, part := range strings.Split(word, "_") {
			for _, piece := range splitCamel(part) {
				if len(piece) >= 2 {
					out = append(out, strings.ToLower(piece))
				}
			}
		}
	}
	return out
}

// splitCamel splits on lower→upper transitions and before the last capital
// of an acronym ("HTTPHandler" -> "HTTP", "Handler").
func splitCamel(s string) []string {
	if s == "" {
		return nil
	}
	var parts []string
	runes := []rune(s)
	start := 0
	for i := 1; i < len(runes); i++ {
		if !unicode.IsUpper(runes[i]) {
			continue
		}
		prevLower := unicode.IsLower(runes[i-1])
		nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
		if prevLower || nextLower {
			parts = append(parts, string(runes[start:i]))
			start = i
		}
	}
	return append(parts, string(runes[start:]))
}

func stopWordSet(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[strings.ToLower(w)] = struct{}{}
	}
	return m
}

func codeTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &codeTokenizer{}, nil
}

// codeTokenizer implements analysis.Tokenizer over SplitIdentifiers.
type codeTokenizer struct{}

// Tokenize implements analysis.Tokenizer.
func (t *codeTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	lower := strings.ToLower(text)
	words := SplitIdentifiers(text)

	stream := make(analysis.TokenStream, 0, len(words))
	offset := 0
	for i, w := range words {
		start := strings.Index(lower[offset:], w)
		if start < 0 {
			start = offset
		} else {
			start += offset
		}
		end := min(start+len(w), len(text))
		stream = append(stream, &analysis.Token{
			Term:     []byte(w),
			Start:    start,
			End:      end,
			Position: i + 1,
			Type:     analysis.AlphaNumeric,
		})
		offset = end
	}
	return stream
}

func codeStopFilterConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.TokenFilter, error) {
	return &codeStopFilter{stopWords: stopWordSet(DefaultCodeStopWords)}, nil
}

type codeStopFilter struct {
	stopWords map[string]struct{}
}

// Filter implements analysis.TokenFilter.
func (f *codeStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	out := make(analysis.TokenStream, 0, len(input))
	for _, tok := range input {
		if _, stop := f.stopWords[strings.ToLower(string(tok.Term))]; !stop {
			out = append(out, tok)
		}
	}
	return out
}
