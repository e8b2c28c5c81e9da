package analysis

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func stringsReader(s string) io.Reader { return strings.NewReader(s) }

func TestSplitIdentifiers(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect []string
	}{
		{"whitespace", "hello world", []string{"hello", "world"}},
		{"delimiters", "foo.bar(baz, qux)", []string{"foo", "bar", "baz", "qux"}},
		{"camelCase", "getUserById", []string{"get", "user", "by", "id"}},
		{"acronym", "parseHTTPRequest", []string{"parse", "http", "request"}},
		{"snake_case", "user_account_id", []string{"user", "account", "id"}},
		{"short pieces dropped", "a b cd", []string{"cd"}},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, SplitIdentifiers(tt.input))
		})
	}
}

func TestCodeTokenizer_Offsets(t *testing.T) {
	// Given: an identifier with mixed case
	tok := &codeTokenizer{}

	// When: tokenizing
	stream := tok.Tokenize([]byte("getUser"))

	// Then: offsets point back into the original text
	if assert.Len(t, stream, 2) {
		assert.Equal(t, "get", string(stream[0].Term))
		assert.Equal(t, 0, stream[0].Start)
		assert.Equal(t, "user", string(stream[1].Term))
		assert.Equal(t, 3, stream[1].Start)
		assert.Equal(t, 7, stream[1].End)
		assert.Equal(t, 2, stream[1].Position)
	}
}

func TestCodeStopFilter(t *testing.T) {
	f := &codeStopFilter{stopWords: stopWordSet(DefaultCodeStopWords)}
	stream := (&codeTokenizer{}).Tokenize([]byte("func return handler"))

	out := f.Filter(stream)

	if assert.Len(t, out, 1) {
		assert.Equal(t, "handler", string(out[0].Term))
	}
}
