package retrieval

import (
	"strings"
	"unicode"

	"github.com/hrygo/shelfscan/store"
)

// Highlight is a matched span of a record field. Offsets are in runes.
type Highlight struct {
	Field       string `json:"field"`
	Start       int    `json:"start"`
	End         int    `json:"end"`
	MatchedText string `json:"matched_text"`
}

// HighlightRecord returns the spans of the product name and category that a text query
// matched. Like the full-text search, each query token matches the start of a word.
func HighlightRecord(r *store.Record, query string) []Highlight {
	if r == nil || r.Product == nil {
		return nil
	}
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil
	}
	highlights := highlightPrefixes("name", r.Product.Name, tokens)
	return append(highlights, highlightPrefixes("category", r.Product.Category, tokens)...)
}

// highlightPrefixes marks, for every word of text, the longest token it starts with.
func highlightPrefixes(field, text string, tokens []string) []Highlight {
	var highlights []Highlight
	runes := []rune(text)
	for _, w := range words(runes) {
		word := strings.ToLower(string(runes[w[0]:w[1]]))
		best := 0
		for _, token := range tokens {
			if n := len([]rune(token)); n > best && strings.HasPrefix(word, token) {
				best = n
			}
		}
		if best == 0 {
			continue
		}
		highlights = append(highlights, Highlight{
			Field:       field,
			Start:       w[0],
			End:         w[0] + best,
			MatchedText: string(runes[w[0] : w[0]+best]),
		})
	}
	return highlights
}

// words returns the [start, end) rune offsets of the letter and digit runs of text.
func words(runes []rune) [][2]int {
	var spans [][2]int
	start := -1
	for i, r := range runes {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			spans = append(spans, [2]int{start, i})
			start = -1
		}
	}
	if start >= 0 {
		spans = append(spans, [2]int{start, len(runes)})
	}
	return spans
}

// tokenize splits a query into distinct lower case words.
func tokenize(text string) []string {
	runes := []rune(text)
	seen := make(map[string]bool)
	var tokens []string
	for _, w := range words(runes) {
		token := strings.ToLower(string(runes[w[0]:w[1]]))
		if !seen[token] {
			seen[token] = true
			tokens = append(tokens, token)
		}
	}
	return tokens
}
