package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hrygo/shelfscan/store"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "words", input: "Dark Chocolate", expected: []string{"dark", "chocolate"}},
		{name: "punctuation", input: `"sea-salt`, expected: []string{"sea", "salt"}},
		{name: "duplicates", input: "ch CH Ch", expected: []string{"ch"}},
		{name: "numbers", input: "cola 330ml", expected: []string{"cola", "330ml"}},
		{name: "empty", input: "  ", expected: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tokenize(tt.input))
		})
	}
}

func TestHighlightRecord(t *testing.T) {
	record := &store.Record{
		ID:   "p1",
		Kind: store.KindProduct,
		Product: &store.Product{
			Name:     "Dark Chocolate Chips",
			Category: "chocolate",
		},
	}

	tests := []struct {
		name     string
		query    string
		expected []Highlight
	}{
		{
			name:  "prefix of several words",
			query: "ch",
			expected: []Highlight{
				{Field: "name", Start: 5, End: 7, MatchedText: "Ch"},
				{Field: "name", Start: 15, End: 17, MatchedText: "Ch"},
				{Field: "category", Start: 0, End: 2, MatchedText: "ch"},
			},
		},
		{
			name:  "longest token wins",
			query: "c choc",
			expected: []Highlight{
				{Field: "name", Start: 5, End: 9, MatchedText: "Choc"},
				{Field: "name", Start: 15, End: 16, MatchedText: "C"},
				{Field: "category", Start: 0, End: 4, MatchedText: "choc"},
			},
		},
		{
			name:     "infix does not match",
			query:    "hoc",
			expected: nil,
		},
		{
			name:     "empty query",
			query:    "",
			expected: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, HighlightRecord(record, tt.query))
		})
	}

	assert.Nil(t, HighlightRecord(&store.Record{ID: "b1", Kind: store.KindBooking, Booking: &store.Booking{}}, "ch"))
}
