package search

import "strings"

// FTS5 highlight() wraps matched phrases in these markers; they are control
// characters so they cannot occur in stripped text.
const (
	highlightOpen  = "\x02"
	highlightClose = "\x03"
)

// Span is one highlighted region, as byte offsets into the stripped text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// HighlightedString is a stripped text field plus the regions the query
// matched, used to reconstruct marked-up snippets.
type HighlightedString struct {
	Value      string `json:"value"`
	Highlights []Span `json:"highlights,omitempty"`
}

// parseHighlights splits marker-wrapped highlight() output into the plain
// value and its highlight spans.
func parseHighlights(marked string) HighlightedString {
	if !strings.Contains(marked, highlightOpen) {
		return HighlightedString{Value: marked}
	}

	var b strings.Builder
	var spans []Span
	start := -1

	for _, r := range marked {
		switch r {
		case '\x02':
			start = b.Len()
		case '\x03':
			if start >= 0 {
				spans = append(spans, Span{Start: start, End: b.Len()})
				start = -1
			}
		default:
			b.WriteRune(r)
		}
	}
	return HighlightedString{Value: b.String(), Highlights: spans}
}
