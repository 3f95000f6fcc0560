package search

import "testing"

func TestParseHighlights(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		value    string
		spans    []Span
	}{
		{"no markers", "plain text", "plain text", nil},
		{"single span", "a \x02match\x03 here", "a match here", []Span{{Start: 2, End: 7}}},
		{"leading span", "\x02first\x03 word", "first word", []Span{{Start: 0, End: 5}}},
		{"trailing span", "last \x02word\x03", "last word", []Span{{Start: 5, End: 9}}},
		{"multiple spans", "\x02a\x03 b \x02c\x03", "a b c", []Span{{Start: 0, End: 1}, {Start: 4, End: 5}}},
		{
			// Spans are byte offsets, so multibyte runes before a marker shift
			// them past the rune count.
			"multibyte",
			"café \x02bar\x03",
			"café bar",
			[]Span{{Start: 6, End: 9}},
		},
	}

	for _, tc := range cases {
		got := parseHighlights(tc.input)
		if got.Value != tc.value {
			t.Errorf("%s: expected value %q, got: %q", tc.name, tc.value, got.Value)
		}
		if len(got.Highlights) != len(tc.spans) {
			t.Errorf("%s: expected %d spans, got: %d", tc.name, len(tc.spans), len(got.Highlights))
			continue
		}
		for i, span := range tc.spans {
			if got.Highlights[i] != span {
				t.Errorf("%s: expected span %d to be %+v, got: %+v", tc.name, i, span, got.Highlights[i])
			}
		}
	}
}
