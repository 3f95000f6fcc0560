package search

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// stripHTML renders markup to the plain text the index and the highlighter
// operate on: script, style and title elements are dropped entirely, all
// other text is kept, and whitespace is collapsed.
func stripHTML(s string) string {
	if !strings.ContainsRune(s, '<') {
		return collapseWhitespace(s)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return collapseWhitespace(s)
	}
	doc.Find("script, style, title, noscript").Remove()
	return collapseWhitespace(doc.Text())
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
