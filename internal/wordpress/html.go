package wordpress

import (
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// StripHTML reduces rendered post HTML to plain text suitable for the
// extraction prompt. Entities are decoded and runs of whitespace
// collapsed to single spaces.
func StripHTML(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		// fall back to entity decoding only
		return strings.TrimSpace(html.UnescapeString(s))
	}
	doc.Find("script, style").Remove()
	text := doc.Text()
	text = html.UnescapeString(text)
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}
