// Package textutil cleans free-text fields supplied by shoppers and vendors.
package textutil

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// Sanitize strips markup and control characters, collapses runs of whitespace and truncates the
// result to limit runes. A non-positive limit disables truncation.
func Sanitize(value string, limit int) string {
	stripped := html.UnescapeString(strictPolicy.Sanitize(value))

	var b strings.Builder
	b.Grow(len(stripped))
	space := false
	count := 0
	for _, r := range stripped {
		if unicode.IsSpace(r) {
			space = b.Len() > 0
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		if limit > 0 && count >= limit {
			break
		}
		if space {
			b.WriteRune(' ')
			count++
			space = false
			if limit > 0 && count >= limit {
				break
			}
		}
		b.WriteRune(r)
		count++
	}
	return strings.TrimRightFunc(b.String(), unicode.IsSpace)
}
