package privacy

import (
	"strings"
	"unicode"
)

// Normalize collapses every run of whitespace into a single space.
// Leading and trailing runs are collapsed too, not trimmed.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	inSpace := false
	for _, r := range text {
		if isSpace(r) {
			if !inSpace {
				b.WriteByte(' ')
				inSpace = true
			}
			continue
		}
		inSpace = false
		b.WriteRune(r)
	}

	return b.String()
}

// isSpace matches the Unicode White_Space set plus the byte order mark
func isSpace(r rune) bool {
	return unicode.IsSpace(r) || r == '\uFEFF'
}
