package sheet

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Slug derives the normalized key for a header label: lower-case, diacritics
// stripped, runs of non-alphanumerics collapsed to single underscores.
// Deterministic for any input; an empty or fully symbolic label yields "".
func Slug(label string) string {
	s := strings.ToLower(strings.TrimSpace(label))
	s = stripDiacritics(s)

	var b strings.Builder
	b.Grow(len(s))
	pendingSep := false
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return b.String()
}

// stripDiacritics removes combining marks after NFD decomposition, so that
// accented header labels slug the same as their plain forms.
func stripDiacritics(s string) string {
	decomposed := norm.NFD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
