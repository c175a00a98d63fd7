package sheet

import "strings"

// ResolveHeader finds the first alias present in headers. Exact matches win
// over case-insensitive ones, and earlier aliases win over later ones.
func ResolveHeader(headers []string, aliases []string) (string, bool) {
	for _, alias := range aliases {
		for _, h := range headers {
			if h == alias {
				return h, true
			}
		}
	}
	for _, alias := range aliases {
		for _, h := range headers {
			if strings.EqualFold(h, alias) {
				return h, true
			}
		}
	}
	return "", false
}
