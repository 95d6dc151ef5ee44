package identity

import "strings"

// MaxDisplayNameRunes bounds display names carried on messages.
const MaxDisplayNameRunes = 64

// NormalizeDisplayName trims, collapses inner whitespace runs to one space and truncates
// to MaxDisplayNameRunes.
func NormalizeDisplayName(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) > MaxDisplayNameRunes {
		r = r[:MaxDisplayNameRunes]
	}
	return string(r)
}
