package scope

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// normalize applies NFKC, strips zero-width characters, rejects control
// characters other than tab/CR/LF, and trims surrounding whitespace. It
// returns ok=false when the result is empty — callers must treat that as
// a violation, never as an absent-but-fine input.
func normalize(s string) (string, bool) {
	folded := norm.NFKC.String(s)
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if isZeroWidth(r) {
			continue
		}
		if r == 0 {
			return "", false
		}
		if unicode.IsControl(r) && r != '\t' && r != '\r' && r != '\n' {
			return "", false
		}
		b.WriteRune(r)
	}
	out := strings.TrimSpace(b.String())
	return out, out != ""
}

func isZeroWidth(r rune) bool {
	switch {
	case r >= 0x200B && r <= 0x200F:
		return true
	case r == 0xFEFF:
		return true
	default:
		return false
	}
}
