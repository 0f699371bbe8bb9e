package automaton

import "unicode"

// IsWordBoundary reports whether text[start:start+length] is not flanked by a
// letter on either side. Punctuation, digits and whitespace all count as
// boundaries, so "AI" matches in "AI-driven" but not in "PAID".
// Out-of-range arguments report false.
func IsWordBoundary(text []rune, start, length int) bool {
	end := start + length
	if start < 0 || length <= 0 || end > len(text) {
		return false
	}
	if start > 0 && !isBoundaryRune(text[start-1]) {
		return false
	}
	if end < len(text) && !isBoundaryRune(text[end]) {
		return false
	}
	return true
}

func isBoundaryRune(r rune) bool {
	return unicode.IsSpace(r) || !unicode.IsLetter(r)
}
