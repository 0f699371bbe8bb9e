package ports

// KeywordMatcher answers whole-word keyword queries against a fixed
// dictionary. A matcher is immutable: when the dictionary changes a new
// matcher is built and swapped in, the old one is discarded.
type KeywordMatcher interface {
	// ContainsAny reports whether any keyword occurs in text as a whole word.
	ContainsAny(text string) bool

	// Words returns the number of distinct keywords.
	Words() int
}
