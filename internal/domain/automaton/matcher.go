package automaton

import (
	"errors"
	"fmt"
	"iter"
	"strings"
	"unicode/utf8"

	"github.com/corey/kwatch/internal/ports"
)

// ScanMode selects between stopping at the first accepted match and
// enumerating every accepted match.
type ScanMode int

const (
	// ScanFirst stops at the first whole-word match.
	ScanFirst ScanMode = iota
	// ScanAll reports every whole-word match.
	ScanAll
)

// ErrUnknownScanMode is returned by ParseScanMode for anything but "first"
// or "all".
var ErrUnknownScanMode = errors.New("automaton: scan mode must be first or all")

// ParseScanMode maps "first" / "all" (any case) to a ScanMode.
func ParseScanMode(s string) (ScanMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "first":
		return ScanFirst, nil
	case "all":
		return ScanAll, nil
	}
	return ScanFirst, fmt.Errorf("%w: %q", ErrUnknownScanMode, s)
}

func (m ScanMode) String() string {
	if m == ScanAll {
		return "all"
	}
	return "first"
}

// Match is one accepted occurrence. Start and End are rune offsets into the
// scanned text, End exclusive.
type Match struct {
	Word  string
	Start int
	End   int
}

// Matcher is a frozen automaton. It is only obtainable from Builder.Build and
// is never modified afterwards, so concurrent use needs no locking.
type Matcher struct {
	root  *node
	nodes int
	words int
}

var _ ports.KeywordMatcher = (*Matcher)(nil)

// Words returns the number of distinct dictionary words.
func (m *Matcher) Words() int { return m.words }

// Nodes returns the number of automaton states, root included.
func (m *Matcher) Nodes() int { return m.nodes }

// step advances n by r, following failure links on mismatch.
func (m *Matcher) step(n *node, r rune) *node {
	for n != m.root {
		if _, ok := n.children[r]; ok {
			break
		}
		n = n.fail
	}
	if next, ok := n.children[r]; ok {
		return next
	}
	return m.root
}

// walk feeds every accepted match to yield until yield returns false.
func (m *Matcher) walk(text string, yield func(Match) bool) {
	if len(m.root.children) == 0 {
		return
	}
	runes := []rune(text)
	n := m.root
	for i, r := range runes {
		n = m.step(n, r)
		for _, w := range n.output {
			length := utf8.RuneCountInString(w)
			start := i - length + 1
			if !IsWordBoundary(runes, start, length) {
				continue
			}
			if !yield(Match{Word: w, Start: start, End: i + 1}) {
				return
			}
		}
	}
}

// ContainsAny reports whether any dictionary word occurs in text as a whole
// word. It returns at the first accepted match.
func (m *Matcher) ContainsAny(text string) bool {
	_, ok := m.First(text)
	return ok
}

// First returns the match that makes ContainsAny true.
func (m *Matcher) First(text string) (Match, bool) {
	var (
		found Match
		ok    bool
	)
	m.walk(text, func(mt Match) bool {
		found, ok = mt, true
		return false
	})
	return found, ok
}

// FindAll returns a lazy sequence of every accepted match in scan order,
// sorted by end offset. The sequence may be ranged over more than once.
func (m *Matcher) FindAll(text string) iter.Seq[Match] {
	return func(yield func(Match) bool) {
		m.walk(text, yield)
	}
}

// Scan collects matches according to mode. In ScanAll mode each word is
// reported once, at its first occurrence.
func (m *Matcher) Scan(text string, mode ScanMode) []Match {
	if mode == ScanFirst {
		if mt, ok := m.First(text); ok {
			return []Match{mt}
		}
		return nil
	}

	var matches []Match
	seen := make(map[string]bool)
	for mt := range m.FindAll(text) {
		if seen[mt.Word] {
			continue
		}
		seen[mt.Word] = true
		matches = append(matches, mt)
	}
	return matches
}

// Keywords returns the distinct matched words from Scan, in match order.
func Keywords(matches []Match) []string {
	if len(matches) == 0 {
		return nil
	}
	out := make([]string, 0, len(matches))
	seen := make(map[string]bool, len(matches))
	for _, mt := range matches {
		if !seen[mt.Word] {
			seen[mt.Word] = true
			out = append(out, mt.Word)
		}
	}
	return out
}
