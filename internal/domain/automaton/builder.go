// Package automaton implements whole-word multi-keyword matching with an
// Aho-Corasick automaton keyed by Unicode code points.
//
// Building is a two-phase, single-goroutine affair: Insert every word into a
// Builder, then call Build exactly once. Build returns an immutable *Matcher
// that may be shared by any number of goroutines. A new dictionary means a new
// Builder; there is no incremental insertion into a live Matcher.
package automaton

import "errors"

var (
	// ErrEmptyWord is returned by Insert for a zero-length word. An empty
	// entry would terminate at the root and match every document.
	ErrEmptyWord = errors.New("automaton: empty dictionary word")

	// ErrAlreadyBuilt is returned by Insert or Build once Build has run.
	ErrAlreadyBuilt = errors.New("automaton: builder already built")
)

// node is one automaton state.
type node struct {
	children map[rune]*node
	fail     *node    // nil only at the root
	output   []string // own words first, then inherited via fail (flattened)
	depth    int
}

func newNode(depth int) *node {
	return &node{children: make(map[rune]*node), depth: depth}
}

// Builder accumulates dictionary words into a trie.
type Builder struct {
	root  *node
	nodes int
	words int
	built bool
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{root: newNode(0), nodes: 1}
}

// Insert adds word to the trie. Inserting the same word twice is a no-op.
func (b *Builder) Insert(word string) error {
	if b.built {
		return ErrAlreadyBuilt
	}
	if word == "" {
		return ErrEmptyWord
	}

	n := b.root
	for _, r := range word {
		next, ok := n.children[r]
		if !ok {
			next = newNode(n.depth + 1)
			n.children[r] = next
			b.nodes++
		}
		n = next
	}

	// A node's own terminal word is unique: the path spells it.
	if len(n.output) == 0 {
		n.output = append(n.output, word)
		b.words++
	}
	return nil
}

// InsertAll inserts every word, stopping at the first error.
func (b *Builder) InsertAll(words []string) error {
	for _, w := range words {
		if err := b.Insert(w); err != nil {
			return err
		}
	}
	return nil
}

// Build computes failure links breadth-first and freezes the automaton.
// The Builder cannot be used afterwards.
func (b *Builder) Build() (*Matcher, error) {
	if b.built {
		return nil, ErrAlreadyBuilt
	}
	b.built = true

	root := b.root
	queue := make([]*node, 0, len(root.children))
	for _, child := range root.children {
		child.fail = root
		queue = append(queue, child)
	}

	for head := 0; head < len(queue); head++ {
		current := queue[head]
		for r, child := range current.children {
			queue = append(queue, child)

			f := current.fail
			for f != nil {
				if next, ok := f.children[r]; ok {
					child.fail = next
					break
				}
				f = f.fail
			}
			if f == nil {
				child.fail = root
			}

			// fail is shallower, so its output is already flattened and
			// holds only words shorter than child's own word.
			child.output = append(child.output, child.fail.output...)
		}
	}

	m := &Matcher{root: root, nodes: b.nodes, words: b.words}
	b.root = nil
	return m, nil
}
