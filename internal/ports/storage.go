// Package ports defines the interfaces (contracts) that adapters must implement.
// These are the boundaries of the hexagonal architecture. Domain logic depends
// only on these interfaces, never on concrete implementations.
package ports

import "time"

// Hit is a document that matched at least one dictionary keyword.
type Hit struct {
	Document   Document  `json:"document"`
	Keywords   []string  `json:"keywords"`
	MatchedAt  time.Time `json:"matched_at"`
	Dictionary string    `json:"dictionary,omitempty"` // dictionary source the matcher was built from
}

// HitStore persists hits and the set of documents already processed.
//
// Crash safety: SaveHit and MarkSeen must be transactional. A crash mid-write
// must not corrupt previously committed data.
type HitStore interface {
	// SaveHit persists a hit. Hits are ordered by MatchedAt.
	SaveHit(hit *Hit) error

	// RecentHits returns up to limit hits, newest first.
	RecentHits(limit int) ([]*Hit, error)

	// HitCount returns the number of stored hits.
	HitCount() (int, error)

	// MarkSeen claims a document key for processing. It reports true only
	// to the first caller for a key; the check and the write are one
	// transaction, so concurrent callers cannot both win.
	MarkSeen(key string, at time.Time) (bool, error)

	// Wipe removes every hit and seen key.
	Wipe() error

	// Close releases the underlying database.
	Close() error
}

// Archiver appends hits to a human-readable archive (JSONL files).
type Archiver interface {
	Append(hit *Hit) error
}
