// Package bbolt implements ports.HitStore using bbolt (embedded B+ tree).
// Two top-level buckets hold the data: "hits" maps time-ordered keys to
// JSON-serialized hits and "seen" maps document keys to their first-seen time.
// Writes are transactional, a crash mid-write cannot corrupt previously
// committed data.
package bbolt

import (
	"encoding/json"
	"time"

	"github.com/corey/kwatch/internal/ports"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// Bucket keys
var (
	bucketHits = []byte("hits")
	bucketSeen = []byte("seen")
)

// Store implements ports.HitStore backed by bbolt.
type Store struct {
	db *bolt.DB
}

var _ ports.HitStore = (*Store)(nil)

// NewStore opens (or creates) a bbolt database at the given path.
func NewStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "bbolt open")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketHits); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketSeen)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create buckets")
	}
	return &Store{db: db}, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveHit persists a hit and marks its document as seen in one transaction.
func (s *Store) SaveHit(hit *ports.Hit) error {
	if hit == nil {
		return errors.New("nil hit")
	}
	if hit.MatchedAt.IsZero() {
		hit.MatchedAt = time.Now()
	}

	data, err := json.Marshal(hit)
	if err != nil {
		return errors.Wrap(err, "marshal hit")
	}

	docKey := hit.Document.Key()
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketHits).Put(encodeHitKey(hit.MatchedAt, docKey), data); err != nil {
			return err
		}
		if docKey == "" {
			return nil
		}
		seen := tx.Bucket(bucketSeen)
		if seen.Get([]byte(docKey)) != nil {
			return nil
		}
		return seen.Put([]byte(docKey), encodeTime(hit.MatchedAt))
	})
}

// RecentHits returns up to limit hits, newest first. limit <= 0 returns all.
func (s *Store) RecentHits(limit int) ([]*ports.Hit, error) {
	var hits []*ports.Hit

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketHits).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(hits) >= limit {
				break
			}
			// json.Unmarshal copies, so v need not outlive the transaction.
			var hit ports.Hit
			if err := json.Unmarshal(v, &hit); err != nil {
				_, docKey, _ := decodeHitKey(k)
				return errors.Wrapf(err, "unmarshal hit %q", docKey)
			}
			hits = append(hits, &hit)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hits, nil
}

// HitCount returns the number of stored hits.
func (s *Store) HitCount() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketHits).Stats().KeyN
		return nil
	})
	return n, err
}

// MarkSeen claims a document key. Returns true if the key was new; a key
// seen before keeps its first timestamp and returns false. An empty key is
// never recorded and always reports true.
func (s *Store) MarkSeen(key string, at time.Time) (bool, error) {
	if key == "" {
		return true, nil
	}
	var claimed bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		seen := tx.Bucket(bucketSeen)
		if seen.Get([]byte(key)) != nil {
			return nil
		}
		claimed = true
		return seen.Put([]byte(key), encodeTime(at))
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

// Wipe removes all hits and seen keys.
func (s *Store) Wipe() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketHits, bucketSeen} {
			if err := tx.DeleteBucket(name); err != nil && err != bolt.ErrBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
}
