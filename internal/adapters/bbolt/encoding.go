// Key encoding for the hits bucket.
//
// bbolt iterates keys in byte order, so hit keys lead with the match time as
// a big-endian uint64 of Unix nanoseconds. The document key follows to keep
// two hits in the same nanosecond distinct:
//
//	matchedAt: uint64 (big-endian, Unix nanoseconds)
//	docKey:    remaining bytes
package bbolt

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
)

// timeSize is the byte size of the encoded timestamp prefix.
const timeSize = 8

// encodeHitKey builds the ordered key for a hit.
func encodeHitKey(at time.Time, docKey string) []byte {
	buf := make([]byte, timeSize+len(docKey))
	binary.BigEndian.PutUint64(buf, uint64(at.UnixNano()))
	copy(buf[timeSize:], docKey)
	return buf
}

// decodeHitKey splits a hit key back into its time and document key.
// Every read is bounds-checked to avoid panics on corrupt data.
func decodeHitKey(key []byte) (time.Time, string, error) {
	if len(key) < timeSize {
		return time.Time{}, "", errors.Errorf("hit key too short: %d bytes", len(key))
	}
	ns := int64(binary.BigEndian.Uint64(key[:timeSize]))
	return time.Unix(0, ns), string(key[timeSize:]), nil
}

// encodeTime encodes a first-seen timestamp for the seen bucket.
func encodeTime(at time.Time) []byte {
	buf := make([]byte, timeSize)
	binary.BigEndian.PutUint64(buf, uint64(at.UnixNano()))
	return buf
}
