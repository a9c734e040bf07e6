// Package cache stores compacted file contents across builds.
//
// Entries are addressed by a BLAKE3 keyed hash of everything that
// determines the compacted output. A Store keeps them on disk as CBOR
// records, optionally fronted by an in-memory LRU.
package cache

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Key addresses a cache entry.
type Key [32]byte

// compactionDomainKey is "crate.compaction" zero-padded to 32 bytes.
// Changing it invalidates every existing cache entry.
var compactionDomainKey = [32]byte{
	'c', 'r', 'a', 't', 'e', '.', 'c', 'o', 'm', 'p', 'a', 'c', 't', 'i', 'o', 'n',
}

// NewKey hashes parts into a Key. Each part is length prefixed, so
// ("ab", "c") and ("a", "bc") produce different keys.
func NewKey(parts ...[]byte) Key {
	hasher, err := blake3.NewKeyed(compactionDomainKey[:])
	if err != nil {
		panic("cache: BLAKE3 keyed hash initialization failed: " + err.Error())
	}

	var length [8]byte
	for _, part := range parts {
		binary.LittleEndian.PutUint64(length[:], uint64(len(part)))
		hasher.Write(length[:])
		hasher.Write(part)
	}

	var key Key
	copy(key[:], hasher.Sum(nil))

	return key
}

// String returns the key in lower-case hex.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// Cache is the interface the crate uses to look up compacted contents.
type Cache interface {
	Get(key Key) ([]byte, bool)
	Put(key Key, data []byte) error
}
