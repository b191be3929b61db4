// Package cursorcache keeps a best-effort map of namespace public id to the
// latest change-log entry id on that namespace. It is a fast path for "any
// changes since X?" checks and is never authoritative: the transactions
// table is the system of record, and a stale or missing cache entry only
// costs an extra database read.
package cursorcache

import (
	"encoding/binary"
	"errors"

	"github.com/cockroachdb/pebble"
)

var keyPrefix = []byte("txn/")

// Cache is a pebble-backed namespace -> latest log id map.
type Cache struct {
	db *pebble.DB
}

// Open creates or opens the cache at dir.
func Open(dir string) (*Cache, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &Cache{db: db}, nil
}

// Close closes the underlying store.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func cacheKey(namespacePublicID string) []byte {
	k := make([]byte, 0, len(keyPrefix)+len(namespacePublicID))
	k = append(k, keyPrefix...)
	k = append(k, namespacePublicID...)
	return k
}

// Advance records entryID as the namespace's latest log id. Writes are
// monotonic: an entryID at or below the stored value is ignored, so
// reordered concurrent writers can never regress the cache.
func (c *Cache) Advance(namespacePublicID string, entryID int64) error {
	key := cacheKey(namespacePublicID)
	cur, closer, err := c.db.Get(key)
	if err == nil {
		prev := int64(binary.BigEndian.Uint64(cur[:8]))
		_ = closer.Close()
		if entryID <= prev {
			return nil
		}
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return err
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(entryID))
	return c.db.Set(key, b[:], pebble.NoSync)
}

// Latest returns the cached latest log id for a namespace, if any.
func (c *Cache) Latest(namespacePublicID string) (int64, bool) {
	cur, closer, err := c.db.Get(cacheKey(namespacePublicID))
	if err != nil || len(cur) < 8 {
		if err == nil {
			_ = closer.Close()
		}
		return 0, false
	}
	v := int64(binary.BigEndian.Uint64(cur[:8]))
	_ = closer.Close()
	return v, true
}
