// Package dedup suppresses re-delivery of already-seen clipboard messages.
//
// The cache is a fixed-capacity FIFO: once full, inserting a new key evicts
// the oldest one. Keys are derived from the sender identity, the payload
// timestamp, and a prefix hash of the content, so a rebroadcast of the same
// capture maps to the same key while a fresh copy of identical text (new
// timestamp) does not.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
)

// DefaultCapacity bounds the cache when no explicit capacity is given.
const DefaultCapacity = 100

// contentPrefix is how many leading content bytes feed the key hash.
const contentPrefix = 100

// Key derives the dedup key for a clipboard message.
func Key(senderID string, timestamp float64, content []byte) string {
	if len(content) > contentPrefix {
		content = content[:contentPrefix]
	}
	sum := sha256.Sum256(content)
	return senderID + ":" +
		strconv.FormatFloat(timestamp, 'f', -1, 64) + ":" +
		hex.EncodeToString(sum[:8])
}

// Cache is a bounded FIFO set of seen keys. Safe for concurrent use.
type Cache struct {
	mu    sync.Mutex
	cap   int
	set   map[string]struct{}
	order []string // insertion order ring
	head  int      // index of the oldest entry in order
}

// New returns a Cache holding at most capacity keys.
// A capacity <= 0 falls back to DefaultCapacity.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		cap:   capacity,
		set:   make(map[string]struct{}, capacity),
		order: make([]string, 0, capacity),
	}
}

// Seen inserts key if absent and reports whether it was already present.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.set[key]; ok {
		return true
	}

	if len(c.set) >= c.cap {
		oldest := c.order[c.head]
		delete(c.set, oldest)
		c.order[c.head] = key
		c.head = (c.head + 1) % c.cap
	} else {
		c.order = append(c.order, key)
	}
	c.set[key] = struct{}{}
	return false
}

// Len returns the number of keys currently held.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.set)
}
