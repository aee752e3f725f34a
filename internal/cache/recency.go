// Package cache provides the in-memory caches used by the OnceFS engine:
// a generic bounded recency cache and the two-tier directory/attribute
// cache built on top of it.
package cache

import "sort"

// RemovalFunc is invoked for every entry evicted or removed from a
// Recency cache. It can be used to cascade-remove dependent state.
type RemovalFunc[K comparable, V any] func(key K, value V)

// Recency is a bounded key/value store with watermark-based eviction.
//
// When an insertion pushes the cache above its high watermark, the
// least recent entries are discarded until exactly the low watermark
// remains. "Recent" means most recently added; a cache created with
// NewUsedOrder additionally counts Get as a recency-refreshing access.
//
// Recency refresh is lazy: every access bumps a monotonic counter on
// the entry, and eviction order is only established during compaction,
// keeping Get O(1).
//
// Recency performs no locking of its own. Owners serialize access.
type Recency[K comparable, V any] struct {
	low, high    int
	refreshOnGet bool
	onRemoval    RemovalFunc[K, V]

	clock   uint64
	entries map[K]*recencyEntry[V]
}

type recencyEntry[V any] struct {
	value V
	stamp uint64
}

// NewAddedOrder returns a cache that evicts the oldest-inserted entries
// first. Get does not refresh recency.
func NewAddedOrder[K comparable, V any](low, high int, onRemoval RemovalFunc[K, V]) *Recency[K, V] {
	return newRecency(low, high, false, onRemoval)
}

// NewUsedOrder returns a cache that evicts the least recently used
// entries first: both Add and Get refresh recency.
func NewUsedOrder[K comparable, V any](low, high int, onRemoval RemovalFunc[K, V]) *Recency[K, V] {
	return newRecency(low, high, true, onRemoval)
}

func newRecency[K comparable, V any](low, high int, refreshOnGet bool, onRemoval RemovalFunc[K, V]) *Recency[K, V] {
	if low < 0 {
		low = 0
	}
	if high < low {
		high = low
	}
	return &Recency[K, V]{
		low:          low,
		high:         high,
		refreshOnGet: refreshOnGet,
		onRemoval:    onRemoval,
		entries:      make(map[K]*recencyEntry[V]),
	}
}

// Get returns the value stored under key. For used-order caches the
// access refreshes the entry's recency.
func (c *Recency[K, V]) Get(key K) (V, bool) {
	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.refreshOnGet {
		c.clock++
		e.stamp = c.clock
	}
	return e.value, true
}

// Peek returns the value stored under key without refreshing recency.
func (c *Recency[K, V]) Peek(key K) (V, bool) {
	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Add inserts or replaces the value under key and refreshes its recency.
func (c *Recency[K, V]) Add(key K, value V) {
	c.clock++
	if e, ok := c.entries[key]; ok {
		e.value = value
		e.stamp = c.clock
		return
	}
	c.entries[key] = &recencyEntry[V]{value: value, stamp: c.clock}
	c.compact()
}

// TryToAdd inserts the value only if no entry exists under key. It
// reports whether the insertion happened.
func (c *Recency[K, V]) TryToAdd(key K, value V) bool {
	if _, ok := c.entries[key]; ok {
		return false
	}
	c.Add(key, value)
	return true
}

// Remove deletes the entry under key, invoking the removal hook.
func (c *Recency[K, V]) Remove(key K) {
	e, ok := c.entries[key]
	if !ok {
		return
	}
	delete(c.entries, key)
	if c.onRemoval != nil {
		c.onRemoval(key, e.value)
	}
}

// Len returns the number of resident entries.
func (c *Recency[K, V]) Len() int {
	return len(c.entries)
}

// compact discards the least recent entries once the cache exceeds the
// high watermark, reducing occupancy to exactly the low watermark.
func (c *Recency[K, V]) compact() {
	if len(c.entries) <= c.high {
		return
	}

	type victim struct {
		key   K
		entry *recencyEntry[V]
	}
	all := make([]victim, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, victim{key: k, entry: e})
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].entry.stamp < all[j].entry.stamp
	})

	for _, v := range all[:len(all)-c.low] {
		delete(c.entries, v.key)
		if c.onRemoval != nil {
			c.onRemoval(v.key, v.entry.value)
		}
	}
}
