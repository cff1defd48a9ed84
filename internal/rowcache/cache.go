package rowcache

import (
	"container/list"
	"sync"
)

// Cache is a bounded, insertion-ordered map. When full, inserting a new key
// evicts the oldest inserted entry. Reads do not change the order.
//
// A maxSize <= 0 means unbounded. Cache is safe for concurrent use.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	maxSize int
	items   map[K]*list.Element
	order   *list.List // Front = oldest, Back = newest
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

// NewCache returns an empty cache bounded by maxSize.
func NewCache[K comparable, V any](maxSize int) *Cache[K, V] {
	return &Cache[K, V]{
		maxSize: maxSize,
		items:   make(map[K]*list.Element),
		order:   list.New(),
	}
}

// Get returns the value stored under key.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	return el.Value.(*entry[K, V]).value, true
}

// Put stores value under key at the newest position. A new key arriving at
// capacity first evicts the single oldest entry. Replacing an existing key
// never evicts.
func (c *Cache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*entry[K, V]).value = value
		c.order.MoveToBack(el)
		return
	}

	if c.maxSize > 0 && len(c.items) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.items[key] = c.order.PushBack(&entry[K, V]{key: key, value: value})
}

// Contains reports whether key is present.
func (c *Cache[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.items[key]
	return ok
}

// Resize changes the bound. Shrinking evicts oldest entries until the cache
// fits; growing only raises the bound.
func (c *Cache[K, V]) Resize(maxSize int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.maxSize = maxSize
	if maxSize <= 0 {
		return
	}
	for len(c.items) > maxSize {
		c.evictOldestLocked()
	}
}

// MaxSize returns the current bound; <= 0 means unbounded.
func (c *Cache[K, V]) MaxSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxSize
}

// Len returns the number of stored entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns keys from oldest to newest.
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]K, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*entry[K, V]).key)
	}
	return out
}

// Clear removes every entry.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[K]*list.Element)
	c.order.Init()
}

func (c *Cache[K, V]) evictOldestLocked() {
	el := c.order.Front()
	if el == nil {
		return
	}
	c.order.Remove(el)
	delete(c.items, el.Value.(*entry[K, V]).key)
}
