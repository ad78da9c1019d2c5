// ABOUTME: Thread-safe TTL cache with a size bound and least-recently-used eviction.
// ABOUTME: Backs seen-message sets, conversation resolution and inbox id memoization.

package cache

import (
	"container/list"
	"sync"
	"time"
)

// entry stores a cached value with the time it was written.
type entry[V any] struct {
	key       string
	value     V
	timestamp time.Time
}

// Cache is a string-keyed TTL cache holding at most maxSize entries.
// Reads refresh recency but not age; an entry expires ttl after its last
// write or Add. A zero ttl keeps entries until they are evicted by size.
// The recency list keeps eviction O(1).
type Cache[V any] struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	order   *list.List // front is least recently used
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache with the given TTL and maximum size. A background
// goroutine removes expired entries once a minute until Close is called.
func New[V any](ttl time.Duration, maxSize int) *Cache[V] {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache[V]{
		items:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Get returns the value stored for key if present and not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, ok := c.items[key]
	if !ok {
		return zero, false
	}
	e := elem.Value.(*entry[V])
	if c.expired(e) {
		c.removeLocked(elem)
		return zero, false
	}
	c.order.MoveToBack(elem)
	return e.value, true
}

// Has reports whether key is present and not expired.
func (c *Cache[V]) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Set stores value under key, evicting the least recently used entry when full.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value)
}

// Add stores value only if key is absent or expired. It returns true when the
// key was already present, so check-and-mark is a single atomic step. A hit
// restarts the entry's TTL, so a key seen on every pass never expires.
func (c *Cache[V]) Add(key string, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		if e := elem.Value.(*entry[V]); !c.expired(e) {
			e.timestamp = c.now()
			c.order.MoveToBack(elem)
			return true
		}
	}
	c.setLocked(key, value)
	return false
}

// Delete removes key from the cache.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeLocked(elem)
	}
}

// Len returns the number of entries, including expired ones not yet swept.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// setLocked must be called with mu held.
func (c *Cache[V]) setLocked(key string, value V) {
	now := c.now()

	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*entry[V])
		e.value = value
		e.timestamp = now
		c.order.MoveToBack(elem)
		return
	}

	if len(c.items) >= c.maxSize {
		c.evictOldest()
	}

	c.items[key] = c.order.PushBack(&entry[V]{key: key, value: value, timestamp: now})
}

func (c *Cache[V]) expired(e *entry[V]) bool {
	return c.ttl > 0 && c.now().Sub(e.timestamp) >= c.ttl
}

func (c *Cache[V]) removeLocked(elem *list.Element) {
	e := elem.Value.(*entry[V])
	c.order.Remove(elem)
	delete(c.items, e.key)
}

// evictOldest must be called with mu held.
func (c *Cache[V]) evictOldest() {
	if front := c.order.Front(); front != nil {
		c.removeLocked(front)
	}
}

func (c *Cache[V]) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep drops every expired entry.
func (c *Cache[V]) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		if c.expired(elem.Value.(*entry[V])) {
			c.removeLocked(elem)
		}
		elem = next
	}
}

// Close stops the background sweeper. It is safe to call multiple times.
func (c *Cache[V]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
