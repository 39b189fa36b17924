// ABOUTME: Thread-safe TTL cache of composed replies keyed by inbound message id
// ABOUTME: Lets the orchestrator replay a duplicate delivery without re-invoking backends

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// replayEntry stores a reply, when it was stored, and its list element.
type replayEntry struct {
	bodies    []string
	timestamp time.Time
	element   *list.Element
}

// Cache is a thread-safe, TTL-based, size-limited store of composed replies.
// A doubly-linked list keeps insertion order for O(1) eviction of the oldest entry.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*replayEntry
	order   *list.List // keys in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a replay cache with the given TTL and maximum number of replies.
// A background goroutine periodically removes expired entries until Close.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache{
		entries: make(map[string]*replayEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// key scopes message ids to a farmer so ids reused across channels never collide.
func key(farmerID, messageID string) string {
	return farmerID + "\x00" + messageID
}

// Get returns the reply stored for a message, if present and not expired.
// The returned slice is a copy.
func (c *Cache) Get(farmerID, messageID string) ([]string, bool) {
	if messageID == "" {
		return nil, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key(farmerID, messageID)]
	if !ok || c.now().Sub(entry.timestamp) >= c.ttl {
		return nil, false
	}
	return append([]string(nil), entry.bodies...), true
}

// Put records the reply composed for a message. If the cache is at
// capacity the oldest entry is evicted. Empty message ids are ignored.
func (c *Cache) Put(farmerID, messageID string, bodies []string) {
	if messageID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	k := key(farmerID, messageID)
	stored := append([]string(nil), bodies...)

	if entry, exists := c.entries[k]; exists {
		entry.bodies = stored
		entry.timestamp = c.now()
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(k)
	c.entries[k] = &replayEntry{
		bodies:    stored,
		timestamp: c.now(),
		element:   elem,
	}
}

// Len returns the number of stored replies, including expired ones not yet cleaned up.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	k, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, k)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries.
func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, entry := range c.entries {
		if now.Sub(entry.timestamp) >= c.ttl {
			c.order.Remove(entry.element)
			delete(c.entries, k)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
