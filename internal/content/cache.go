// Package content provides the size-bounded content-node cache and the
// loader that binds nodes onto work items through a chain of per-field
// value interceptors.
package content

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/vellum-cms/vellum/internal/logging"
	"github.com/vellum-cms/vellum/internal/notify"
	"github.com/vellum-cms/vellum/internal/types"
)

// cacheEntry is one cached node with LRU list linkage.
type cacheEntry struct {
	key       types.ContentCacheKey
	node      *types.ContentNode
	size      int64
	createdAt time.Time

	prev *cacheEntry
	next *cacheEntry
}

// Cache caches content nodes by ContentCacheKey with LRU eviction and
// TTL, and maintains a reverse item→keys index so a content-change
// invalidation touches only that item's entries instead of scanning
// the whole cache.
//
// Every read-modify-write sequence against the reverse index runs
// under the one cache mutex: "get current keys, then evict each" must
// be atomic.
type Cache struct {
	mu          sync.Mutex
	entries     map[types.ContentCacheKey]*cacheEntry
	index       map[string]map[types.ContentCacheKey]struct{}
	head        *cacheEntry
	tail        *cacheEntry
	maxSize     int64
	currentSize int64
	ttl         time.Duration

	hits      int64
	misses    int64
	evictions int64

	sub    *notify.Subscription
	logger logging.Logger
}

// NewCache creates a content cache. When notifier is non-nil the cache
// subscribes for invalidation events; Close cancels the subscription.
func NewCache(maxSize int64, ttl time.Duration, notifier *notify.Notifier, logger logging.Logger) *Cache {
	c := &Cache{
		entries: make(map[types.ContentCacheKey]*cacheEntry),
		index:   make(map[string]map[types.ContentCacheKey]struct{}),
		maxSize: maxSize,
		ttl:     ttl,
		logger:  logger.WithComponent("content-cache"),
	}

	// Dummy head and tail keep list surgery branch-free.
	c.head = &cacheEntry{}
	c.tail = &cacheEntry{}
	c.head.next = c.tail
	c.tail.prev = c.head

	if notifier != nil {
		c.sub = notifier.Subscribe(c.onEvent)
	}
	return c
}

// Close cancels the notifier subscription.
func (c *Cache) Close() {
	c.sub.Cancel()
}

func (c *Cache) onEvent(event notify.Event) {
	switch event.Type {
	case notify.EventContentChanged:
		c.EvictItem(event.ItemID)
	case notify.EventObjectInvalidation:
		switch event.GUIDType {
		case notify.GUIDTemplate, notify.GUIDSlot, notify.GUIDItemFilter,
			notify.GUIDLocationScheme, notify.GUIDLocationProperty:
			c.Clear()
		}
	}
}

// Get retrieves a cached node.
func (c *Cache) Get(key types.ContentCacheKey) (*types.ContentNode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	if c.ttl > 0 && time.Since(entry.createdAt) > c.ttl {
		c.removeLocked(entry)
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	c.moveToFront(entry)
	atomic.AddInt64(&c.hits, 1)
	return entry.node, true
}

// Put stores a node. Retention is a hint: oversized nodes are admitted
// and evicted later by the orchestrator's post-assembly pass.
func (c *Cache) Put(key types.ContentCacheKey, node *types.ContentNode) {
	size := node.Size()

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok {
		c.currentSize += size - existing.size
		existing.node = node
		existing.size = size
		existing.createdAt = time.Now()
		c.moveToFront(existing)
		return
	}

	c.evictIfNeeded(size)

	entry := &cacheEntry{
		key:       key,
		node:      node,
		size:      size,
		createdAt: time.Now(),
	}
	c.entries[key] = entry
	c.currentSize += size
	c.addToFront(entry)

	keys := c.index[key.ItemID]
	if keys == nil {
		keys = make(map[types.ContentCacheKey]struct{})
		c.index[key.ItemID] = keys
	}
	keys[key] = struct{}{}
}

// EvictItem removes every entry whose key's item id matches, and the
// item's reverse-index bucket, atomically. Returns the number of
// entries removed.
func (c *Cache) EvictItem(itemID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys, ok := c.index[itemID]
	if !ok {
		return 0
	}

	removed := 0
	for key := range keys {
		if entry, ok := c.entries[key]; ok {
			c.removeFromList(entry)
			delete(c.entries, key)
			c.currentSize -= entry.size
			removed++
		}
	}
	delete(c.index, itemID)
	atomic.AddInt64(&c.evictions, int64(removed))
	return removed
}

// Clear drops every entry and the whole reverse index.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[types.ContentCacheKey]*cacheEntry)
	c.index = make(map[string]map[types.ContentCacheKey]struct{})
	c.currentSize = 0
	c.head.next = c.tail
	c.tail.prev = c.head
}

// Stats returns entry count, current size and max size.
func (c *Cache) Stats() (count int, size, maxSize int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries), c.currentSize, c.maxSize
}

// Hits returns the cumulative hit count.
func (c *Cache) Hits() int64 { return atomic.LoadInt64(&c.hits) }

// Misses returns the cumulative miss count.
func (c *Cache) Misses() int64 { return atomic.LoadInt64(&c.misses) }

// Evictions returns the cumulative eviction count.
func (c *Cache) Evictions() int64 { return atomic.LoadInt64(&c.evictions) }

// removeLocked removes one entry and its reverse-index membership.
// Caller holds the mutex.
func (c *Cache) removeLocked(entry *cacheEntry) {
	c.removeFromList(entry)
	delete(c.entries, entry.key)
	c.currentSize -= entry.size

	if keys, ok := c.index[entry.key.ItemID]; ok {
		delete(keys, entry.key)
		if len(keys) == 0 {
			delete(c.index, entry.key.ItemID)
		}
	}
}

func (c *Cache) evictIfNeeded(incoming int64) {
	if c.maxSize <= 0 {
		return
	}
	for c.currentSize+incoming > c.maxSize && c.tail.prev != c.head {
		lru := c.tail.prev
		c.removeLocked(lru)
		atomic.AddInt64(&c.evictions, 1)
	}
}

func (c *Cache) addToFront(entry *cacheEntry) {
	entry.prev = c.head
	entry.next = c.head.next
	c.head.next.prev = entry
	c.head.next = entry
}

func (c *Cache) removeFromList(entry *cacheEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
}

func (c *Cache) moveToFront(entry *cacheEntry) {
	c.removeFromList(entry)
	c.addToFront(entry)
}
