package upstream

import (
	"context"
	"sync"

	"github.com/canopywatch/alert-engine/internal/domain"
)

// CachedProvider wraps a Provider with an in-memory LRU cache keyed by ref
// fingerprint. Entries past their provider expiry hint are not served, so a
// cached hit is always a currently valid URL.
type CachedProvider struct {
	inner Provider
	cache *lruCache
}

// NewCachedProvider creates a cache decorator around a provider.
func NewCachedProvider(inner Provider, maxEntries int) *CachedProvider {
	return &CachedProvider{
		inner: inner,
		cache: newLRUCache(maxEntries),
	}
}

func (c *CachedProvider) Resolve(ctx context.Context, ref domain.UpstreamRef) (Resolved, error) {
	if r, ok := c.cache.get(ref.ID); ok {
		if r.ExpiresAt.IsZero() || domain.Clock().Now().Before(r.ExpiresAt) {
			return r, nil
		}
		c.cache.drop(ref.ID)
	}
	r, err := c.inner.Resolve(ctx, ref)
	if err != nil {
		return r, err
	}
	c.cache.put(ref.ID, r)
	return r, nil
}

// lruCache is a simple thread-safe LRU cache for resolved tile layers.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value Resolved
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) (Resolved, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Resolved{}, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key string, value Resolved) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) drop(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.remove(e)
	}
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
