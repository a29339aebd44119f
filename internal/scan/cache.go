package scan

import (
	"sync"

	"github.com/omarhaddadin/mizan-pos/internal/documents"
)

const (
	defaultCacheCapacity = 1000
	cacheEvictFraction   = 5 // oldest fifth goes when full
)

type cachedProduct struct {
	id      string
	product documents.Product
}

// productCache keeps recently scanned products so a checkout burst does
// not hit the database once per beep. Eviction is approximate: when
// full, the oldest fifth of entries is dropped in insertion order.
type productCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]cachedProduct
	order    []string
}

func newProductCache(capacity int) *productCache {
	if capacity <= 0 {
		capacity = defaultCacheCapacity
	}
	return &productCache{
		capacity: capacity,
		entries:  make(map[string]cachedProduct, capacity),
	}
}

func (c *productCache) get(code string) (cachedProduct, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[code]
	return entry, ok
}

func (c *productCache) set(code string, entry cachedProduct) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[code]; !exists {
		if len(c.entries) >= c.capacity {
			c.evictOldestLocked()
		}
		c.order = append(c.order, code)
	}
	c.entries[code] = entry
}

// invalidate drops one product everywhere it is cached. Driven by the
// change feed when a product document updates.
func (c *productCache) invalidate(productID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for code, entry := range c.entries {
		if entry.id == productID {
			delete(c.entries, code)
		}
	}
}

func (c *productCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *productCache) evictOldestLocked() {
	drop := len(c.entries) / cacheEvictFraction
	if drop < 1 {
		drop = 1
	}
	kept := c.order[:0]
	for _, code := range c.order {
		if drop > 0 {
			if _, live := c.entries[code]; live {
				delete(c.entries, code)
				drop--
				continue
			}
			continue
		}
		if _, live := c.entries[code]; live {
			kept = append(kept, code)
		}
	}
	c.order = kept
}
