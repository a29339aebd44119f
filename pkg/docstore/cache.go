package docstore

import "sync"

// docCache is a capacity-bounded read-through cache. Eviction is
// deliberately approximate: when full, the oldest ~10% of entries are
// dropped in one sweep. The cache is a performance layer only; the
// documents table stays the source of truth.
type docCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]Document
	order    []string
}

func newDocCache(capacity int) *docCache {
	if capacity <= 0 {
		capacity = 5000
	}
	return &docCache{
		capacity: capacity,
		entries:  make(map[string]Document, capacity),
	}
}

func (c *docCache) get(id string) (Document, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.entries[id]
	return doc, ok
}

func (c *docCache) set(doc Document) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[doc.ID]; !exists {
		if len(c.entries) >= c.capacity {
			c.evictOldestLocked()
		}
		c.order = append(c.order, doc.ID)
	}
	c.entries[doc.ID] = doc
}

func (c *docCache) delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[id]; !ok {
		return
	}
	delete(c.entries, id)
	for i, queued := range c.order {
		if queued == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *docCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Document, c.capacity)
	c.order = nil
}

func (c *docCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *docCache) evictOldestLocked() {
	toDelete := len(c.order) / 10
	if toDelete < 1 {
		toDelete = 1
	}
	for _, id := range c.order[:toDelete] {
		delete(c.entries, id)
	}
	c.order = c.order[toDelete:]
}
