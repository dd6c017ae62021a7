package embedding

import (
	"container/list"
	"sync"

	"golang.org/x/crypto/blake2s"
)

// lruCache is a blake2s-keyed embedding cache. Reads and writes take the
// same exclusive mutex: a read moves its entry to the front, a write may
// evict the least recently used entry.
type lruCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[[32]byte]*list.Element
}

type cacheEntry struct {
	key [32]byte
	vec []float32
}

func newLRUCache(capacity int) *lruCache {
	return &lruCache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[[32]byte]*list.Element, capacity),
	}
}

func cacheKey(text string) [32]byte {
	return blake2s.Sum256([]byte(text))
}

func (c *lruCache) get(text string) ([]float32, bool) {
	k := cacheKey(text)
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[k]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).vec, true
}

func (c *lruCache) put(text string, vec []float32) {
	k := cacheKey(text)
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[k]; ok {
		el.Value.(*cacheEntry).vec = vec
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&cacheEntry{key: k, vec: vec})
	c.items[k] = el
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheEntry).key)
		}
	}
}
