package cache

import (
	"container/list"
	"sync"

	"github.com/crucial-sub/stocklab/internal/factors"
)

// DefaultLRUCapacity bounds the in-process tier; one entry is one decoded
// factor table, roughly universe × factors × 4 bytes.
const DefaultLRUCapacity = 500

type lruEntry struct {
	key   string
	table *factors.Table
}

// lru is a fixed-capacity LRU of decoded factor tables. Safe for concurrent
// use.
type lru struct {
	mu    sync.Mutex
	cap   int
	order *list.List
	items map[string]*list.Element
}

func newLRU(capacity int) *lru {
	if capacity <= 0 {
		capacity = DefaultLRUCapacity
	}
	return &lru{
		cap:   capacity,
		order: list.New(),
		items: make(map[string]*list.Element, capacity),
	}
}

func (c *lru) Get(key string) (*factors.Table, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruEntry).table, true
}

func (c *lru) Put(key string, table *factors.Table) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*lruEntry).table = table
		c.order.MoveToFront(el)
		return
	}
	c.items[key] = c.order.PushFront(&lruEntry{key: key, table: table})
	for c.order.Len() > c.cap {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*lruEntry).key)
	}
}

func (c *lru) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Purge drops every entry, used on invalidation.
func (c *lru) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[string]*list.Element, c.cap)
}
