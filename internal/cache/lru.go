package cache

import (
	"container/list"
	"context"
	"sync"
)

// LRU wraps a Backend with an in-memory cache of recently used tables.
// Returned tables are shared and must not be modified.
type LRU struct {
	inner Backend
	cache *lruCache
}

// NewLRU creates a caching decorator holding at most maxEntries tables.
func NewLRU(inner Backend, maxEntries int) *LRU {
	return &LRU{
		inner: inner,
		cache: newLRUCache(maxEntries),
	}
}

func (l *LRU) Load(ctx context.Context, key string) (*Table, bool, error) {
	if t, ok := l.cache.get(key); ok {
		return t, true, nil
	}
	t, ok, err := l.inner.Load(ctx, key)
	if err != nil || !ok {
		return t, ok, err
	}
	l.cache.put(key, t)
	return t, true, nil
}

func (l *LRU) Save(ctx context.Context, key string, t *Table) error {
	if err := l.inner.Save(ctx, key, t); err != nil {
		// The durable copy is unknown; drop any stale memory copy.
		l.cache.remove(key)
		return err
	}
	l.cache.put(key, t)
	return nil
}

func (l *LRU) Keys(ctx context.Context) ([]string, error) {
	return l.inner.Keys(ctx)
}

func (l *LRU) Delete(ctx context.Context, key string) error {
	l.cache.remove(key)
	return l.inner.Delete(ctx, key)
}

func (l *LRU) Close() error {
	return l.inner.Close()
}

// lruCache holds recently used tables keyed by stage. The front of order
// is the most recently used entry.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	order      *list.List
	items      map[string]*list.Element
}

type lruItem struct {
	key   string
	table *Table
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		order:      list.New(),
		items:      make(map[string]*list.Element),
	}
}

func (c *lruCache) get(key string) (*Table, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruItem).table, true
}

func (c *lruCache) put(key string, t *Table) {
	if c.maxEntries <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*lruItem).table = t
		c.order.MoveToFront(el)
		return
	}
	c.items[key] = c.order.PushFront(&lruItem{key: key, table: t})
	for c.order.Len() > c.maxEntries {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*lruItem).key)
	}
}

func (c *lruCache) remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.order.Remove(el)
		delete(c.items, key)
	}
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
