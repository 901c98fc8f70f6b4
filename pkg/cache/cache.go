package cache

import (
	"context"
	"sync"
	"time"
)

type item[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a thread-safe TTL cache. Expired entries are dropped lazily.
type Cache[K comparable, V any] struct {
	mu    sync.Mutex
	items map[K]item[V]
	ttl   time.Duration
	now   func() time.Time

	// loads dedupes concurrent GetOrLoad calls per key.
	loads map[K]*load[V]
}

type load[V any] struct {
	done  chan struct{}
	value V
	err   error
}

func New[K comparable, V any](ttl time.Duration) *Cache[K, V] {
	return &Cache[K, V]{
		items: make(map[K]item[V]),
		loads: make(map[K]*load[V]),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key)
}

func (c *Cache[K, V]) getLocked(key K) (V, bool) {
	it, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !c.now().Before(it.expiresAt) {
		delete(c.items, key)
		var zero V
		return zero, false
	}
	return it.value, true
}

func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = item[V]{value: value, expiresAt: c.now().Add(c.ttl)}
}

func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Len counts live entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key := range c.items {
		if _, ok := c.getLocked(key); ok {
			n++
		}
	}
	return n
}

// GetOrLoad returns the cached value or calls loader once for all concurrent
// callers of the same key. Failed loads are not cached.
func (c *Cache[K, V]) GetOrLoad(ctx context.Context, key K, loader func(context.Context) (V, error)) (V, error) {
	c.mu.Lock()
	if v, ok := c.getLocked(key); ok {
		c.mu.Unlock()
		return v, nil
	}
	if l, ok := c.loads[key]; ok {
		c.mu.Unlock()
		select {
		case <-l.done:
			return l.value, l.err
		case <-ctx.Done():
			var zero V
			return zero, ctx.Err()
		}
	}
	l := &load[V]{done: make(chan struct{})}
	c.loads[key] = l
	c.mu.Unlock()

	l.value, l.err = loader(ctx)

	c.mu.Lock()
	delete(c.loads, key)
	if l.err == nil {
		c.items[key] = item[V]{value: l.value, expiresAt: c.now().Add(c.ttl)}
	}
	c.mu.Unlock()
	close(l.done)

	return l.value, l.err
}
