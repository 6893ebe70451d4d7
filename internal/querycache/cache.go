// Package querycache caches the results of keyed queries for a fixed TTL and
// collapses concurrent loads of the same key into one call.
package querycache

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type LoadFunc[V any] func(ctx context.Context) (V, error)

type entry[V any] struct {
	val      V
	loadedAt time.Time
}

// flight is one shared load. Invalidate marks it stale so its result is
// not stored.
type flight struct {
	stale bool
}

type Cache[V any] struct {
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu       sync.RWMutex
	items    map[string]entry[V]
	inflight map[string]*flight

	// LoadTimeout bounds a shared load. Loads do not follow any single
	// caller's cancellation.
	LoadTimeout time.Duration
	// OnLookup, when set, observes every Get.
	OnLookup func(hit bool)
}

// New returns a cache whose entries go stale after ttl. A ttl <= 0 keeps
// entries until they are invalidated.
func New[V any](ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		ttl:         ttl,
		now:         time.Now,
		items:       make(map[string]entry[V]),
		inflight:    make(map[string]*flight),
		LoadTimeout: 30 * time.Second,
	}
}

// Get returns the cached value for key, loading it when missing or stale.
// Load errors are returned and not cached.
func (c *Cache[V]) Get(ctx context.Context, key string, load LoadFunc[V]) (V, error) {
	if v, ok := c.fresh(key); ok {
		c.observe(true)
		return v, nil
	}
	c.observe(false)
	return c.load(ctx, key, load)
}

func (c *Cache[V]) fresh(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.ttl > 0 && c.now().Sub(e.loadedAt) >= c.ttl {
		return e.val, false
	}
	return e.val, true
}

func (c *Cache[V]) load(ctx context.Context, key string, load LoadFunc[V]) (V, error) {
	var zero V

	ch := c.group.DoChan(key, func() (any, error) {
		f := &flight{}
		c.mu.Lock()
		c.inflight[key] = f
		c.mu.Unlock()

		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.LoadTimeout)
		defer cancel()
		v, err := load(lctx)

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.inflight[key] == f {
			delete(c.inflight, key)
		}
		if err != nil {
			return zero, err
		}
		if !f.stale {
			c.items[key] = entry[V]{val: v, loadedAt: c.now()}
		}
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

// Invalidate drops key so the next Get loads it again.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.items, key)
	if f, ok := c.inflight[key]; ok {
		f.stale = true
	}
	c.mu.Unlock()
	c.group.Forget(key)
}

// Refresh reloads key unconditionally.
func (c *Cache[V]) Refresh(ctx context.Context, key string, load LoadFunc[V]) (V, error) {
	c.Invalidate(key)
	return c.load(ctx, key, load)
}

// Keys returns the cached keys in sorted order.
func (c *Cache[V]) Keys() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.items))
	for k := range c.items {
		out = append(out, k)
	}
	c.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Cache[V]) observe(hit bool) {
	if c.OnLookup != nil {
		c.OnLookup(hit)
	}
}
