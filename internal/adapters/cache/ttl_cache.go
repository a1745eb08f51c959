package cache

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

type ttlCacheEntry[T any] struct {
	data  T
	valid bool
}

type ttlCache[T any] struct {
	cache *ttlcache.Cache[string, ttlCacheEntry[T]]

	// Held exclusively by Clear
	clearLock  sync.RWMutex
	generation uint64
}

func (c *ttlCache[T]) getOrClaim(key string) hitResult[T] {
	c.clearLock.RLock()
	defer c.clearLock.RUnlock()

	invalid := ttlCacheEntry[T]{valid: false}
	item, existed := c.cache.GetOrSet(key, invalid)

	return hitResult[T]{
		data:       item.Value().data,
		valid:      item.Value().valid,
		claimed:    !existed,
		generation: c.generation,
	}
}

func (c *ttlCache[T]) set(key string, data T, generation uint64) {
	c.clearLock.RLock()
	defer c.clearLock.RUnlock()

	if generation != c.generation {
		return
	}
	c.cache.Set(key, ttlCacheEntry[T]{data: data, valid: true}, ttlcache.DefaultTTL)
}

func (c *ttlCache[T]) delete(key string, generation uint64) {
	c.clearLock.RLock()
	defer c.clearLock.RUnlock()

	if generation != c.generation {
		return
	}
	c.cache.Delete(key)
}

func (c *ttlCache[T]) wait() {
	time.Sleep(50 * time.Millisecond)
}

// Evict all entries, e.g. after the underlying data changed.
// Values created for claims made before the call are not stored.
func (c *ttlCache[T]) Clear() {
	c.clearLock.Lock()
	defer c.clearLock.Unlock()

	c.generation++
	c.cache.DeleteAll()
}

func NewTTLCache[T any](ttl time.Duration) *ttlCache[T] {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, ttlCacheEntry[T]](ttl),
		ttlcache.WithDisableTouchOnHit[string, ttlCacheEntry[T]](),
	)
	go cache.Start()
	return &ttlCache[T]{cache: cache}
}
