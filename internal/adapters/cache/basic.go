package cache

import (
	"runtime"
	"sync"
)

type basicCacheEntry[T any] struct {
	data  T
	valid bool
}

// Cache without expiry
type basicCache[T any] struct {
	entries sync.Map

	// Held exclusively by Clear
	clearLock  sync.RWMutex
	generation uint64
}

func (c *basicCache[T]) getOrClaim(key string) hitResult[T] {
	c.clearLock.RLock()
	defer c.clearLock.RUnlock()

	value, loaded := c.entries.LoadOrStore(key, basicCacheEntry[T]{})
	if !loaded {
		return hitResult[T]{claimed: true, generation: c.generation}
	}

	entry := value.(basicCacheEntry[T])
	return hitResult[T]{
		data:       entry.data,
		valid:      entry.valid,
		generation: c.generation,
	}
}

func (c *basicCache[T]) set(key string, data T, generation uint64) {
	c.clearLock.RLock()
	defer c.clearLock.RUnlock()

	if generation != c.generation {
		return
	}
	c.entries.Store(key, basicCacheEntry[T]{data: data, valid: true})
}

func (c *basicCache[T]) delete(key string, generation uint64) {
	c.clearLock.RLock()
	defer c.clearLock.RUnlock()

	if generation != c.generation {
		return
	}
	c.entries.Delete(key)
}

func (c *basicCache[T]) wait() {
	runtime.Gosched()
}

func (c *basicCache[T]) Clear() {
	c.clearLock.Lock()
	defer c.clearLock.Unlock()

	c.generation++
	c.entries.Clear()
}

func NewBasicCache[T any]() *basicCache[T] {
	return &basicCache[T]{}
}
