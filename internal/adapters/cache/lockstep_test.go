package cache

import "sync"

type lockstepEntry[T any] struct {
	data  T
	valid bool
}

// A cache shared by a fixed number of clients that advance in lockstep.
// The tick advances once every client has called wait() for the current tick.
type lockstepCache[T any] struct {
	mu   sync.Mutex
	cond *sync.Cond

	entries  map[string]lockstepEntry[T]
	tick     int
	maxTicks int
	clients  int
	arrived  int
}

type lockstepClient[T any] struct {
	cache *lockstepCache[T]
}

func newLockstepCache[T any](clients int, maxTicks int) (*lockstepCache[T], []*lockstepClient[T]) {
	c := &lockstepCache[T]{
		entries:  map[string]lockstepEntry[T]{},
		maxTicks: maxTicks,
		clients:  clients,
	}
	c.cond = sync.NewCond(&c.mu)

	result := make([]*lockstepClient[T], clients)
	for i := range clients {
		result[i] = &lockstepClient[T]{cache: c}
	}
	return c, result
}

func (c *lockstepCache[T]) done() bool {
	return c.tick >= c.maxTicks
}

func (client *lockstepClient[T]) currentTick() int {
	client.cache.mu.Lock()
	defer client.cache.mu.Unlock()
	return client.cache.tick
}

func (client *lockstepClient[T]) getOrClaim(key string) hitResult[T] {
	client.cache.mu.Lock()
	defer client.cache.mu.Unlock()

	entry, ok := client.cache.entries[key]
	if ok {
		return hitResult[T]{
			data:    entry.data,
			valid:   entry.valid,
			claimed: false,
		}
	}

	client.cache.entries[key] = lockstepEntry[T]{valid: false}
	return hitResult[T]{
		valid:   false,
		claimed: true,
	}
}

func (client *lockstepClient[T]) set(key string, data T, generation uint64) {
	client.cache.mu.Lock()
	defer client.cache.mu.Unlock()

	client.cache.entries[key] = lockstepEntry[T]{data: data, valid: true}
}

func (client *lockstepClient[T]) delete(key string, generation uint64) {
	client.cache.mu.Lock()
	defer client.cache.mu.Unlock()

	delete(client.cache.entries, key)
}

func (client *lockstepClient[T]) wait() {
	c := client.cache
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done() {
		panic("wait() called after the last tick")
	}

	target := c.tick + 1
	c.arrived++
	if c.arrived == c.clients {
		c.arrived = 0
		c.tick++
		c.cond.Broadcast()
	}
	for c.tick < target {
		c.cond.Wait()
	}
}

// Keep participating in ticks until the last one so the other clients can advance
func (client *lockstepClient[T]) waitUntilDone() {
	for {
		client.cache.mu.Lock()
		done := client.cache.done()
		client.cache.mu.Unlock()
		if done {
			return
		}
		client.wait()
	}
}
