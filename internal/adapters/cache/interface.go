package cache

type hitResult[T any] struct {
	data    T
	valid   bool
	claimed bool
	// Generation of the cache when the entry was read or claimed
	generation uint64
}

type Cache[T any] interface {
	getOrClaim(key string) hitResult[T]
	// Store data created for a claim made at generation. Dropped if the cache was cleared since.
	set(key string, data T, generation uint64)
	// Release a claim made at generation. A no-op if the cache was cleared since.
	delete(key string, generation uint64)
	wait()
}
