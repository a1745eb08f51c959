package cache

import (
	"context"
	"fmt"

	"github.com/Amund211/duelhistory/internal/logging"
)

func GetOrCreate[T any](ctx context.Context, cache Cache[T], key string, create func() (T, error)) (T, error) {
	// Clean up the cache if we claim an entry, but don't set it
	// This allows other callers to try again
	claimed := false
	set := false
	var generation uint64
	defer func() {
		if claimed && !set {
			cache.delete(key, generation)
		}
	}()

	for {
		result := cache.getOrClaim(key)

		if result.claimed {
			claimed = true
			generation = result.generation

			logging.FromContext(ctx).InfoContext(ctx, "Getting cached value", "cache", "miss", "key", key)

			data, err := create()
			if err != nil {
				var empty T
				return empty, fmt.Errorf("failed to create cache entry: %w", err)
			}

			cache.set(key, data, result.generation)
			set = true

			return data, nil
		}

		if result.valid {
			logging.FromContext(ctx).InfoContext(ctx, "Getting cached value", "cache", "hit", "key", key)
			return result.data, nil
		}

		logging.FromContext(ctx).InfoContext(ctx, "Waiting for cache", "key", key)
		cache.wait()
	}
}
