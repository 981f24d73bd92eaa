package cache

import (
	"context"
	"fmt"

	"github.com/Amund211/wpaccount/internal/logging"
)

// Returns data, created, error
//
// Concurrent callers with the same key share a single call to create. If create fails
// nothing is cached, and a waiting caller will claim the key and try again.
func GetOrCreate[T any](ctx context.Context, cache Cache[T], key string, create func() (T, error)) (T, bool, error) {
	claimed := false
	set := false
	defer func() {
		if claimed && !set {
			cache.delete(key)
		}
	}()

	var empty T
	for {
		result := cache.getOrClaim(key)

		if result.claimed {
			claimed = true

			logging.FromContext(ctx).InfoContext(ctx, "Getting cache entry", "cache", "miss")

			data, err := create()
			if err != nil {
				return empty, false, fmt.Errorf("failed to create cache entry: %w", err)
			}

			cache.set(key, data)
			set = true

			return data, true, nil
		}

		if result.valid {
			logging.FromContext(ctx).InfoContext(ctx, "Getting cache entry", "cache", "hit")
			return result.data, false, nil
		}

		if err := ctx.Err(); err != nil {
			return empty, false, fmt.Errorf("gave up waiting for cache entry: %w", err)
		}

		logging.FromContext(ctx).DebugContext(ctx, "Waiting for cache")
		cache.wait()
	}
}
