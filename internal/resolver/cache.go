package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/cooperado/cooperado/internal/rolegraph"
)

const cacheVersionKey = "authz:closure:version"

// Cache memoizes per-role permission closures in Redis. Keys embed a global
// graph version; any role, permission or membership mutation bumps the
// version, which invalidates every cached closure at once. Closures are pure
// functions of the graph, so a version-stamped entry never goes stale.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCache instantiates the cache helper. A nil client degrades every lookup
// to direct computation.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Version returns the current graph version, initialising it when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Bump invalidates all cached closures by incrementing the graph version.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}

// Closure returns the memoized closure for roleID, computing and storing it
// on a miss. Concurrent misses for the same key collapse into one
// computation. Redis failures fall back to the loader; a cache outage can
// slow authorization checks but never break them.
func (c *Cache) Closure(ctx context.Context, roleID int64, loader func(context.Context) (rolegraph.PermissionSet, error)) (rolegraph.PermissionSet, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return loader(ctx)
	}
	key := fmt.Sprintf("authz:closure:%d:%d", roleID, ver)

	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var ids []int64
		if err := json.Unmarshal(payload, &ids); err == nil {
			set := make(rolegraph.PermissionSet, len(ids))
			for _, id := range ids {
				set.Add(id)
			}
			return set, nil
		}
	}

	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		set, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		if raw, err := json.Marshal(set.Sorted()); err == nil {
			_ = c.client.Set(ctx, key, raw, c.ttl).Err()
		}
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(rolegraph.PermissionSet), nil
}
