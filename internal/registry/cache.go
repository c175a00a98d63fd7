package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/swooshie/sheetsync/pkg/redis"
)

// VersionSource resolves the current registry version for an origin from the
// system of record (the store's registry table).
type VersionSource interface {
	RegistryVersion(ctx context.Context, origin string) (string, error)
}

// VersionCache answers "what was the last known registry version" without a
// round trip to the store on every call. Redis fronts the store; the store
// stays authoritative and the cache is invalidated whenever a run changes
// the registry. Concurrent misses for the same origin are coalesced.
type VersionCache struct {
	rdb    *redis.Client
	source VersionSource
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
}

// NewVersionCache creates a VersionCache. rdb may be nil, in which case
// every lookup goes to the source.
func NewVersionCache(rdb *redis.Client, source VersionSource, ttl time.Duration) *VersionCache {
	return &VersionCache{
		rdb:    rdb,
		source: source,
		ttl:    ttl,
		logger: slog.Default().With("component", "registry-version-cache"),
	}
}

func cacheKey(origin string) string {
	return "sheetsync:registry-version:" + origin
}

// Current returns the last persisted registry version for the origin, or ""
// when no registry has been stored yet.
func (c *VersionCache) Current(ctx context.Context, origin string) (string, error) {
	if c.rdb != nil {
		cached, err := c.rdb.Get(ctx, cacheKey(origin))
		if err == nil {
			return cached, nil
		}
		if !redis.IsNilError(err) {
			c.logger.Warn("version cache read failed, falling back to store", "error", err)
		}
	}

	v, err, _ := c.group.Do(origin, func() (any, error) {
		version, err := c.source.RegistryVersion(ctx, origin)
		if err != nil {
			return "", fmt.Errorf("loading registry version for %s: %w", origin, err)
		}
		if c.rdb != nil {
			if err := c.rdb.Set(ctx, cacheKey(origin), version, c.ttl); err != nil {
				c.logger.Warn("version cache write failed", "error", err)
			}
		}
		return version, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached version for the origin after a registry write.
func (c *VersionCache) Invalidate(ctx context.Context, origin string) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, cacheKey(origin)); err != nil {
		c.logger.Warn("version cache invalidation failed", "origin", origin, "error", err)
	}
}
