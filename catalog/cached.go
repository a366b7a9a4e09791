package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedClient memoizes FindVehicleJourneys calls keyed by
// (catalog_publication_date, trip_code, since, until), invalidating
// implicitly whenever the publication date changes.
type CachedClient struct {
	inner Client
	redis *redis.Client
	ttl   time.Duration
}

// NewCachedClient wraps inner with a Redis-backed memoization layer.
func NewCachedClient(inner Client, redisClient *redis.Client, ttl time.Duration) *CachedClient {
	return &CachedClient{inner: inner, redis: redisClient, ttl: ttl}
}

func (c *CachedClient) cacheKey(pubDate, codeType, code string, sinceUTC, untilUTC time.Time) string {
	return fmt.Sprintf("kirin:catalog:%s:%s:%s:%d:%d", pubDate, codeType, code, sinceUTC.Unix(), untilUTC.Unix())
}

// FindVehicleJourneys implements Client, consulting the cache before
// calling through to inner.
func (c *CachedClient) FindVehicleJourneys(ctx context.Context, codeType, code string, sinceUTC, untilUTC time.Time) ([]VehicleJourney, error) {
	pubDate, err := c.inner.PublicationDate(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching publication date: %w", err)
	}

	key := c.cacheKey(pubDate, codeType, code, sinceUTC, untilUTC)

	if cached, err := c.redis.Get(ctx, key).Bytes(); err == nil {
		var vjs []VehicleJourney
		if jsonErr := json.Unmarshal(cached, &vjs); jsonErr == nil {
			return vjs, nil
		}
	}

	vjs, err := c.inner.FindVehicleJourneys(ctx, codeType, code, sinceUTC, untilUTC)
	if err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(vjs); err == nil {
		c.redis.Set(ctx, key, encoded, c.ttl)
	}

	return vjs, nil
}

// PublicationDate implements Client, delegating directly to inner: the
// publication date itself is the cache invalidation signal and must
// never be served stale.
func (c *CachedClient) PublicationDate(ctx context.Context) (string, error) {
	return c.inner.PublicationDate(ctx)
}
