package trends

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"kringlewatch/internal/domain"
)

const cacheKeyPrefix = "kringlewatch:trends:"

// CachedReader is a read-through redis cache in front of a Source. Redis
// failures are logged and fall through to the wrapped source.
type CachedReader struct {
	next   Source
	rc     *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCachedReader wraps next with a redis cache holding entries for ttl.
func NewCachedReader(next Source, rc *redis.Client, ttl time.Duration, logger zerolog.Logger) *CachedReader {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CachedReader{
		next:   next,
		rc:     rc,
		ttl:    ttl,
		logger: logger.With().Str("component", "trend_cache").Logger(),
	}
}

func cacheKey(band domain.AgeBand) string {
	return cacheKeyPrefix + string(band)
}

// LatestTrends serves band from redis when present, otherwise from the source.
func (c *CachedReader) LatestTrends(ctx context.Context, band domain.AgeBand) ([]domain.TrendingProduct, error) {
	if _, err := domain.ParseAgeBand(string(band)); err != nil {
		return nil, err
	}

	key := cacheKey(band)
	bs, err := c.rc.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var items []domain.TrendingProduct
		if err := json.Unmarshal(bs, &items); err == nil {
			return items, nil
		}
		c.logger.Warn().Str("key", key).Msg("discarding undecodable cache entry")
	case !errors.Is(err, redis.Nil):
		c.logger.Warn().Err(err).Str("key", key).Msg("trend cache read failed")
	}

	items, err := c.next.LatestTrends(ctx, band)
	if err != nil {
		return nil, err
	}

	if bs, err := json.Marshal(items); err == nil {
		if err := c.rc.Set(ctx, key, bs, c.ttl).Err(); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("trend cache write failed")
		}
	}
	return items, nil
}

// AllBands returns the latest ranking of every age band through the cache.
func (c *CachedReader) AllBands(ctx context.Context) (map[domain.AgeBand][]domain.TrendingProduct, error) {
	return AllBands(ctx, c)
}

// Invalidate drops the cached ranking of band.
func (c *CachedReader) Invalidate(ctx context.Context, band domain.AgeBand) error {
	return c.rc.Del(ctx, cacheKey(band)).Err()
}

var (
	_ Source      = (*Reader)(nil)
	_ Source      = (*CachedReader)(nil)
	_ Invalidator = (*CachedReader)(nil)
)
