package profiles

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Source is anything that can resolve a display name.
type Source interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// CachedLookup puts a Redis read-through cache in front of a Source.
// Redis failures degrade to the source; they never fail the lookup.
type CachedLookup struct {
	source Source
	client redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedLookup creates a cached display-name lookup.
func NewCachedLookup(source Source, client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *CachedLookup {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedLookup{source: source, client: client, ttl: ttl, logger: logger}
}

func cacheKey(userID string) string {
	return "profile:name:" + userID
}

// DisplayName returns the cached name or loads and caches it.
func (c *CachedLookup) DisplayName(ctx context.Context, userID string) (string, error) {
	name, err := c.client.Get(ctx, cacheKey(userID)).Result()
	switch {
	case err == nil:
		return name, nil
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("profile cache read failed", zap.String("user_id", userID), zap.Error(err))
	}

	name, err = c.source.DisplayName(ctx, userID)
	if err != nil {
		return "", err
	}
	if err := c.client.Set(ctx, cacheKey(userID), name, c.ttl).Err(); err != nil {
		c.logger.Warn("profile cache write failed", zap.String("user_id", userID), zap.Error(err))
	}
	return name, nil
}
