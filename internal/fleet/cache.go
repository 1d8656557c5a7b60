package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CachedLookup keeps profiles in redis for ttl, which bounds how stale an
// enriched position can be after a fleet record changes. Redis failures fall
// through to the underlying lookup.
type CachedLookup struct {
	next   Lookup
	redis  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedLookup(next Lookup, redisClient *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedLookup {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedLookup{next: next, redis: redisClient, ttl: ttl, logger: logger}
}

func (c *CachedLookup) Profile(ctx context.Context, vehicleID string) (Profile, error) {
	if c.redis == nil {
		return c.next.Profile(ctx, vehicleID)
	}

	key := profileKey(vehicleID)
	raw, err := c.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var p Profile
		if err := json.Unmarshal(raw, &p); err == nil {
			return p, nil
		}
		c.logger.Warn("discarding corrupt cached profile", zap.String("vehicle_id", vehicleID))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("profile cache read failed", zap.String("vehicle_id", vehicleID), zap.Error(err))
	}

	p, err := c.next.Profile(ctx, vehicleID)
	if err != nil {
		return Profile{}, err
	}
	if payload, err := json.Marshal(p); err == nil {
		if err := c.redis.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.logger.Warn("profile cache write failed", zap.String("vehicle_id", vehicleID), zap.Error(err))
		}
	}
	return p, nil
}

// Invalidate drops the cached profile so the next lookup reloads it.
func (c *CachedLookup) Invalidate(ctx context.Context, vehicleID string) error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Del(ctx, profileKey(vehicleID)).Err()
}

func profileKey(vehicleID string) string {
	return "fleet:vehicle:" + vehicleID + ":profile"
}
