package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	onlineProvidersKey  = "providers:online"
	userActiveRideKey   = "user:active:"
	activeRideTTL       = 6 * time.Hour
	presenceStaleWindow = 12 * time.Hour
)

// PresenceCache tracks which providers are online and which ride each user
// is currently part of. It is a hint layer: the ride store stays the source
// of truth and every pointer here can be rebuilt from it.
type PresenceCache interface {
	SetOnline(ctx context.Context, providerID string) error
	SetOffline(ctx context.Context, providerID string) error
	IsOnline(ctx context.Context, providerID string) (bool, error)
	OnlineProviders(ctx context.Context) ([]string, error)
	SetUserActiveRide(ctx context.Context, userID, rideID string) error
	GetUserActiveRide(ctx context.Context, userID string) (string, error)
	ClearUserActiveRide(ctx context.Context, userID string) error
}

type presenceCache struct {
	redis *redis.Client
	now   func() time.Time
}

func NewPresenceCache(redisClient *redis.Client) PresenceCache {
	return &presenceCache{redis: redisClient, now: time.Now}
}

// Online providers live in a sorted set scored by the time they went online,
// so entries from crashed sessions age out.
func (c *presenceCache) SetOnline(ctx context.Context, providerID string) error {
	return c.redis.ZAdd(ctx, onlineProvidersKey, redis.Z{
		Score:  float64(c.now().Unix()),
		Member: providerID,
	}).Err()
}

func (c *presenceCache) SetOffline(ctx context.Context, providerID string) error {
	return c.redis.ZRem(ctx, onlineProvidersKey, providerID).Err()
}

func (c *presenceCache) IsOnline(ctx context.Context, providerID string) (bool, error) {
	score, err := c.redis.ZScore(ctx, onlineProvidersKey, providerID).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return c.now().Unix()-int64(score) < int64(presenceStaleWindow.Seconds()), nil
}

func (c *presenceCache) OnlineProviders(ctx context.Context) ([]string, error) {
	cutoff := c.now().Add(-presenceStaleWindow).Unix()
	if err := c.redis.ZRemRangeByScore(ctx, onlineProvidersKey, "-inf", "("+strconv.FormatInt(cutoff, 10)).Err(); err != nil {
		return nil, err
	}
	return c.redis.ZRange(ctx, onlineProvidersKey, 0, -1).Result()
}

func (c *presenceCache) SetUserActiveRide(ctx context.Context, userID, rideID string) error {
	key := userActiveRideKey + userID
	return c.redis.Set(ctx, key, rideID, activeRideTTL).Err()
}

func (c *presenceCache) GetUserActiveRide(ctx context.Context, userID string) (string, error) {
	key := userActiveRideKey + userID
	result, err := c.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return result, err
}

func (c *presenceCache) ClearUserActiveRide(ctx context.Context, userID string) error {
	key := userActiveRideKey + userID
	return c.redis.Del(ctx, key).Err()
}
