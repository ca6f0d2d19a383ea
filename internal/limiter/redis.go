package limiter

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Redis-backed limiter with a sliding failure window and lockout.
type Redis struct {
	rdb      redisCmds
	window   time.Duration
	maxFails int
	blockFor time.Duration
}

// redisCmds is the slice of the Redis command set the limiter uses.
type redisCmds interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	TTL(ctx context.Context, key string) *redis.DurationCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// NewRedis constructs a Redis-backed limiter.
func NewRedis(client *redis.Client, window time.Duration, maxFails int, blockFor time.Duration) *Redis {
	return &Redis{rdb: client, window: window, maxFails: maxFails, blockFor: blockFor}
}

// NewRedisWithCmds constructs a Redis-backed limiter over a command subset.
func NewRedisWithCmds(rdb redisCmds, window time.Duration, maxFails int, blockFor time.Duration) *Redis {
	return &Redis{rdb: rdb, window: window, maxFails: maxFails, blockFor: blockFor}
}

func failKey(clientID string, ipHash []byte) string {
	return "login:fail:" + clientID + ":" + hex.EncodeToString(ipHash)
}

func blockKey(clientID string, ipHash []byte) string {
	return "login:block:" + clientID + ":" + hex.EncodeToString(ipHash)
}

// Allow reports whether login is currently allowed and a retry-after duration.
func (l *Redis) Allow(ctx context.Context, clientID string, ipHash []byte) (bool, time.Duration, error) {
	ttl, err := l.rdb.TTL(ctx, blockKey(clientID, ipHash)).Result()
	if err != nil {
		return false, 0, err
	}
	// a missing or persistent key reports a negative TTL; only a live block
	// carries a positive one
	if ttl > 0 {
		return false, ttl, nil
	}
	return true, 0, nil
}

// Success resets counters for (client, ip).
func (l *Redis) Success(ctx context.Context, clientID string, ipHash []byte) error {
	return l.rdb.Del(ctx, failKey(clientID, ipHash), blockKey(clientID, ipHash)).Err()
}

// Failure records a failed attempt; may set a block until a future time.
func (l *Redis) Failure(ctx context.Context, clientID string, ipHash []byte) (bool, time.Duration, error) {
	fk := failKey(clientID, ipHash)
	fails, err := l.rdb.Incr(ctx, fk).Result()
	if err != nil {
		return false, 0, err
	}
	if fails == 1 {
		if err := l.rdb.Expire(ctx, fk, l.window).Err(); err != nil {
			return false, 0, err
		}
	}
	if int(fails) >= l.maxFails {
		if err := l.rdb.Set(ctx, blockKey(clientID, ipHash), 1, l.blockFor).Err(); err != nil {
			return false, 0, err
		}
		if err := l.rdb.Del(ctx, fk).Err(); err != nil {
			return false, 0, err
		}
		return true, l.blockFor, nil
	}
	return false, 0, nil
}
