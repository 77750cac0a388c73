package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis wraps redis client.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to redis with short timeouts.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

const tokenKeyPrefix = "qr:current:"

// CacheToken stores the current rotating token for an assignment. The entry
// expires with the token itself, so a stale read is impossible.
func (r *Redis) CacheToken(ctx context.Context, assignmentID, token string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	val := token + "|" + expiresAt.UTC().Format(time.RFC3339Nano)
	return r.Client.Set(ctx, tokenKeyPrefix+assignmentID, val, ttl).Err()
}

// CachedToken returns the cached token and its expiry, or ok=false when the
// cache has no live entry (fall back to the database).
func (r *Redis) CachedToken(ctx context.Context, assignmentID string) (token string, expiresAt time.Time, ok bool) {
	val, err := r.Client.Get(ctx, tokenKeyPrefix+assignmentID).Result()
	if err != nil {
		return "", time.Time{}, false
	}
	for i := len(val) - 1; i >= 0; i-- {
		if val[i] == '|' {
			exp, perr := time.Parse(time.RFC3339Nano, val[i+1:])
			if perr != nil {
				return "", time.Time{}, false
			}
			return val[:i], exp, true
		}
	}
	return "", time.Time{}, false
}
