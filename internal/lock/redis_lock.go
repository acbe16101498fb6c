// Package lock provides the per-payment-method lock the saga holds for the
// duration of a phase call.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultTTL    = 30 * time.Second
	defaultPrefix = "payflow:lock:"
)

// ErrNotOwner is returned on release when the lock expired and someone else
// took it in the meantime.
var ErrNotOwner = errors.New("lock: not held by this owner")

// releaseScript deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements saga.Locker with SET NX PX and a compare-and-delete
// release.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	log    zerolog.Logger
}

// NewRedisLocker creates a locker. A ttl of zero uses 30s; it must exceed the
// longest phase call including provider retries.
func NewRedisLocker(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisLocker{
		client: client,
		ttl:    ttl,
		prefix: defaultPrefix,
		log:    logger.With().Str("component", "redis_lock").Logger(),
	}
}

// TryLock acquires key without waiting. ok is false when the key is held.
func (l *RedisLocker) TryLock(ctx context.Context, key string) (func(context.Context) error, bool, error) {
	fullKey := l.prefix + key
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, fullKey, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", fullKey, err)
	}
	if !ok {
		l.log.Debug().Str("key", fullKey).Msg("lock busy")
		return nil, false, nil
	}
	return func(ctx context.Context) error {
		return l.release(ctx, fullKey, token)
	}, true, nil
}

func (l *RedisLocker) release(ctx context.Context, fullKey, token string) error {
	n, err := releaseScript.Run(ctx, l.client, []string{fullKey}, token).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", fullKey, err)
	}
	if n == 0 {
		l.log.Warn().Str("key", fullKey).Msg("lock expired before release")
		return fmt.Errorf("release %s: %w", fullKey, ErrNotOwner)
	}
	return nil
}
