// Package lock provides domain.Locker implementations.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/simaogato/autoinvest-backend/internal/domain"
)

const keyPrefix = "autoinvest:lock:"

// RedisLocker serializes work across processes with Redis-backed locks
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	log    zerolog.Logger
}

// NewRedisLocker creates a locker on top of an existing Redis client
func NewRedisLocker(rdb redis.UniversalClient, ttl time.Duration, log zerolog.Logger) *RedisLocker {
	return &RedisLocker{
		client: redislock.New(rdb),
		ttl:    ttl,
		log:    log.With().Str("component", "redis_locker").Logger(),
	}
}

// Connect opens a Redis client and verifies it with a ping
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		PoolSize: 20,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// Obtain acquires the lock for key, retrying for up to one TTL
func (l *RedisLocker) Obtain(ctx context.Context, key string) (func(), error) {
	retries := int(l.ttl / (100 * time.Millisecond))
	opts := &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), retries),
	}

	lk, err := l.client.Obtain(ctx, keyPrefix+key, l.ttl, opts)
	if errors.Is(err, redislock.ErrNotObtained) {
		l.log.Warn().Str("key", key).Msg("Could not obtain lock")
		return nil, &domain.ConcurrencyError{Resource: "lock", ID: key}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to obtain lock %s: %w", key, err)
	}

	return func() {
		// Use a fresh context: the caller's may already be cancelled
		if err := lk.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.log.Error().Err(err).Str("key", key).Msg("Failed to release lock")
		}
	}, nil
}
