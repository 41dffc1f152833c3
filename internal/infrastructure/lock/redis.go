package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrNotObtained is returned when the lock is still held elsewhere after retrying
var ErrNotObtained = errors.New("lock not obtained")

// RedisLocker serializes extraction across processes sharing one Redis
type RedisLocker struct {
	client  *redislock.Client
	key     string
	ttl     time.Duration
	backoff time.Duration
	logger  *zap.Logger
}

// NewRedisLocker creates a locker on key. ttl must outlast the longest
// critical section; waiting is bounded by the caller's context or ttl.
func NewRedisLocker(rdb redis.UniversalClient, key string, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	return &RedisLocker{
		client:  redislock.New(rdb),
		key:     key,
		ttl:     ttl,
		backoff: 100 * time.Millisecond,
		logger:  logger,
	}
}

// Lock obtains the lock, retrying with linear backoff
func (l *RedisLocker) Lock(ctx context.Context) (func(context.Context) error, error) {
	lk, err := l.client.Obtain(ctx, l.key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(l.backoff),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		l.logger.Warn("Could not obtain redis lock", zap.String("key", l.key))
		return nil, fmt.Errorf("%w: %s", ErrNotObtained, l.key)
	}
	if err != nil {
		l.logger.Error("Error obtaining redis lock", zap.String("key", l.key), zap.Error(err))
		return nil, fmt.Errorf("failed to obtain redis lock: %w", err)
	}

	return func(ctx context.Context) error {
		if err := lk.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.logger.Warn("Failed to release redis lock", zap.String("key", l.key), zap.Error(err))
			return err
		}
		return nil
	}, nil
}

// NewRedisClient connects to addr and verifies the connection
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect redis at %s: %w", addr, err)
	}
	return rdb, nil
}
