package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the key only while it still holds our token.
const releaseScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`

// RedisLocker hands out SET NX locks with a TTL.
type RedisLocker struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisLocker connects to redis and pings it.
func NewRedisLocker(addr, password string, logger *zap.Logger) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            addr,
		Password:        password,
		PoolSize:        10,
		PoolTimeout:     4 * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("redis connected", zap.String("addr", addr))
	return &RedisLocker{client: client, logger: logger}, nil
}

// TryLock sets key to a fresh token if it is free. ok is false when someone
// else holds it. The returned unlock releases the key only if the token is
// still ours, so an expired lock taken over by another process is left alone.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	l.logger.Debug("lock acquired", zap.String("key", key), zap.Duration("ttl", ttl))

	unlock := func(ctx context.Context) error {
		n, err := l.client.Eval(ctx, releaseScript, []string{key}, token).Int()
		if err != nil {
			return fmt.Errorf("release lock: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("lock %s not owned by this token (expired or taken over)", key)
		}
		return nil
	}
	return unlock, true, nil
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}
