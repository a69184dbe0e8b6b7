package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const keyPrefix = "agentledger:lock:"

// releaseScript deletes the key only if it still holds our token.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

// RedisLocker shares locks between service instances.
type RedisLocker struct {
	client   redis.Cmdable
	ttl      time.Duration
	retry    time.Duration
	logger   *zap.Logger
	newToken func() string
}

func NewRedisLocker(client redis.Cmdable, ttl, retry time.Duration, logger *zap.Logger) *RedisLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{
		client:   client,
		ttl:      ttl,
		retry:    retry,
		logger:   logger.Named("lock"),
		newToken: uuid.NewString,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	ordered := orderKeys(keys)
	token := l.newToken()
	held := make([]string, 0, len(ordered))

	release := func() {
		// Release must run even when the caller's context is already done.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			if err := l.client.Eval(rctx, releaseScript, []string{keyPrefix + held[i]}, token).Err(); err != nil {
				l.logger.Warn("failed to release lock", zap.String("key", held[i]), zap.Error(err))
			}
		}
	}

	for _, key := range ordered {
		if err := l.acquire(ctx, keyPrefix+key, token); err != nil {
			release()
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		held = append(held, key)
	}
	return release, nil
}

func (l *RedisLocker) acquire(ctx context.Context, key, token string) error {
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrLockTimeout, ctx.Err())
		case <-time.After(l.retry):
		}
	}
}
