package lockout

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type RedisTracker struct {
	redis  redis.UniversalClient
	config Config
}

func NewRedisTracker(client redis.UniversalClient, cfg Config) *RedisTracker {
	return &RedisTracker{redis: client, config: cfg}
}

func (t *RedisTracker) Check(ctx context.Context, identity, origin string) (Status, error) {
	k := key(identity, origin)

	pipe := t.redis.Pipeline()
	getCmd := pipe.Get(ctx, k)
	ttlCmd := pipe.TTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Status{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	count, err := getCmd.Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Status{}, nil
		}
		return Status{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return t.status(count, ttlCmd), nil
}

// RecordFailure increments the counter and pushes its expiry out to a full duration
// from now, so the lockout window always starts at the latest failure.
func (t *RedisTracker) RecordFailure(ctx context.Context, identity, origin string) (Status, error) {
	k := key(identity, origin)

	pipe := t.redis.TxPipeline()
	incrCmd := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, t.config.Duration)
	ttlCmd := pipe.TTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	st := t.status(int(incrCmd.Val()), ttlCmd)
	st.Tripped = st.Failures == t.config.Threshold
	return st, nil
}

func (t *RedisTracker) Reset(ctx context.Context, identity, origin string) error {
	if err := t.redis.Del(ctx, key(identity, origin)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (t *RedisTracker) status(count int, ttlCmd *redis.DurationCmd) Status {
	st := Status{Failures: count}
	if count >= t.config.Threshold {
		st.Locked = true
		st.RetryAfter = ttlCmd.Val()
		if st.RetryAfter <= 0 {
			st.RetryAfter = t.config.Duration
		}
	}
	return st
}
