package llmx

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisInvalidator broadcasts cache-clear events across processes sharing a
// workspace root, adapted from the teacher's generation-bump pub/sub pattern
// (internal/workspaces/redis_cache.go). It is strictly supplementary: the
// oracle's correctness does not depend on it being configured.
type RedisInvalidator struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisInvalidator connects to addr and pings it; a non-nil error means
// the caller should run without distributed invalidation rather than fail
// startup, since this is an optional enhancement.
func NewRedisInvalidator(addr, channel string) (*RedisInvalidator, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	if channel == "" {
		channel = "mnemo:oracle:invalidate"
	}
	return &RedisInvalidator{client: client, channel: channel}, nil
}

func (r *RedisInvalidator) PublishInvalidateAll(ctx context.Context) error {
	return r.client.Publish(ctx, r.channel, "clear").Err()
}

func (r *RedisInvalidator) Subscribe(ctx context.Context) (<-chan struct{}, func()) {
	sub := r.client.Subscribe(ctx, r.channel)
	out := make(chan struct{})
	go func() {
		defer close(out)
		ch := sub.Channel()
		for range ch {
			select {
			case out <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, func() { _ = sub.Close() }
}
