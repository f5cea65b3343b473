package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sbilibin2017/gw-accounts/internal/logger"
)

// ThrottleRepository counts attempts per key in fixed windows using Redis.
type ThrottleRepository struct {
	client *redis.Client
	prefix string
	window time.Duration
}

// NewThrottleRepository creates a repository whose counters live for window.
func NewThrottleRepository(client *redis.Client, prefix string, window time.Duration) *ThrottleRepository {
	return &ThrottleRepository{
		client: client,
		prefix: prefix,
		window: window,
	}
}

// Hit records one attempt for key and returns the number of attempts in the
// current window together with the time left until the window resets.
func (r *ThrottleRepository) Hit(ctx context.Context, key string) (int64, time.Duration, error) {
	k := fmt.Sprintf("%s:%s", r.prefix, key)

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, r.window)
	ttl := pipe.PTTL(ctx, k)
	_, err := pipe.Exec(ctx)

	logger.FromContext(ctx).Infow(
		"key", k,
		"result", incr.Val(),
		"error", err,
	)

	if err != nil {
		return 0, 0, err
	}

	left := ttl.Val()
	if left < 0 {
		left = r.window
	}
	return incr.Val(), left, nil
}
