package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

// Limiter is a thin wrapper around github.com/vnmchuo/ratelimiter, keyed by
// caller. Callers are identified by a hash of their token, never the token.
type Limiter struct {
	store extratelimit.Limiter
}

func NewLimiter(rdb *redis.Client, perMinute int64) *Limiter {
	store := extratelimit.NewRedisStore(rdb,
		extratelimit.WithLimit(int(perMinute)),
		extratelimit.WithWindow(time.Minute),
	)
	return &Limiter{store: store}
}

func NewTestLimiter(store extratelimit.Limiter) *Limiter {
	return &Limiter{store: store}
}

// Allow consumes one request from the caller's window.
func (l *Limiter) Allow(ctx context.Context, callerKey string) (bool, error) {
	res, err := l.store.AllowN(ctx, key(callerKey), 1)
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

func key(callerKey string) string {
	return fmt.Sprintf("ratelimit:caller:%s", callerKey)
}
