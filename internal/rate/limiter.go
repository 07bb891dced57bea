package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Limiter implements fixed-window request counting in Redis: an atomic INCR
// per key, with the window TTL set on the increment that creates the key.
// Bursts straddling a window boundary are accepted by design.
type Limiter struct {
	redis  redis.UniversalClient
	logger *zap.Logger
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(redisClient redis.UniversalClient, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		redis:  redisClient,
		logger: logger,
	}
}

// Allow increments the counter for key and reports whether the request is
// within budget. The policy on Redis failure is fail-open: authentication
// availability is not held hostage by limiter outages, so errors are logged
// and the request is allowed.
func (l *Limiter) Allow(ctx context.Context, key string, window time.Duration, max int) bool {
	count, err := l.incrementWithTTL(ctx, "rl:"+key, window)
	if err != nil {
		l.logger.Warn("rate limiter unavailable, failing open",
			zap.String("key", key),
			zap.Error(err),
		)
		return true
	}
	return count <= int64(max)
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}

// LoginLimiter tracks failed login attempts per (email, IP) pair,
// independently of the generic request limiter. Unlike Allow, its Redis
// errors surface to the caller.
type LoginLimiter struct {
	redis       redis.UniversalClient
	maxAttempts int
	window      time.Duration
}

// NewLoginLimiter creates a LoginLimiter locking out after maxAttempts
// failures within window.
func NewLoginLimiter(redisClient redis.UniversalClient, maxAttempts int, window time.Duration) *LoginLimiter {
	return &LoginLimiter{
		redis:       redisClient,
		maxAttempts: maxAttempts,
		window:      window,
	}
}

// Check returns ErrRateLimited when the pair has exhausted its attempt
// budget. A missing counter means no recorded failures.
func (l *LoginLimiter) Check(ctx context.Context, email, ip string) error {
	count, err := l.redis.Get(ctx, loginKey(email, ip)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count >= int64(l.maxAttempts) {
		return ErrRateLimited
	}
	return nil
}

// Increment records a failed attempt and returns ErrRateLimited once the
// budget is exceeded.
func (l *LoginLimiter) Increment(ctx context.Context, email, ip string) error {
	key := loginKey(email, ip)
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	if count >= int64(l.maxAttempts) {
		return ErrRateLimited
	}
	return nil
}

// Reset clears the counter after a successful login.
func (l *LoginLimiter) Reset(ctx context.Context, email, ip string) error {
	if err := l.redis.Del(ctx, loginKey(email, ip)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func loginKey(email, ip string) string {
	return "login:" + email + ":" + ip
}
