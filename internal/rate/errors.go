package rate

import "errors"

// ErrRateLimited is returned when a counter exceeds its window budget.
var ErrRateLimited = errors.New("rate limited")

// ErrRedisUnavailable wraps Redis transport failures.
var ErrRedisUnavailable = errors.New("redis unavailable")
