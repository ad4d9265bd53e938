package ratelimit

import (
	"context"
	"errors"
)

// ErrLimitExceeded is returned alongside a false result when the caller has
// exhausted its window.
var ErrLimitExceeded = errors.New("rate limit exceeded")

// Limiter throttles anonymous generation requests per client key. Limit and
// window are fixed at construction.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}
