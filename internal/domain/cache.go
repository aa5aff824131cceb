package domain

import (
	"context"
	"time"
)

// MarketCache provides fast market read-model lookups.
type MarketCache interface {
	Set(ctx context.Context, market Market) error
	Get(ctx context.Context, id uint64) (Market, error)
	Invalidate(ctx context.Context, id uint64) error
}

// VerdictCache stores resolver verdicts keyed by a hash of the exact prompt
// content. A cached verdict lets an admin retry a failed settlement
// transaction without paying for a second model call.
type VerdictCache interface {
	Get(ctx context.Context, key string) (Verdict, bool, error)
	Set(ctx context.Context, key string, v Verdict) error
}

// LockManager provides distributed locking. It backs the at-most-one
// in-flight dispatch guarantee per market.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub for settlement lifecycle events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// RateLimiter throttles expensive operations, primarily resolver calls.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
