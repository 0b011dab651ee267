package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AuctionCache is a non-authoritative read cache for auction aggregates. It is
// never consulted when validating a bid.
type AuctionCache interface {
	Set(ctx context.Context, a Auction) error
	Get(ctx context.Context, id uuid.UUID) (Auction, error)
	Invalidate(ctx context.Context, id uuid.UUID) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides fire-and-forget pub/sub between engine instances.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
