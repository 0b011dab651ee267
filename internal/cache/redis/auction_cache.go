package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/goingthrice/bidengine/internal/domain"
)

// AuctionCache implements domain.AuctionCache with one JSON string per
// auction.
//
// Key schema:
//
//	bidengine:auction:{id} - JSON-encoded domain.Auction
type AuctionCache struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ domain.AuctionCache = (*AuctionCache)(nil)

// NewAuctionCache creates an AuctionCache whose entries expire after ttl.
func NewAuctionCache(c *Client, ttl time.Duration) *AuctionCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &AuctionCache{rdb: c.Underlying(), ttl: ttl}
}

func auctionKey(id uuid.UUID) string { return keyPrefix + "auction:" + id.String() }

// Set stores a.
func (ac *AuctionCache) Set(ctx context.Context, a domain.Auction) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("redis: marshal auction %s: %w", a.ID, err)
	}
	if err := ac.rdb.Set(ctx, auctionKey(a.ID), data, ac.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set auction %s: %w", a.ID, err)
	}
	return nil
}

// Get returns the cached auction or domain.ErrNotFound on a miss.
func (ac *AuctionCache) Get(ctx context.Context, id uuid.UUID) (domain.Auction, error) {
	data, err := ac.rdb.Get(ctx, auctionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Auction{}, domain.ErrNotFound
		}
		return domain.Auction{}, fmt.Errorf("redis: get auction %s: %w", id, err)
	}

	var a domain.Auction
	if err := json.Unmarshal(data, &a); err != nil {
		return domain.Auction{}, fmt.Errorf("redis: unmarshal auction %s: %w", id, err)
	}
	return a, nil
}

// Invalidate drops the cached copy of id.
func (ac *AuctionCache) Invalidate(ctx context.Context, id uuid.UUID) error {
	if err := ac.rdb.Del(ctx, auctionKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate auction %s: %w", id, err)
	}
	return nil
}
