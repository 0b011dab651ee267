package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/goingthrice/bidengine/internal/domain"
)

type auctionRepo struct {
	s       *Store
	locking bool
}

func (r *auctionRepo) Create(_ context.Context, a domain.Auction) error {
	defer guard(r.s, r.locking)()
	if _, ok := r.s.st.auctions[a.ID]; ok {
		return fmt.Errorf("memory: create auction %s: %w", a.ID, domain.ErrAlreadyExists)
	}
	a.Version = 1
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.s.now()
	}
	a.UpdatedAt = a.CreatedAt
	r.s.st.auctions[a.ID] = a
	return nil
}

func (r *auctionRepo) Get(_ context.Context, id uuid.UUID) (domain.Auction, error) {
	defer guard(r.s, r.locking)()
	a, ok := r.s.st.auctions[id]
	if !ok {
		return domain.Auction{}, fmt.Errorf("memory: auction %s: %w", id, domain.ErrNotFound)
	}
	return a, nil
}

// GetForUpdate is Get: a unit of work already holds the store-wide lock.
func (r *auctionRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (domain.Auction, error) {
	return r.Get(ctx, id)
}

func (r *auctionRepo) List(_ context.Context, f domain.AuctionFilter) ([]domain.Auction, int64, error) {
	defer guard(r.s, r.locking)()
	var out []domain.Auction
	for _, a := range r.s.st.auctions {
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, a.Status) {
			continue
		}
		if f.Category != "" && a.Category != f.Category {
			continue
		}
		if f.SellerID != "" && a.SellerID != f.SellerID {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.After(out[j].StartTime)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	return page(out, limit, f.Offset), int64(len(out)), nil
}

func (r *auctionRepo) UpdateBid(_ context.Context, a domain.Auction) error {
	defer guard(r.s, r.locking)()
	cur, ok := r.s.st.auctions[a.ID]
	if !ok || cur.Version != a.Version || cur.Status != domain.StatusLive {
		return fmt.Errorf("memory: update auction bid %s at version %d: %w", a.ID, a.Version, domain.ErrVersionConflict)
	}
	cur.CurrentBid = a.CurrentBid
	cur.HighestBidderID = a.HighestBidderID
	cur.TotalBids = a.TotalBids
	cur.EndTime = a.EndTime
	cur.Version++
	cur.UpdatedAt = r.s.now()
	r.s.st.auctions[a.ID] = cur
	return nil
}

func (r *auctionRepo) setStatus(id uuid.UUID, to domain.AuctionStatus, allowed func(domain.Auction) bool) bool {
	cur, ok := r.s.st.auctions[id]
	if !ok || !allowed(cur) {
		return false
	}
	cur.Status = to
	cur.Version++
	cur.UpdatedAt = r.s.now()
	r.s.st.auctions[id] = cur
	return true
}

func (r *auctionRepo) Transition(_ context.Context, id uuid.UUID, from, to domain.AuctionStatus) (bool, error) {
	defer guard(r.s, r.locking)()
	return r.setStatus(id, to, func(a domain.Auction) bool { return a.Status == from }), nil
}

func (r *auctionRepo) End(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	defer guard(r.s, r.locking)()
	return r.setStatus(id, domain.StatusEnded, func(a domain.Auction) bool {
		return a.Status == domain.StatusLive && !a.EndTime.After(now)
	}), nil
}

func (r *auctionRepo) Cancel(_ context.Context, id uuid.UUID) (bool, error) {
	defer guard(r.s, r.locking)()
	return r.setStatus(id, domain.StatusCancelled, domain.Auction.Cancellable), nil
}

func (r *auctionRepo) scan(limit int, match func(domain.Auction) bool, key func(domain.Auction) time.Time) []domain.Auction {
	var out []domain.Auction
	for _, a := range r.s.st.auctions {
		if match(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return key(out[i]).Before(key(out[j])) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func startOf(a domain.Auction) time.Time { return a.StartTime }
func endOf(a domain.Auction) time.Time   { return a.EndTime }

func (r *auctionRepo) ListStartDue(_ context.Context, now time.Time, limit int) ([]domain.Auction, error) {
	defer guard(r.s, r.locking)()
	return r.scan(limit, func(a domain.Auction) bool {
		return a.Status == domain.StatusScheduled && !a.StartTime.After(now)
	}, startOf), nil
}

func (r *auctionRepo) ListEndDue(_ context.Context, now time.Time, limit int) ([]domain.Auction, error) {
	defer guard(r.s, r.locking)()
	return r.scan(limit, func(a domain.Auction) bool {
		return a.Status == domain.StatusLive && !a.EndTime.After(now)
	}, endOf), nil
}

func (r *auctionRepo) ListEndingBetween(_ context.Context, from, to time.Time, limit int) ([]domain.Auction, error) {
	defer guard(r.s, r.locking)()
	return r.scan(limit, func(a domain.Auction) bool {
		return a.Status == domain.StatusLive && a.EndTime.After(from) && !a.EndTime.After(to)
	}, endOf), nil
}
