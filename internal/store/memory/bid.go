package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/goingthrice/bidengine/internal/domain"
)

type bidRepo struct {
	s       *Store
	locking bool
}

func (r *bidRepo) Append(_ context.Context, b domain.Bid) error {
	defer guard(r.s, r.locking)()
	for _, existing := range r.s.st.bids {
		if existing.ID == b.ID {
			return fmt.Errorf("memory: append bid %s: %w", b.ID, domain.ErrAlreadyExists)
		}
		// Mirrors the one-winner unique index.
		if b.IsWinning && existing.AuctionID == b.AuctionID && existing.IsWinning {
			return fmt.Errorf("memory: append bid %s: second winning bid: %w", b.ID, domain.ErrAlreadyExists)
		}
	}
	r.s.st.bids = append(r.s.st.bids, b)
	return nil
}

func (r *bidRepo) ClearWinning(_ context.Context, auctionID uuid.UUID) error {
	defer guard(r.s, r.locking)()
	for i := range r.s.st.bids {
		if r.s.st.bids[i].AuctionID == auctionID {
			r.s.st.bids[i].IsWinning = false
		}
	}
	return nil
}

func (r *bidRepo) newestFirst(match func(domain.Bid) bool) []domain.Bid {
	var out []domain.Bid
	for i := len(r.s.st.bids) - 1; i >= 0; i-- {
		if b := r.s.st.bids[i]; match(b) {
			out = append(out, b)
		}
	}
	return out
}

func (r *bidRepo) History(_ context.Context, auctionID uuid.UUID, limit int) ([]domain.Bid, error) {
	defer guard(r.s, r.locking)()
	out := r.newestFirst(func(b domain.Bid) bool { return b.AuctionID == auctionID })
	return page(out, limit, 0), nil
}

func (r *bidRepo) ListAll(_ context.Context, auctionID uuid.UUID) ([]domain.Bid, error) {
	defer guard(r.s, r.locking)()
	var out []domain.Bid
	for _, b := range r.s.st.bids {
		if b.AuctionID == auctionID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *bidRepo) ListByUser(_ context.Context, userID string, opts domain.ListOpts) ([]domain.Bid, error) {
	defer guard(r.s, r.locking)()
	out := r.newestFirst(func(b domain.Bid) bool { return b.UserID == userID })
	return page(out, opts.Limit, opts.Offset), nil
}

func (r *bidRepo) ListWinning(_ context.Context, userID string) ([]domain.Bid, error) {
	defer guard(r.s, r.locking)()
	return r.newestFirst(func(b domain.Bid) bool { return b.UserID == userID && b.IsWinning }), nil
}
