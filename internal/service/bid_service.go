package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/goingthrice/bidengine/internal/domain"
)

// BidConfig tunes the optimistic retry loop of PlaceBid.
type BidConfig struct {
	// MaxRetries is the number of extra attempts after a version conflict.
	MaxRetries   int
	RetryBackoff time.Duration
}

// BidService accepts bids. One PlaceBid call validates the bid, moves escrow
// and updates the auction in a single unit of work whose auction write is a
// compare-and-set on the auction version.
type BidService struct {
	uow       domain.UnitOfWork
	publisher domain.EventPublisher
	cache     domain.AuctionCache
	alerts    Alerter
	cfg       BidConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewBidService creates a BidService. cache and alerts may be nil.
func NewBidService(
	uow domain.UnitOfWork,
	publisher domain.EventPublisher,
	cache domain.AuctionCache,
	alerts Alerter,
	cfg BidConfig,
	logger *slog.Logger,
) *BidService {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &BidService{
		uow:       uow,
		publisher: publisher,
		cache:     cache,
		alerts:    alerts,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "bid_service")),
		now:       time.Now,
	}
}

// placement is the committed outcome of one bid attempt.
type placement struct {
	auction     domain.Auction
	bid         domain.Bid
	displaced   string
	displacedAt decimal.Decimal
	extended    bool
}

// PlaceBid places a bid of amount by bidderID on auctionID.
//
// Validation failures come back as domain.ErrInvalidAmount, domain.ErrNotFound,
// domain.ErrAuctionNotLive, domain.ErrSelfBid, *domain.BidTooLowError or
// domain.ErrInsufficientFunds, and leave no trace in the ledger. A version
// conflict re-runs validation against the fresh auction; once the retries are
// spent the call fails with domain.ErrConcurrentBidConflict.
//
// The funds check is available >= amount, except when the bidder already
// holds the highest bid: the escrow of that bid is released first, so a raise
// needs available + previous bid >= amount.
func (s *BidService) PlaceBid(ctx context.Context, auctionID uuid.UUID, bidderID string, amount decimal.Decimal) (domain.BidResult, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return domain.BidResult{}, err
	}

	var p placement
	var err error
	for attempt := 0; ; attempt++ {
		p, err = s.attempt(ctx, auctionID, bidderID, amount)
		if !errors.Is(err, domain.ErrVersionConflict) {
			break
		}
		if attempt >= s.cfg.MaxRetries {
			s.logger.WarnContext(ctx, "bid retries exhausted",
				slog.String("auction_id", auctionID.String()),
				slog.String("bidder_id", bidderID),
				slog.Int("attempts", attempt+1),
			)
			return domain.BidResult{}, fmt.Errorf("bid_service: place bid on %s: %w", auctionID, domain.ErrConcurrentBidConflict)
		}
		if werr := s.backoff(ctx, attempt); werr != nil {
			return domain.BidResult{}, fmt.Errorf("bid_service: place bid on %s: %w", auctionID, werr)
		}
	}
	if err != nil {
		reportInconsistency(ctx, s.logger, s.alerts, "place_bid", err)
		return domain.BidResult{}, fmt.Errorf("bid_service: place bid on %s: %w", auctionID, err)
	}

	s.logger.InfoContext(ctx, "bid accepted",
		slog.String("auction_id", auctionID.String()),
		slog.String("bidder_id", bidderID),
		slog.String("amount", amount.StringFixed(domain.AmountScale)),
		slog.Int64("total_bids", p.auction.TotalBids),
		slog.Bool("extended", p.extended),
	)
	s.fanout(ctx, p)

	return domain.BidResult{
		AuctionID:       p.auction.ID,
		CurrentBid:      p.auction.CurrentBid,
		HighestBidderID: p.auction.HighestBidderID,
		TotalBids:       p.auction.TotalBids,
		EndTime:         p.auction.EndTime,
	}, nil
}

func (s *BidService) backoff(ctx context.Context, attempt int) error {
	d := s.cfg.RetryBackoff * time.Duration(attempt+1)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// attempt runs one validate-and-commit pass.
func (s *BidService) attempt(ctx context.Context, auctionID uuid.UUID, bidderID string, amount decimal.Decimal) (placement, error) {
	var p placement
	err := s.uow.WithinTx(ctx, func(ctx context.Context, r domain.Repositories) error {
		now := s.now()
		// The auction row lock orders bids on one auction before any wallet
		// is touched; prevBidder and prevAmount below are therefore current.
		a, err := r.Auctions().GetForUpdate(ctx, auctionID)
		if err != nil {
			return err
		}
		if a.Status != domain.StatusLive || !now.Before(a.EndTime) {
			return domain.ErrAuctionNotLive
		}
		if bidderID == a.SellerID {
			return domain.ErrSelfBid
		}
		if minimum := a.MinimumBid(); amount.LessThan(minimum) {
			return &domain.BidTooLowError{Minimum: minimum}
		}

		prevBidder, prevAmount := a.HighestBidderID, a.CurrentBid
		ref := auctionID.String()

		l := newLedger(r, now)
		ws, err := l.lock(ctx, bidderID, prevBidder)
		if err != nil {
			return err
		}
		bidder := ws[bidderID]

		switch {
		case prevBidder == "":
		case prevBidder == bidderID:
			// Raising one's own bid swaps the old escrow for the new one.
			if err := l.unlockFunds(ctx, bidder, prevAmount, ref, "bid raised"); err != nil {
				return err
			}
		default:
			if err := l.unlockFunds(ctx, ws[prevBidder], prevAmount, ref, "outbid"); err != nil {
				return err
			}
		}
		if err := l.lockFunds(ctx, bidder, amount, ref, "bid escrow"); err != nil {
			return err
		}

		if err := r.Bids().ClearWinning(ctx, auctionID); err != nil {
			return err
		}
		bid := domain.Bid{
			ID:        uuid.New(),
			AuctionID: auctionID,
			UserID:    bidderID,
			Amount:    amount,
			IsWinning: true,
			CreatedAt: now,
		}
		if err := r.Bids().Append(ctx, bid); err != nil {
			return err
		}

		extended := a.ApplyBid(bidderID, amount, now)
		if err := r.Auctions().UpdateBid(ctx, a); err != nil {
			return err
		}
		a.Version++

		p = placement{auction: a, bid: bid, extended: extended}
		if prevBidder != "" && prevBidder != bidderID {
			p.displaced, p.displacedAt = prevBidder, prevAmount
		}
		return nil
	})
	return p, err
}

// fanout publishes the committed bid. Delivery is best-effort.
func (s *BidService) fanout(ctx context.Context, p placement) {
	a := p.auction
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, a.ID); err != nil {
			s.logger.WarnContext(ctx, "auction cache invalidate failed",
				slog.String("auction_id", a.ID.String()), slog.Any("error", err))
		}
	}
	if s.publisher == nil {
		return
	}

	now := s.now()
	update := domain.NewEvent(domain.EventBidUpdate, a.ID, domain.BidUpdate{
		AuctionID:  a.ID,
		CurrentBid: a.CurrentBid,
		BidderID:   a.HighestBidderID,
		TotalBids:  a.TotalBids,
		EndTime:    a.EndTime,
	}, now)
	if err := s.publisher.Publish(ctx, update); err != nil {
		s.logger.WarnContext(ctx, "publish bid update failed",
			slog.String("auction_id", a.ID.String()), slog.Any("error", err))
	}

	if p.displaced == "" {
		return
	}
	outbid := domain.NewEvent(domain.EventOutbid, a.ID, domain.OutbidNotice{
		AuctionID: a.ID,
		NewBid:    a.CurrentBid,
		YourBid:   p.displacedAt,
	}, now)
	if err := s.publisher.Notify(ctx, p.displaced, outbid); err != nil {
		s.logger.WarnContext(ctx, "outbid notification failed",
			slog.String("auction_id", a.ID.String()),
			slog.String("user_id", p.displaced),
			slog.Any("error", err))
	}
}

// History returns up to limit bids of auctionID, newest first.
func (s *BidService) History(ctx context.Context, auctionID uuid.UUID, limit int) ([]domain.Bid, error) {
	if _, err := s.uow.Auctions().Get(ctx, auctionID); err != nil {
		return nil, fmt.Errorf("bid_service: history %s: %w", auctionID, err)
	}
	bids, err := s.uow.Bids().History(ctx, auctionID, limit)
	if err != nil {
		return nil, fmt.Errorf("bid_service: history %s: %w", auctionID, err)
	}
	return bids, nil
}

// BidsByUser returns the bids of userID, newest first.
func (s *BidService) BidsByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Bid, error) {
	bids, err := s.uow.Bids().ListByUser(ctx, userID, opts)
	if err != nil {
		return nil, fmt.Errorf("bid_service: bids by %s: %w", userID, err)
	}
	return bids, nil
}

// WinningBids returns the bids of userID that currently lead their auction.
func (s *BidService) WinningBids(ctx context.Context, userID string) ([]domain.Bid, error) {
	bids, err := s.uow.Bids().ListWinning(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("bid_service: winning bids of %s: %w", userID, err)
	}
	return bids, nil
}
