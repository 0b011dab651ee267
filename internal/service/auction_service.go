package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/goingthrice/bidengine/internal/domain"
)

const (
	defaultCategory     = "other"
	defaultExtendWindow = 2 * time.Minute
	maxListLimit        = 100
)

var defaultIncrement = decimal.NewFromInt(10)

// CreateAuctionInput is a listing handed over by the listing flow.
type CreateAuctionInput struct {
	Title         string
	Category      string
	StartingPrice decimal.Decimal
	// ReservePrice defaults to StartingPrice when nil.
	ReservePrice *decimal.Decimal
	// BidIncrement defaults to 10 when zero.
	BidIncrement decimal.Decimal
	StartTime    time.Time
	EndTime      time.Time
	// AutoExtend defaults to true when nil.
	AutoExtend   *bool
	ExtendWindow time.Duration
	Draft        bool
}

// AuctionService handles listing intake, reads and cancellation.
type AuctionService struct {
	uow       domain.UnitOfWork
	cache     domain.AuctionCache
	publisher domain.EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewAuctionService creates an AuctionService. cache may be nil.
func NewAuctionService(uow domain.UnitOfWork, cache domain.AuctionCache, publisher domain.EventPublisher, logger *slog.Logger) *AuctionService {
	return &AuctionService{
		uow:       uow,
		cache:     cache,
		publisher: publisher,
		logger:    logger.With(slog.String("component", "auction_service")),
		now:       time.Now,
	}
}

func (in CreateAuctionInput) build(sellerID string, now time.Time) (domain.Auction, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return domain.Auction{}, domain.Invalid("title", "required")
	}
	if err := domain.ValidateAmount(in.StartingPrice); err != nil {
		return domain.Auction{}, domain.Invalid("starting_price", err.Error())
	}

	reserve := in.StartingPrice
	if in.ReservePrice != nil {
		reserve = *in.ReservePrice
		if reserve.IsNegative() || !reserve.Equal(reserve.Round(domain.AmountScale)) {
			return domain.Auction{}, domain.Invalid("reserve_price", "must be a non-negative amount")
		}
	}

	increment := in.BidIncrement
	if increment.IsZero() {
		increment = defaultIncrement
	}
	if err := domain.ValidateAmount(increment); err != nil {
		return domain.Auction{}, domain.Invalid("bid_increment", err.Error())
	}

	if in.StartTime.IsZero() || in.EndTime.IsZero() {
		return domain.Auction{}, domain.Invalid("start_time", "start_time and end_time are required")
	}
	if !in.StartTime.Before(in.EndTime) {
		return domain.Auction{}, domain.Invalid("end_time", "must be after start_time")
	}
	if !in.EndTime.After(now) {
		return domain.Auction{}, domain.Invalid("end_time", "must be in the future")
	}

	window := in.ExtendWindow
	if window == 0 {
		window = defaultExtendWindow
	}
	if window < 0 {
		return domain.Auction{}, domain.Invalid("extend_window", "must not be negative")
	}
	autoExtend := true
	if in.AutoExtend != nil {
		autoExtend = *in.AutoExtend
	}

	category := strings.TrimSpace(in.Category)
	if category == "" {
		category = defaultCategory
	}
	status := domain.StatusScheduled
	if in.Draft {
		status = domain.StatusDraft
	}

	return domain.Auction{
		ID:            uuid.New(),
		SellerID:      sellerID,
		Title:         title,
		Category:      category,
		StartingPrice: in.StartingPrice,
		ReservePrice:  reserve,
		CurrentBid:    in.StartingPrice,
		BidIncrement:  increment,
		StartTime:     in.StartTime.UTC(),
		EndTime:       in.EndTime.UTC(),
		Status:        status,
		AutoExtend:    autoExtend,
		ExtendWindow:  window,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Create validates and stores a new listing owned by seller.
func (s *AuctionService) Create(ctx context.Context, seller domain.Identity, in CreateAuctionInput) (domain.Auction, error) {
	if !seller.CanList() {
		return domain.Auction{}, fmt.Errorf("auction_service: create: role %q: %w", seller.Role, domain.ErrForbidden)
	}
	now := s.now()
	a, err := in.build(seller.UserID, now)
	if err != nil {
		return domain.Auction{}, err
	}
	if err := s.uow.Auctions().Create(ctx, a); err != nil {
		return domain.Auction{}, fmt.Errorf("auction_service: create: %w", err)
	}

	s.logger.InfoContext(ctx, "auction created",
		slog.String("auction_id", a.ID.String()),
		slog.String("seller_id", a.SellerID),
		slog.String("status", string(a.Status)),
		slog.Time("start_time", a.StartTime),
		slog.Time("end_time", a.EndTime),
	)
	return a, nil
}

// Get returns an auction, served from the cache when possible. The result is
// for display only and may lag the store by one write.
func (s *AuctionService) Get(ctx context.Context, id uuid.UUID) (domain.Auction, error) {
	if s.cache != nil {
		if a, err := s.cache.Get(ctx, id); err == nil {
			return a, nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "auction cache read failed",
				slog.String("auction_id", id.String()), slog.Any("error", err))
		}
	}

	a, err := s.uow.Auctions().Get(ctx, id)
	if err != nil {
		return domain.Auction{}, fmt.Errorf("auction_service: get %s: %w", id, err)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, a); err != nil {
			s.logger.WarnContext(ctx, "auction cache write failed",
				slog.String("auction_id", id.String()), slog.Any("error", err))
		}
	}
	return a, nil
}

// State returns the subscriber snapshot of an auction. It reads the store,
// never the cache, because live updates are applied on top of it.
func (s *AuctionService) State(ctx context.Context, id uuid.UUID) (domain.AuctionState, error) {
	a, err := s.uow.Auctions().Get(ctx, id)
	if err != nil {
		return domain.AuctionState{}, fmt.Errorf("auction_service: state %s: %w", id, err)
	}
	return domain.StateOf(a), nil
}

// List returns one page of auctions. Without a status filter only scheduled
// and live auctions are listed.
func (s *AuctionService) List(ctx context.Context, f domain.AuctionFilter) ([]domain.Auction, int64, error) {
	for _, st := range f.Statuses {
		if !st.Valid() {
			return nil, 0, domain.Invalid("status", fmt.Sprintf("unknown status %q", st))
		}
	}
	if len(f.Statuses) == 0 {
		f.Statuses = []domain.AuctionStatus{domain.StatusScheduled, domain.StatusLive}
	}
	if f.Limit <= 0 || f.Limit > maxListLimit {
		f.Limit = 20
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	out, total, err := s.uow.Auctions().List(ctx, f)
	if err != nil {
		return nil, 0, fmt.Errorf("auction_service: list: %w", err)
	}
	return out, total, nil
}

// Cancel cancels an auction on behalf of its seller or an admin. Only draft,
// scheduled, and live auctions without bids can be cancelled.
func (s *AuctionService) Cancel(ctx context.Context, id uuid.UUID, actor domain.Identity) (domain.Auction, error) {
	a, err := s.uow.Auctions().Get(ctx, id)
	if err != nil {
		return domain.Auction{}, fmt.Errorf("auction_service: cancel %s: %w", id, err)
	}
	if a.SellerID != actor.UserID && !actor.IsAdmin() {
		return domain.Auction{}, fmt.Errorf("auction_service: cancel %s: %w", id, domain.ErrForbidden)
	}

	ok, err := s.uow.Auctions().Cancel(ctx, id)
	if err != nil {
		return domain.Auction{}, fmt.Errorf("auction_service: cancel %s: %w", id, err)
	}
	if !ok {
		// A bid or the sweeper got there first.
		return domain.Auction{}, fmt.Errorf("auction_service: cancel %s in status %s: %w",
			id, a.Status, domain.ErrInvalidTransition)
	}

	a.Status = domain.StatusCancelled
	if s.cache != nil {
		_ = s.cache.Invalidate(ctx, id)
	}
	s.logger.InfoContext(ctx, "auction cancelled",
		slog.String("auction_id", id.String()),
		slog.String("actor", actor.UserID),
	)
	if s.publisher != nil {
		ev := domain.NewEvent(domain.EventAuctionCancelled, id, domain.AuctionCancelled{AuctionID: id}, s.now())
		if err := s.publisher.Publish(ctx, ev); err != nil {
			s.logger.WarnContext(ctx, "publish cancel failed", slog.Any("error", err))
		}
	}
	return a, nil
}
