package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/goingthrice/bidengine/internal/domain"
)

// SettlementOutcome says what a settlement did with the winner's escrow.
type SettlementOutcome string

const (
	OutcomeSkipped  SettlementOutcome = "skipped"
	OutcomeSold     SettlementOutcome = "sold"
	OutcomeReleased SettlementOutcome = "released"
	OutcomeNoBids   SettlementOutcome = "no_bids"
)

// SettlementService drains settlement intents. Each intent is applied in one
// unit of work: the winner's escrow moves to the seller when the reserve was
// met and is released otherwise.
type SettlementService struct {
	uow         domain.UnitOfWork
	publisher   domain.EventPublisher
	cache       domain.AuctionCache
	alerts      Alerter
	maxAttempts int
	logger      *slog.Logger
	now         func() time.Time
}

// NewSettlementService creates a SettlementService. An intent that fails
// maxAttempts times is parked as failed and reported to operators.
func NewSettlementService(
	uow domain.UnitOfWork,
	publisher domain.EventPublisher,
	cache domain.AuctionCache,
	alerts Alerter,
	maxAttempts int,
	logger *slog.Logger,
) *SettlementService {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &SettlementService{
		uow:         uow,
		publisher:   publisher,
		cache:       cache,
		alerts:      alerts,
		maxAttempts: maxAttempts,
		logger:      logger.With(slog.String("component", "settlement_service")),
		now:         time.Now,
	}
}

// Pending returns up to limit pending intents, oldest first.
func (s *SettlementService) Pending(ctx context.Context, limit int) ([]domain.Settlement, error) {
	out, err := s.uow.Settlements().ListPending(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("settlement_service: list pending: %w", err)
	}
	return out, nil
}

// Settle applies the intent of auctionID. An intent that is not pending, or
// is being applied by another worker, is skipped.
func (s *SettlementService) Settle(ctx context.Context, auctionID uuid.UUID) (SettlementOutcome, error) {
	var outcome SettlementOutcome
	var final domain.Auction

	err := s.uow.WithinTx(ctx, func(ctx context.Context, r domain.Repositories) error {
		if _, err := r.Settlements().Claim(ctx, auctionID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				outcome = OutcomeSkipped
				return nil
			}
			return err
		}

		a, err := r.Auctions().Get(ctx, auctionID)
		if err != nil {
			return err
		}
		final = a

		switch {
		case a.Status != domain.StatusEnded:
			return fmt.Errorf("%w: settling auction in status %s", domain.ErrInvalidTransition, a.Status)
		case !a.HasBids():
			outcome = OutcomeNoBids
		case a.ReserveMet():
			l := newLedger(r, s.now())
			ws, err := l.lock(ctx, a.HighestBidderID, a.SellerID)
			if err != nil {
				return err
			}
			if err := l.transfer(ctx, ws[a.HighestBidderID], ws[a.SellerID], a.CurrentBid, auctionID.String()); err != nil {
				return err
			}
			ok, err := r.Auctions().Transition(ctx, auctionID, domain.StatusEnded, domain.StatusSold)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: auction %s left ended during settlement", domain.ErrVersionConflict, auctionID)
			}
			final.Status = domain.StatusSold
			outcome = OutcomeSold
		default:
			l := newLedger(r, s.now())
			ws, err := l.lock(ctx, a.HighestBidderID)
			if err != nil {
				return err
			}
			if err := l.unlockFunds(ctx, ws[a.HighestBidderID], a.CurrentBid, auctionID.String(), "reserve not met"); err != nil {
				return err
			}
			outcome = OutcomeReleased
		}
		return r.Settlements().MarkDone(ctx, auctionID)
	})
	if err != nil {
		s.fail(ctx, auctionID, err)
		return "", fmt.Errorf("settlement_service: settle %s: %w", auctionID, err)
	}
	if outcome == OutcomeSkipped {
		return outcome, nil
	}

	s.logger.InfoContext(ctx, "auction settled",
		slog.String("auction_id", auctionID.String()),
		slog.String("outcome", string(outcome)),
		slog.String("final_bid", final.CurrentBid.StringFixed(2)),
		slog.String("winner_id", final.HighestBidderID),
	)
	if outcome == OutcomeSold {
		s.announceSale(ctx, final)
	}
	return outcome, nil
}

// fail counts the failed attempt outside the rolled-back unit of work.
func (s *SettlementService) fail(ctx context.Context, auctionID uuid.UUID, cause error) {
	reportInconsistency(ctx, s.logger, s.alerts, "settle", cause)

	st, err := s.uow.Settlements().RecordFailure(ctx, auctionID, cause.Error(), s.maxAttempts)
	if err != nil {
		s.logger.ErrorContext(ctx, "record settlement failure",
			slog.String("auction_id", auctionID.String()),
			slog.Any("cause", cause),
			slog.Any("error", err),
		)
		return
	}

	s.logger.WarnContext(ctx, "settlement attempt failed",
		slog.String("auction_id", auctionID.String()),
		slog.Int("attempts", st.Attempts),
		slog.String("status", string(st.Status)),
		slog.Any("error", cause),
	)
	if st.Status != domain.SettlementFailed || s.alerts == nil {
		return
	}
	msg := fmt.Sprintf("auction %s gave up after %d attempts: %v", auctionID, st.Attempts, cause)
	if err := s.alerts.Notify(ctx, alertSettlementFailed, "Settlement failed", msg); err != nil {
		s.logger.WarnContext(ctx, "settlement alert failed", slog.Any("error", err))
	}
}

func (s *SettlementService) announceSale(ctx context.Context, a domain.Auction) {
	if s.cache != nil {
		_ = s.cache.Invalidate(ctx, a.ID)
	}
	if s.publisher != nil {
		ev := domain.NewEvent(domain.EventAuctionSold, a.ID, domain.AuctionClosed{
			AuctionID: a.ID,
			FinalBid:  a.CurrentBid,
			WinnerID:  a.HighestBidderID,
		}, s.now())
		if err := s.publisher.Publish(ctx, ev); err != nil {
			s.logger.WarnContext(ctx, "publish sale failed", slog.Any("error", err))
		}
	}
	if s.alerts != nil {
		msg := fmt.Sprintf("%s sold to %s for %s", a.Title, a.HighestBidderID, a.CurrentBid.StringFixed(domain.AmountScale))
		if err := s.alerts.Notify(ctx, alertAuctionSold, "Auction sold", msg); err != nil {
			s.logger.WarnContext(ctx, "sale alert failed", slog.Any("error", err))
		}
	}
}
