package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/goingthrice/bidengine/internal/domain"
)

const sweeperLockKey = "sweeper"

// SweepStats counts what one pass changed.
type SweepStats struct {
	Started    int
	Ended      int
	EndingSoon int
	// Skipped is set when another instance held the sweeper lock.
	Skipped bool
}

// SweeperConfig tunes the lifecycle sweeper.
type SweeperConfig struct {
	EndingSoon time.Duration
	Batch      int
	LockTTL    time.Duration
}

// Sweeper drives auctions through scheduled -> live -> ended. It keeps no
// state between passes: every transition is a conditional update, so
// overlapping passes change each auction at most once.
type Sweeper struct {
	uow       domain.UnitOfWork
	locks     domain.LockManager
	publisher domain.EventPublisher
	cache     domain.AuctionCache
	cfg       SweeperConfig
	logger    *slog.Logger
	now       func() time.Time
	trigger   <-chan struct{} // when non-nil, each receive runs one extra pass
}

// NewSweeper creates a Sweeper. locks and cache may be nil; without a lock
// manager every instance sweeps and the conditional updates alone keep the
// transitions single.
func NewSweeper(
	uow domain.UnitOfWork,
	locks domain.LockManager,
	publisher domain.EventPublisher,
	cache domain.AuctionCache,
	cfg SweeperConfig,
	logger *slog.Logger,
) *Sweeper {
	if cfg.EndingSoon <= 0 {
		cfg.EndingSoon = 2 * time.Minute
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 100
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &Sweeper{
		uow:       uow,
		locks:     locks,
		publisher: publisher,
		cache:     cache,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "sweeper")),
		now:       time.Now,
	}
}

// SweepOnce runs one pass: start due auctions, end due auctions, then warn
// subscribers of auctions about to end.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepStats, error) {
	var stats SweepStats

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, sweeperLockKey, s.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			s.logger.DebugContext(ctx, "sweeper lock held elsewhere, skipping pass")
			stats.Skipped = true
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("sweeper: acquire lock: %w", err)
		}
		defer unlock()
	}

	now := s.now()

	started, err := s.startDue(ctx, now)
	stats.Started = started
	if err != nil {
		return stats, err
	}
	ended, err := s.endDue(ctx, now)
	stats.Ended = ended
	if err != nil {
		return stats, err
	}
	soon, err := s.warnEndingSoon(ctx, now)
	stats.EndingSoon = soon
	if err != nil {
		return stats, err
	}

	if stats.Started > 0 || stats.Ended > 0 {
		s.logger.InfoContext(ctx, "sweep pass",
			slog.Int("started", stats.Started),
			slog.Int("ended", stats.Ended),
			slog.Int("ending_soon", stats.EndingSoon),
		)
	}
	return stats, nil
}

func (s *Sweeper) startDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.uow.Auctions().ListStartDue(ctx, now, s.cfg.Batch)
	if err != nil {
		return 0, fmt.Errorf("sweeper: list start due: %w", err)
	}

	n := 0
	for _, a := range due {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		ok, err := s.uow.Auctions().Transition(ctx, a.ID, domain.StatusScheduled, domain.StatusLive)
		if err != nil {
			s.logger.ErrorContext(ctx, "start auction failed",
				slog.String("auction_id", a.ID.String()), slog.Any("error", err))
			continue
		}
		if !ok {
			continue
		}
		n++
		s.invalidate(ctx, a.ID)
		s.publish(ctx, domain.NewEvent(domain.EventAuctionStarted, a.ID, domain.AuctionStarted{
			AuctionID: a.ID,
			StartTime: a.StartTime,
		}, now))
	}
	return n, nil
}

// endDue ends each due auction and, when it has bids, enqueues its settlement
// intent in the same unit of work.
func (s *Sweeper) endDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.uow.Auctions().ListEndDue(ctx, now, s.cfg.Batch)
	if err != nil {
		return 0, fmt.Errorf("sweeper: list end due: %w", err)
	}

	n := 0
	for _, a := range due {
		if err := ctx.Err(); err != nil {
			return n, err
		}

		var final domain.Auction
		var ended bool
		err := s.uow.WithinTx(ctx, func(ctx context.Context, r domain.Repositories) error {
			ok, err := r.Auctions().End(ctx, a.ID, now)
			if err != nil || !ok {
				return err
			}
			final, err = r.Auctions().Get(ctx, a.ID)
			if err != nil {
				return err
			}
			if final.HasBids() {
				if err := r.Settlements().Enqueue(ctx, a.ID); err != nil {
					return err
				}
			}
			ended = true
			return nil
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "end auction failed",
				slog.String("auction_id", a.ID.String()), slog.Any("error", err))
			continue
		}
		if !ended {
			continue
		}

		n++
		s.invalidate(ctx, a.ID)
		s.logger.InfoContext(ctx, "auction ended",
			slog.String("auction_id", a.ID.String()),
			slog.String("final_bid", final.CurrentBid.StringFixed(domain.AmountScale)),
			slog.String("winner_id", final.HighestBidderID),
			slog.Int64("total_bids", final.TotalBids),
		)
		s.publish(ctx, domain.NewEvent(domain.EventAuctionClosed, a.ID, domain.AuctionClosed{
			AuctionID: a.ID,
			FinalBid:  final.CurrentBid,
			WinnerID:  final.HighestBidderID,
		}, now))
	}
	return n, nil
}

func (s *Sweeper) warnEndingSoon(ctx context.Context, now time.Time) (int, error) {
	soon, err := s.uow.Auctions().ListEndingBetween(ctx, now, now.Add(s.cfg.EndingSoon), s.cfg.Batch)
	if err != nil {
		return 0, fmt.Errorf("sweeper: list ending soon: %w", err)
	}
	for _, a := range soon {
		s.publish(ctx, domain.NewEvent(domain.EventEndingSoon, a.ID, domain.EndingSoon{
			AuctionID:     a.ID,
			TimeRemaining: int64(a.TimeRemaining(now) / time.Second),
		}, now))
	}
	return len(soon), nil
}

func (s *Sweeper) invalidate(ctx context.Context, id uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "auction cache invalidate failed",
			slog.String("auction_id", id.String()), slog.Any("error", err))
	}
}

func (s *Sweeper) publish(ctx context.Context, ev domain.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.WarnContext(ctx, "publish lifecycle event failed",
			slog.String("type", string(ev.Type)),
			slog.String("auction_id", ev.AuctionID.String()),
			slog.Any("error", err))
	}
}

// WithTrigger sets a channel whose receives run an immediate pass.
func (s *Sweeper) WithTrigger(ch <-chan struct{}) *Sweeper {
	s.trigger = ch
	return s
}

// RunLoop sweeps every interval until ctx is cancelled. A failed pass is
// logged and the next one runs on schedule.
func (s *Sweeper) RunLoop(ctx context.Context, interval time.Duration) error {
	s.logger.InfoContext(ctx, "sweeper started", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "sweep pass failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
		case <-s.trigger:
			s.logger.InfoContext(ctx, "sweep triggered")
		}
	}
}
