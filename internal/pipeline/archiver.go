package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goingthrice/bidengine/internal/domain"
)

// Archiver copies the bid history of settled auctions to cold storage and
// stamps each settlement as archived.
type Archiver struct {
	settlements domain.SettlementStore
	blob        domain.Archiver
	batch       int
	logger      *slog.Logger
	now         func() time.Time
}

// NewArchiver creates a new Archiver.
func NewArchiver(settlements domain.SettlementStore, blob domain.Archiver, batch int, logger *slog.Logger) *Archiver {
	if batch <= 0 {
		batch = 50
	}
	return &Archiver{
		settlements: settlements,
		blob:        blob,
		batch:       batch,
		logger:      logger.With(slog.String("component", "archiver")),
		now:         time.Now,
	}
}

// Run executes a single archive run over up to one batch of settled,
// unarchived auctions. It returns the number of auctions archived. An auction
// whose upload fails stays unarchived and is retried on the next run.
func (a *Archiver) Run(ctx context.Context) (int, error) {
	due, err := a.settlements.ListUnarchived(ctx, a.batch)
	if err != nil {
		return 0, fmt.Errorf("archiver: list unarchived: %w", err)
	}

	archived := 0
	for _, st := range due {
		if err := ctx.Err(); err != nil {
			return archived, err
		}
		n, err := a.blob.ArchiveAuction(ctx, st.AuctionID)
		if err != nil {
			a.logger.ErrorContext(ctx, "archive auction failed",
				slog.String("auction_id", st.AuctionID.String()), slog.Any("error", err))
			continue
		}
		if err := a.settlements.MarkArchived(ctx, st.AuctionID, a.now().UTC()); err != nil {
			return archived, fmt.Errorf("archiver: mark %s archived: %w", st.AuctionID, err)
		}
		archived++
		a.logger.InfoContext(ctx, "archived bid history",
			slog.String("auction_id", st.AuctionID.String()),
			slog.Int("bids", n),
		)
	}
	return archived, nil
}

// RunLoop archives every interval until the context is cancelled.
func (a *Archiver) RunLoop(ctx context.Context, interval time.Duration) error {
	a.logger.InfoContext(ctx, "archiver started", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archiver stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := a.Run(ctx); err != nil && ctx.Err() == nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.Any("error", err))
			}
		}
	}
}
