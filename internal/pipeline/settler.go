package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/goingthrice/bidengine/internal/domain"
	"github.com/goingthrice/bidengine/internal/service"
)

// SettlementApplier applies one settlement intent.
type SettlementApplier interface {
	Pending(ctx context.Context, limit int) ([]domain.Settlement, error)
	Settle(ctx context.Context, auctionID uuid.UUID) (service.SettlementOutcome, error)
}

// Settler drains the settlement outbox on a ticker. An intent that fails is
// left pending and retried on a later pass until the service parks it.
type Settler struct {
	svc    SettlementApplier
	batch  int
	logger *slog.Logger
}

// NewSettler creates a Settler that claims up to batch intents per pass.
func NewSettler(svc SettlementApplier, batch int, logger *slog.Logger) *Settler {
	if batch <= 0 {
		batch = 20
	}
	return &Settler{
		svc:    svc,
		batch:  batch,
		logger: logger.With(slog.String("component", "settler")),
	}
}

// RunOnce applies every pending intent of one batch and returns how many
// were settled. Failures of single intents do not stop the batch.
func (s *Settler) RunOnce(ctx context.Context) (int, error) {
	pending, err := s.svc.Pending(ctx, s.batch)
	if err != nil {
		return 0, fmt.Errorf("settler: %w", err)
	}

	settled := 0
	var errs []error
	for _, st := range pending {
		if err := ctx.Err(); err != nil {
			return settled, err
		}
		outcome, err := s.svc.Settle(ctx, st.AuctionID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if outcome != service.OutcomeSkipped {
			settled++
		}
	}
	if len(errs) > 0 {
		s.logger.WarnContext(ctx, "settlement pass had failures",
			slog.Int("settled", settled),
			slog.Int("failed", len(errs)),
			slog.Any("error", errors.Join(errs...)),
		)
	}
	return settled, nil
}

// RunLoop settles every interval until ctx is cancelled.
func (s *Settler) RunLoop(ctx context.Context, interval time.Duration) error {
	s.logger.InfoContext(ctx, "settler started", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "settlement pass failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			s.logger.Info("settler stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
