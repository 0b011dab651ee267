package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/goingthrice/bidengine/internal/domain"
)

// BidStore implements domain.BidStore using PostgreSQL. Rows are never
// deleted; only is_winning is ever updated.
type BidStore struct {
	db dbtx
}

var _ domain.BidStore = (*BidStore)(nil)

const bidSelectCols = `id, auction_id, user_id, amount::text, is_winning, created_at`

func scanBid(row scanner) (domain.Bid, error) {
	var b domain.Bid
	var amount string
	if err := row.Scan(&b.ID, &b.AuctionID, &b.UserID, &amount, &b.IsWinning, &b.CreatedAt); err != nil {
		return domain.Bid{}, err
	}
	var err error
	if b.Amount, err = parseAmount(amount); err != nil {
		return domain.Bid{}, err
	}
	return b, nil
}

func collectBids(rows pgx.Rows) ([]domain.Bid, error) {
	defer rows.Close()
	var out []domain.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, mapError(rows.Err())
}

// Append inserts an accepted bid.
func (s *BidStore) Append(ctx context.Context, b domain.Bid) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO bids (id, auction_id, user_id, amount, is_winning, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6)`,
		b.ID, b.AuctionID, b.UserID, b.Amount.String(), b.IsWinning, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append bid %s: %w", b.ID, mapError(err))
	}
	return nil
}

// ClearWinning flips the current winning bid of auctionID, if any.
func (s *BidStore) ClearWinning(ctx context.Context, auctionID uuid.UUID) error {
	_, err := s.db.Exec(ctx,
		`UPDATE bids SET is_winning = FALSE WHERE auction_id = $1 AND is_winning`, auctionID)
	if err != nil {
		return fmt.Errorf("postgres: clear winning bid %s: %w", auctionID, mapError(err))
	}
	return nil
}

// History returns up to limit bids of auctionID, newest first.
func (s *BidStore) History(ctx context.Context, auctionID uuid.UUID, limit int) ([]domain.Bid, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `SELECT `+bidSelectCols+`
		FROM bids WHERE auction_id = $1
		ORDER BY seq DESC
		LIMIT $2`, auctionID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: bid history %s: %w", auctionID, mapError(err))
	}
	bids, err := collectBids(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: bid history %s: %w", auctionID, err)
	}
	return bids, nil
}

// ListAll returns every bid of auctionID in acceptance order.
func (s *BidStore) ListAll(ctx context.Context, auctionID uuid.UUID) ([]domain.Bid, error) {
	rows, err := s.db.Query(ctx, `SELECT `+bidSelectCols+`
		FROM bids WHERE auction_id = $1
		ORDER BY seq`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bids %s: %w", auctionID, mapError(err))
	}
	bids, err := collectBids(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bids %s: %w", auctionID, err)
	}
	return bids, nil
}

// ListByUser returns the bids placed by userID, newest first.
func (s *BidStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Bid, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `SELECT `+bidSelectCols+`
		FROM bids WHERE user_id = $1
		ORDER BY seq DESC
		LIMIT $2 OFFSET $3`, userID, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: bids by user %s: %w", userID, mapError(err))
	}
	bids, err := collectBids(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: bids by user %s: %w", userID, err)
	}
	return bids, nil
}

// ListWinning returns the bids of userID that currently lead their auction.
func (s *BidStore) ListWinning(ctx context.Context, userID string) ([]domain.Bid, error) {
	rows, err := s.db.Query(ctx, `SELECT `+bidSelectCols+`
		FROM bids WHERE user_id = $1 AND is_winning
		ORDER BY seq DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: winning bids %s: %w", userID, mapError(err))
	}
	bids, err := collectBids(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: winning bids %s: %w", userID, err)
	}
	return bids, nil
}
