package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/goingthrice/bidengine/internal/domain"
)

// AuctionStore implements domain.AuctionStore using PostgreSQL. Every write
// increments version; bid writes are compare-and-set on it.
type AuctionStore struct {
	db dbtx
}

var _ domain.AuctionStore = (*AuctionStore)(nil)

const auctionSelectCols = `id, seller_id, title, category,
	starting_price::text, reserve_price::text, current_bid::text, bid_increment::text,
	highest_bidder_id, total_bids, start_time, end_time, status,
	auto_extend, extend_window_seconds, version, created_at, updated_at`

func scanAuction(row scanner) (domain.Auction, error) {
	var a domain.Auction
	var starting, reserve, current, increment, status string
	var bidder *string
	var extendSeconds int64

	err := row.Scan(
		&a.ID, &a.SellerID, &a.Title, &a.Category,
		&starting, &reserve, &current, &increment,
		&bidder, &a.TotalBids, &a.StartTime, &a.EndTime, &status,
		&a.AutoExtend, &extendSeconds, &a.Version, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return domain.Auction{}, err
	}

	if a.StartingPrice, err = parseAmount(starting); err != nil {
		return domain.Auction{}, err
	}
	if a.ReservePrice, err = parseAmount(reserve); err != nil {
		return domain.Auction{}, err
	}
	if a.CurrentBid, err = parseAmount(current); err != nil {
		return domain.Auction{}, err
	}
	if a.BidIncrement, err = parseAmount(increment); err != nil {
		return domain.Auction{}, err
	}
	if bidder != nil {
		a.HighestBidderID = *bidder
	}
	a.Status = domain.AuctionStatus(status)
	a.ExtendWindow = time.Duration(extendSeconds) * time.Second
	return a, nil
}

func (s *AuctionStore) queryAuctions(ctx context.Context, query string, args ...any) ([]domain.Auction, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, mapError(rows.Err())
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Create inserts a new auction at version 1.
func (s *AuctionStore) Create(ctx context.Context, a domain.Auction) error {
	const query = `
		INSERT INTO auctions (
			id, seller_id, title, category,
			starting_price, reserve_price, current_bid, bid_increment,
			highest_bidder_id, total_bids, start_time, end_time, status,
			auto_extend, extend_window_seconds, version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5::numeric, $6::numeric, $7::numeric, $8::numeric,
			$9, $10, $11, $12, $13,
			$14, $15, 1, $16, $16
		)`

	_, err := s.db.Exec(ctx, query,
		a.ID, a.SellerID, a.Title, a.Category,
		a.StartingPrice.String(), a.ReservePrice.String(), a.CurrentBid.String(), a.BidIncrement.String(),
		nullable(a.HighestBidderID), a.TotalBids, a.StartTime, a.EndTime, string(a.Status),
		a.AutoExtend, int64(a.ExtendWindow/time.Second), a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create auction %s: %w", a.ID, mapError(err))
	}
	return nil
}

// Get returns the auction with the given id.
func (s *AuctionStore) Get(ctx context.Context, id uuid.UUID) (domain.Auction, error) {
	row := s.db.QueryRow(ctx, `SELECT `+auctionSelectCols+` FROM auctions WHERE id = $1`, id)
	a, err := scanAuction(row)
	if err != nil {
		return domain.Auction{}, fmt.Errorf("postgres: get auction %s: %w", id, mapError(err))
	}
	return a, nil
}

// GetForUpdate reads the auction with SELECT ... FOR UPDATE. A bid waiting
// on the lock sees the row as the previous bid committed it.
func (s *AuctionStore) GetForUpdate(ctx context.Context, id uuid.UUID) (domain.Auction, error) {
	row := s.db.QueryRow(ctx, `SELECT `+auctionSelectCols+` FROM auctions WHERE id = $1 FOR UPDATE`, id)
	a, err := scanAuction(row)
	if err != nil {
		return domain.Auction{}, fmt.Errorf("postgres: get auction %s for update: %w", id, mapError(err))
	}
	return a, nil
}

// List returns one page of auctions matching f and the total match count.
func (s *AuctionStore) List(ctx context.Context, f domain.AuctionFilter) ([]domain.Auction, int64, error) {
	where := " WHERE 1=1"
	var args []any
	argIdx := 1

	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		where += fmt.Sprintf(" AND status = ANY($%d)", argIdx)
		args = append(args, statuses)
		argIdx++
	}
	if f.Category != "" {
		where += fmt.Sprintf(" AND category = $%d", argIdx)
		args = append(args, f.Category)
		argIdx++
	}
	if f.SellerID != "" {
		where += fmt.Sprintf(" AND seller_id = $%d", argIdx)
		args = append(args, f.SellerID)
		argIdx++
	}

	var total int64
	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM auctions"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("postgres: count auctions: %w", mapError(err))
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	query := "SELECT " + auctionSelectCols + " FROM auctions" + where +
		fmt.Sprintf(" ORDER BY start_time DESC, id LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	out, err := s.queryAuctions(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("postgres: list auctions: %w", err)
	}
	return out, total, nil
}

// UpdateBid writes the bid fields of a if the stored version is still
// a.Version.
func (s *AuctionStore) UpdateBid(ctx context.Context, a domain.Auction) error {
	const query = `
		UPDATE auctions SET
			current_bid = $3::numeric,
			highest_bidder_id = $4,
			total_bids = $5,
			end_time = $6,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1 AND version = $2 AND status = 'live'`

	tag, err := s.db.Exec(ctx, query,
		a.ID, a.Version, a.CurrentBid.String(), nullable(a.HighestBidderID), a.TotalBids, a.EndTime,
	)
	if err != nil {
		return fmt.Errorf("postgres: update auction bid %s: %w", a.ID, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update auction bid %s at version %d: %w", a.ID, a.Version, domain.ErrVersionConflict)
	}
	return nil
}

// Transition moves id from one status to another if it is still in from.
func (s *AuctionStore) Transition(ctx context.Context, id uuid.UUID, from, to domain.AuctionStatus) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE auctions SET status = $3, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND status = $2`, id, string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("postgres: transition auction %s %s->%s: %w", id, from, to, mapError(err))
	}
	return tag.RowsAffected() == 1, nil
}

// End moves id from live to ended unless a late bid pushed end_time past now.
func (s *AuctionStore) End(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE auctions SET status = 'ended', version = version + 1, updated_at = NOW()
		WHERE id = $1 AND status = 'live' AND end_time <= $2`, id, now)
	if err != nil {
		return false, fmt.Errorf("postgres: end auction %s: %w", id, mapError(err))
	}
	return tag.RowsAffected() == 1, nil
}

// Cancel moves id to cancelled when it is draft, scheduled, or live without
// bids.
func (s *AuctionStore) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE auctions SET status = 'cancelled', version = version + 1, updated_at = NOW()
		WHERE id = $1
		  AND (status IN ('draft', 'scheduled') OR (status = 'live' AND total_bids = 0))`, id)
	if err != nil {
		return false, fmt.Errorf("postgres: cancel auction %s: %w", id, mapError(err))
	}
	return tag.RowsAffected() == 1, nil
}

// ListStartDue returns scheduled auctions whose start time has passed.
func (s *AuctionStore) ListStartDue(ctx context.Context, now time.Time, limit int) ([]domain.Auction, error) {
	out, err := s.queryAuctions(ctx, `SELECT `+auctionSelectCols+`
		FROM auctions WHERE status = 'scheduled' AND start_time <= $1
		ORDER BY start_time LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list start due: %w", err)
	}
	return out, nil
}

// ListEndDue returns live auctions whose end time has passed.
func (s *AuctionStore) ListEndDue(ctx context.Context, now time.Time, limit int) ([]domain.Auction, error) {
	out, err := s.queryAuctions(ctx, `SELECT `+auctionSelectCols+`
		FROM auctions WHERE status = 'live' AND end_time <= $1
		ORDER BY end_time LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list end due: %w", err)
	}
	return out, nil
}

// ListEndingBetween returns live auctions with from < end_time <= to.
func (s *AuctionStore) ListEndingBetween(ctx context.Context, from, to time.Time, limit int) ([]domain.Auction, error) {
	out, err := s.queryAuctions(ctx, `SELECT `+auctionSelectCols+`
		FROM auctions WHERE status = 'live' AND end_time > $1 AND end_time <= $2
		ORDER BY end_time LIMIT $3`, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ending soon: %w", err)
	}
	return out, nil
}
