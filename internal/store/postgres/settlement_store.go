package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/goingthrice/bidengine/internal/domain"
)

// SettlementStore implements domain.SettlementStore, the outbox of settlement
// intents.
type SettlementStore struct {
	db dbtx
}

var _ domain.SettlementStore = (*SettlementStore)(nil)

const settlementSelectCols = `auction_id, status, attempts, last_error, created_at, updated_at, archived_at`

func scanSettlement(row scanner) (domain.Settlement, error) {
	var st domain.Settlement
	var status string
	if err := row.Scan(&st.AuctionID, &status, &st.Attempts, &st.LastError,
		&st.CreatedAt, &st.UpdatedAt, &st.ArchivedAt); err != nil {
		return domain.Settlement{}, err
	}
	st.Status = domain.SettlementStatus(status)
	return st, nil
}

func (s *SettlementStore) list(ctx context.Context, query string, args ...any) ([]domain.Settlement, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []domain.Settlement
	for rows.Next() {
		st, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, mapError(rows.Err())
}

// Enqueue records a pending intent for auctionID. Re-enqueueing is a no-op.
func (s *SettlementStore) Enqueue(ctx context.Context, auctionID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO settlements (auction_id) VALUES ($1)
		ON CONFLICT (auction_id) DO NOTHING`, auctionID)
	if err != nil {
		return fmt.Errorf("postgres: enqueue settlement %s: %w", auctionID, mapError(err))
	}
	return nil
}

// Claim locks the pending intent of auctionID. Intents locked by another
// worker are skipped rather than waited on.
func (s *SettlementStore) Claim(ctx context.Context, auctionID uuid.UUID) (domain.Settlement, error) {
	row := s.db.QueryRow(ctx, `SELECT `+settlementSelectCols+`
		FROM settlements
		WHERE auction_id = $1 AND status = 'pending'
		FOR UPDATE SKIP LOCKED`, auctionID)
	st, err := scanSettlement(row)
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("postgres: claim settlement %s: %w", auctionID, mapError(err))
	}
	return st, nil
}

// ListPending returns the oldest pending intents.
func (s *SettlementStore) ListPending(ctx context.Context, limit int) ([]domain.Settlement, error) {
	out, err := s.list(ctx, `SELECT `+settlementSelectCols+`
		FROM settlements WHERE status = 'pending'
		ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending settlements: %w", err)
	}
	return out, nil
}

// MarkDone completes an intent.
func (s *SettlementStore) MarkDone(ctx context.Context, auctionID uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE settlements SET status = 'done', last_error = '', updated_at = NOW()
		WHERE auction_id = $1`, auctionID)
	if err != nil {
		return fmt.Errorf("postgres: mark settlement done %s: %w", auctionID, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark settlement done %s: %w", auctionID, domain.ErrNotFound)
	}
	return nil
}

// RecordFailure counts a failed attempt and gives up after maxAttempts.
func (s *SettlementStore) RecordFailure(ctx context.Context, auctionID uuid.UUID, reason string, maxAttempts int) (domain.Settlement, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE settlements SET
			attempts = attempts + 1,
			last_error = $2,
			status = CASE WHEN attempts + 1 >= $3 THEN 'failed' ELSE status END,
			updated_at = NOW()
		WHERE auction_id = $1 AND status = 'pending'
		RETURNING `+settlementSelectCols, auctionID, reason, maxAttempts)
	st, err := scanSettlement(row)
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("postgres: record settlement failure %s: %w", auctionID, mapError(err))
	}
	return st, nil
}

// ListUnarchived returns settled intents whose bids are not yet archived.
func (s *SettlementStore) ListUnarchived(ctx context.Context, limit int) ([]domain.Settlement, error) {
	out, err := s.list(ctx, `SELECT `+settlementSelectCols+`
		FROM settlements WHERE status = 'done' AND archived_at IS NULL
		ORDER BY updated_at LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unarchived settlements: %w", err)
	}
	return out, nil
}

// MarkArchived stamps the archive time of an intent.
func (s *SettlementStore) MarkArchived(ctx context.Context, auctionID uuid.UUID, at time.Time) error {
	_, err := s.db.Exec(ctx,
		`UPDATE settlements SET archived_at = $2, updated_at = NOW() WHERE auction_id = $1`, auctionID, at)
	if err != nil {
		return fmt.Errorf("postgres: mark settlement archived %s: %w", auctionID, mapError(err))
	}
	return nil
}
