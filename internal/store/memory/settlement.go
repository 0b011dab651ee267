package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/goingthrice/bidengine/internal/domain"
)

type settlementRepo struct {
	s       *Store
	locking bool
}

func (r *settlementRepo) Enqueue(_ context.Context, auctionID uuid.UUID) error {
	defer guard(r.s, r.locking)()
	if _, ok := r.s.st.settlements[auctionID]; ok {
		return nil
	}
	now := r.s.now()
	r.s.st.settlements[auctionID] = domain.Settlement{
		AuctionID: auctionID,
		Status:    domain.SettlementPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

func (r *settlementRepo) Claim(_ context.Context, auctionID uuid.UUID) (domain.Settlement, error) {
	defer guard(r.s, r.locking)()
	st, ok := r.s.st.settlements[auctionID]
	if !ok || st.Status != domain.SettlementPending {
		return domain.Settlement{}, fmt.Errorf("memory: claim settlement %s: %w", auctionID, domain.ErrNotFound)
	}
	return st, nil
}

func (r *settlementRepo) sorted(match func(domain.Settlement) bool, limit int) []domain.Settlement {
	var out []domain.Settlement
	for _, st := range r.s.st.settlements {
		if match(st) {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *settlementRepo) ListPending(_ context.Context, limit int) ([]domain.Settlement, error) {
	defer guard(r.s, r.locking)()
	return r.sorted(func(st domain.Settlement) bool { return st.Status == domain.SettlementPending }, limit), nil
}

func (r *settlementRepo) MarkDone(_ context.Context, auctionID uuid.UUID) error {
	defer guard(r.s, r.locking)()
	st, ok := r.s.st.settlements[auctionID]
	if !ok {
		return fmt.Errorf("memory: mark settlement done %s: %w", auctionID, domain.ErrNotFound)
	}
	st.Status = domain.SettlementDone
	st.LastError = ""
	st.UpdatedAt = r.s.now()
	r.s.st.settlements[auctionID] = st
	return nil
}

func (r *settlementRepo) RecordFailure(_ context.Context, auctionID uuid.UUID, reason string, maxAttempts int) (domain.Settlement, error) {
	defer guard(r.s, r.locking)()
	st, ok := r.s.st.settlements[auctionID]
	if !ok || st.Status != domain.SettlementPending {
		return domain.Settlement{}, fmt.Errorf("memory: record settlement failure %s: %w", auctionID, domain.ErrNotFound)
	}
	st.Attempts++
	st.LastError = reason
	if st.Attempts >= maxAttempts {
		st.Status = domain.SettlementFailed
	}
	st.UpdatedAt = r.s.now()
	r.s.st.settlements[auctionID] = st
	return st, nil
}

func (r *settlementRepo) ListUnarchived(_ context.Context, limit int) ([]domain.Settlement, error) {
	defer guard(r.s, r.locking)()
	return r.sorted(func(st domain.Settlement) bool {
		return st.Status == domain.SettlementDone && st.ArchivedAt == nil
	}, limit), nil
}

func (r *settlementRepo) MarkArchived(_ context.Context, auctionID uuid.UUID, at time.Time) error {
	defer guard(r.s, r.locking)()
	st, ok := r.s.st.settlements[auctionID]
	if !ok {
		return fmt.Errorf("memory: mark settlement archived %s: %w", auctionID, domain.ErrNotFound)
	}
	st.ArchivedAt = &at
	st.UpdatedAt = r.s.now()
	r.s.st.settlements[auctionID] = st
	return nil
}
