package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/goingthrice/bidengine/internal/domain"
)

type walletRepo struct {
	s       *Store
	locking bool
}

func (r *walletRepo) get(userID string) (domain.Wallet, error) {
	w, ok := r.s.st.wallets[userID]
	if ok {
		return w, nil
	}
	if !r.s.autoProvision {
		return domain.Wallet{}, fmt.Errorf("memory: wallet %s: %w", userID, domain.ErrNotFound)
	}
	w = domain.Wallet{UserID: userID, UpdatedAt: r.s.now()}
	r.s.st.wallets[userID] = w
	return w, nil
}

func (r *walletRepo) Get(_ context.Context, userID string) (domain.Wallet, error) {
	defer guard(r.s, r.locking)()
	return r.get(userID)
}

// GetForUpdate needs no row lock: the unit of work already owns the store.
func (r *walletRepo) GetForUpdate(_ context.Context, userID string) (domain.Wallet, error) {
	defer guard(r.s, r.locking)()
	return r.get(userID)
}

func (r *walletRepo) Update(_ context.Context, w domain.Wallet) error {
	defer guard(r.s, r.locking)()
	if _, ok := r.s.st.wallets[w.UserID]; !ok {
		return fmt.Errorf("memory: update wallet %s: %w", w.UserID, domain.ErrNotFound)
	}
	// Mirrors the table CHECK constraints.
	if err := w.Check(); err != nil {
		return fmt.Errorf("memory: update wallet %s: %w", w.UserID, err)
	}
	w.UpdatedAt = r.s.now()
	r.s.st.wallets[w.UserID] = w
	return nil
}

func (r *walletRepo) AppendTransaction(_ context.Context, t domain.Transaction) error {
	defer guard(r.s, r.locking)()
	if _, ok := r.s.st.wallets[t.UserID]; !ok {
		return fmt.Errorf("memory: append transaction %s: %w", t.ID, domain.ErrNotFound)
	}
	r.s.st.txns = append(r.s.st.txns, t)
	return nil
}

func (r *walletRepo) ListTransactions(_ context.Context, userID string, opts domain.ListOpts) ([]domain.Transaction, error) {
	defer guard(r.s, r.locking)()
	var out []domain.Transaction
	for i := len(r.s.st.txns) - 1; i >= 0; i-- {
		if t := r.s.st.txns[i]; t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, opts.Limit, opts.Offset), nil
}
