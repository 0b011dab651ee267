package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/goingthrice/bidengine/internal/domain"
)

// Alerter pages operators. *notify.Notifier satisfies it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Alert event names, kept in sync with the notify package.
const (
	alertLedgerInconsistency = "ledger_inconsistency"
	alertSettlementFailed    = "settlement_failed"
	alertAuctionSold         = "auction_sold"
)

// ledger applies wallet mutations inside one unit of work. Every mutation is
// written together with its journal row.
type ledger struct {
	wallets domain.WalletStore
	now     time.Time
}

func newLedger(r domain.Repositories, now time.Time) ledger {
	return ledger{wallets: r.Wallets(), now: now}
}

// lock row-locks the wallets of userIDs in ascending id order, so two units
// locking the same pair can never deadlock.
func (l ledger) lock(ctx context.Context, userIDs ...string) (map[string]*domain.Wallet, error) {
	ids := make([]string, 0, len(userIDs))
	seen := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := make(map[string]*domain.Wallet, len(ids))
	for _, id := range ids {
		w, err := l.wallets.GetForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = &w
	}
	return out, nil
}

// entry describes one journal row.
type entry struct {
	typ         domain.TxType
	amount      decimal.Decimal
	reference   string
	description string
}

// apply runs mutate on w, persists w and appends the journal row.
func (l ledger) apply(ctx context.Context, w *domain.Wallet, e entry, mutate func(*domain.Wallet) error) error {
	if err := mutate(w); err != nil {
		return err
	}
	if err := w.Check(); err != nil {
		return err
	}
	if err := l.wallets.Update(ctx, *w); err != nil {
		return err
	}
	return l.wallets.AppendTransaction(ctx, domain.Transaction{
		ID:          uuid.New(),
		UserID:      w.UserID,
		Type:        e.typ,
		Amount:      e.amount,
		Status:      domain.TxCompleted,
		ReferenceID: e.reference,
		Description: e.description,
		CreatedAt:   l.now,
	})
}

func (l ledger) deposit(ctx context.Context, w *domain.Wallet, amount decimal.Decimal, ref string) error {
	return l.apply(ctx, w, entry{domain.TxDeposit, amount, ref, "deposit"}, func(w *domain.Wallet) error {
		w.Deposit(amount)
		return nil
	})
}

func (l ledger) withdraw(ctx context.Context, w *domain.Wallet, amount decimal.Decimal, ref string) error {
	return l.apply(ctx, w, entry{domain.TxWithdraw, amount, ref, "withdrawal"}, func(w *domain.Wallet) error {
		return w.Withdraw(amount)
	})
}

func (l ledger) lockFunds(ctx context.Context, w *domain.Wallet, amount decimal.Decimal, ref, desc string) error {
	return l.apply(ctx, w, entry{domain.TxLock, amount, ref, desc}, func(w *domain.Wallet) error {
		return w.Lock(amount)
	})
}

func (l ledger) unlockFunds(ctx context.Context, w *domain.Wallet, amount decimal.Decimal, ref, desc string) error {
	return l.apply(ctx, w, entry{domain.TxUnlock, amount, ref, desc}, func(w *domain.Wallet) error {
		return w.Unlock(amount)
	})
}

// transfer moves locked funds of from into the balance of to, journaling a
// debit and a credit row.
func (l ledger) transfer(ctx context.Context, from, to *domain.Wallet, amount decimal.Decimal, ref string) error {
	debit := entry{domain.TxTransfer, amount, ref, "transfer to " + to.UserID}
	if err := l.apply(ctx, from, debit, func(w *domain.Wallet) error { return w.Debit(amount) }); err != nil {
		return err
	}
	credit := entry{domain.TxTransfer, amount, ref, "transfer from " + from.UserID}
	return l.apply(ctx, to, credit, func(w *domain.Wallet) error {
		w.Credit(amount)
		return nil
	})
}

// reportInconsistency logs a broken ledger invariant and pages operators. It
// is a no-op for any other error.
func reportInconsistency(ctx context.Context, logger *slog.Logger, alerts Alerter, op string, err error) {
	if !errors.Is(err, domain.ErrLedgerInconsistency) {
		return
	}
	logger.ErrorContext(ctx, "ledger invariant broken",
		slog.String("op", op),
		slog.Any("error", err),
	)
	if alerts == nil {
		return
	}
	msg := fmt.Sprintf("%s: %v", op, err)
	if aerr := alerts.Notify(ctx, alertLedgerInconsistency, "Ledger inconsistency", msg); aerr != nil {
		logger.WarnContext(ctx, "ledger alert failed", slog.Any("error", aerr))
	}
}
