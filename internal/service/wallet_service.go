package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/goingthrice/bidengine/internal/domain"
)

// WalletService exposes the wallet ledger primitives. Each call is one unit
// of work; calls on the same wallet serialize on its row lock, calls on
// different wallets never block each other.
type WalletService struct {
	uow    domain.UnitOfWork
	alerts Alerter
	logger *slog.Logger
	now    func() time.Time
}

// NewWalletService creates a WalletService. alerts may be nil.
func NewWalletService(uow domain.UnitOfWork, alerts Alerter, logger *slog.Logger) *WalletService {
	return &WalletService{
		uow:    uow,
		alerts: alerts,
		logger: logger.With(slog.String("component", "wallet_service")),
		now:    time.Now,
	}
}

// Get returns the wallet of userID.
func (s *WalletService) Get(ctx context.Context, userID string) (domain.Wallet, error) {
	w, err := s.uow.Wallets().Get(ctx, userID)
	if err != nil {
		return domain.Wallet{}, fmt.Errorf("wallet_service: get %s: %w", userID, err)
	}
	return w, nil
}

// Transactions returns the journal of userID, newest first.
func (s *WalletService) Transactions(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Transaction, error) {
	txns, err := s.uow.Wallets().ListTransactions(ctx, userID, opts)
	if err != nil {
		return nil, fmt.Errorf("wallet_service: transactions %s: %w", userID, err)
	}
	return txns, nil
}

// single runs op against the row-locked wallet of userID and returns the
// wallet as committed.
func (s *WalletService) single(ctx context.Context, name, userID string, amount decimal.Decimal,
	op func(ctx context.Context, l ledger, w *domain.Wallet) error,
) (domain.Wallet, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return domain.Wallet{}, err
	}

	var out domain.Wallet
	err := s.uow.WithinTx(ctx, func(ctx context.Context, r domain.Repositories) error {
		l := newLedger(r, s.now())
		ws, err := l.lock(ctx, userID)
		if err != nil {
			return err
		}
		w := ws[userID]
		if err := op(ctx, l, w); err != nil {
			return err
		}
		out = *w
		return nil
	})
	if err != nil {
		reportInconsistency(ctx, s.logger, s.alerts, name, err)
		return domain.Wallet{}, fmt.Errorf("wallet_service: %s %s: %w", name, userID, err)
	}

	s.logger.InfoContext(ctx, name,
		slog.String("user_id", userID),
		slog.String("amount", amount.StringFixed(domain.AmountScale)),
		slog.String("balance", out.Balance.StringFixed(domain.AmountScale)),
		slog.String("locked", out.Locked.StringFixed(domain.AmountScale)),
	)
	return out, nil
}

// Deposit credits amount to userID. reference is stored on the journal row.
func (s *WalletService) Deposit(ctx context.Context, userID string, amount decimal.Decimal, reference string) (domain.Wallet, error) {
	return s.single(ctx, "deposit", userID, amount, func(ctx context.Context, l ledger, w *domain.Wallet) error {
		return l.deposit(ctx, w, amount, reference)
	})
}

// Withdraw debits amount from the available balance of userID.
func (s *WalletService) Withdraw(ctx context.Context, userID string, amount decimal.Decimal, reference string) (domain.Wallet, error) {
	return s.single(ctx, "withdraw", userID, amount, func(ctx context.Context, l ledger, w *domain.Wallet) error {
		return l.withdraw(ctx, w, amount, reference)
	})
}

// Lock escrows amount of userID's available balance.
func (s *WalletService) Lock(ctx context.Context, userID string, amount decimal.Decimal, reference string) (domain.Wallet, error) {
	return s.single(ctx, "lock", userID, amount, func(ctx context.Context, l ledger, w *domain.Wallet) error {
		return l.lockFunds(ctx, w, amount, reference, "escrow")
	})
}

// Unlock releases amount of userID's escrow. Releasing more than is locked
// fails with domain.ErrLedgerInconsistency.
func (s *WalletService) Unlock(ctx context.Context, userID string, amount decimal.Decimal, reference string) (domain.Wallet, error) {
	return s.single(ctx, "unlock", userID, amount, func(ctx context.Context, l ledger, w *domain.Wallet) error {
		return l.unlockFunds(ctx, w, amount, reference, "escrow release")
	})
}

// Transfer moves amount of from's escrow into to's balance.
func (s *WalletService) Transfer(ctx context.Context, from, to string, amount decimal.Decimal, reference string) error {
	if err := domain.ValidateAmount(amount); err != nil {
		return err
	}
	if from == to {
		return domain.Invalid("to", "must differ from sender")
	}

	err := s.uow.WithinTx(ctx, func(ctx context.Context, r domain.Repositories) error {
		l := newLedger(r, s.now())
		ws, err := l.lock(ctx, from, to)
		if err != nil {
			return err
		}
		return l.transfer(ctx, ws[from], ws[to], amount, reference)
	})
	if err != nil {
		reportInconsistency(ctx, s.logger, s.alerts, "transfer", err)
		return fmt.Errorf("wallet_service: transfer %s->%s: %w", from, to, err)
	}

	s.logger.InfoContext(ctx, "transfer",
		slog.String("from", from),
		slog.String("to", to),
		slog.String("amount", amount.StringFixed(domain.AmountScale)),
		slog.String("reference", reference),
	)
	return nil
}
