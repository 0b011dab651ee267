package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AmountScale is the number of decimal places of the single currency unit.
const AmountScale = 2

// ValidateAmount checks that amount is strictly positive and representable in
// the fixed-point currency unit.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if !amount.Equal(amount.Round(AmountScale)) {
		return fmt.Errorf("%w: at most %d decimal places", ErrInvalidAmount, AmountScale)
	}
	return nil
}

// Wallet is a user's escrow account. Locked funds are still part of Balance;
// only Available may be committed to a new bid.
type Wallet struct {
	UserID         string
	Balance        decimal.Decimal
	Locked         decimal.Decimal
	TotalDeposited decimal.Decimal
	TotalWithdrawn decimal.Decimal
	UpdatedAt      time.Time
}

// Available returns balance minus locked funds.
func (w Wallet) Available() decimal.Decimal {
	return w.Balance.Sub(w.Locked)
}

// Check verifies balance >= locked >= 0.
func (w Wallet) Check() error {
	if w.Locked.IsNegative() || w.Balance.LessThan(w.Locked) {
		return fmt.Errorf("%w: wallet %s balance=%s locked=%s",
			ErrLedgerInconsistency, w.UserID, w.Balance, w.Locked)
	}
	return nil
}

// Deposit credits amount to the wallet.
func (w *Wallet) Deposit(amount decimal.Decimal) {
	w.Balance = w.Balance.Add(amount)
	w.TotalDeposited = w.TotalDeposited.Add(amount)
}

// Withdraw debits amount from the available balance.
func (w *Wallet) Withdraw(amount decimal.Decimal) error {
	if w.Available().LessThan(amount) {
		return ErrInsufficientFunds
	}
	w.Balance = w.Balance.Sub(amount)
	w.TotalWithdrawn = w.TotalWithdrawn.Add(amount)
	return nil
}

// Lock moves amount from available to locked.
func (w *Wallet) Lock(amount decimal.Decimal) error {
	if w.Available().LessThan(amount) {
		return ErrInsufficientFunds
	}
	w.Locked = w.Locked.Add(amount)
	return nil
}

// Unlock releases amount of locked funds. Releasing more than is locked is a
// bookkeeping bug and is never clamped.
func (w *Wallet) Unlock(amount decimal.Decimal) error {
	if w.Locked.LessThan(amount) {
		return fmt.Errorf("%w: unlock %s exceeds locked %s for %s",
			ErrLedgerInconsistency, amount, w.Locked, w.UserID)
	}
	w.Locked = w.Locked.Sub(amount)
	return nil
}

// Debit removes previously locked funds from the wallet entirely.
func (w *Wallet) Debit(amount decimal.Decimal) error {
	if w.Locked.LessThan(amount) || w.Balance.LessThan(amount) {
		return fmt.Errorf("%w: debit %s exceeds locked %s for %s",
			ErrLedgerInconsistency, amount, w.Locked, w.UserID)
	}
	w.Balance = w.Balance.Sub(amount)
	w.Locked = w.Locked.Sub(amount)
	return nil
}

// Credit adds funds received from another wallet.
func (w *Wallet) Credit(amount decimal.Decimal) {
	w.Balance = w.Balance.Add(amount)
}

// TxType classifies a ledger mutation.
type TxType string

const (
	TxDeposit  TxType = "deposit"
	TxWithdraw TxType = "withdraw"
	TxLock     TxType = "lock"
	TxUnlock   TxType = "unlock"
	TxTransfer TxType = "transfer"
	TxRefund   TxType = "refund"
)

// TxStatus is the processing state of a ledger transaction.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxCompleted TxStatus = "completed"
	TxFailed    TxStatus = "failed"
	TxCancelled TxStatus = "cancelled"
)

// Transaction is an immutable audit row, one per ledger mutation.
type Transaction struct {
	ID          uuid.UUID
	UserID      string
	Type        TxType
	Amount      decimal.Decimal
	Status      TxStatus
	ReferenceID string
	Description string
	CreatedAt   time.Time
}
