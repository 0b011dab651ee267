package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrLockHeld      = errors.New("lock already held")

	// Validation errors: rejected synchronously, no side effects.
	ErrValidation    = errors.New("validation failed")
	ErrInvalidAmount = errors.New("invalid amount")

	// Authorization errors.
	ErrSelfBid = errors.New("cannot bid on your own auction")

	// State errors.
	ErrAuctionNotLive    = errors.New("auction is not live")
	ErrInvalidTransition = errors.New("invalid auction status transition")

	ErrBidTooLow         = errors.New("bid too low")
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrVersionConflict is returned by an auction compare-and-set whose
	// expected version no longer matches. The bid service retries on it and
	// surfaces ErrConcurrentBidConflict once retries are exhausted.
	ErrVersionConflict       = errors.New("auction version conflict")
	ErrConcurrentBidConflict = errors.New("concurrent bid conflict")

	// ErrLedgerInconsistency marks a broken wallet invariant. It indicates a
	// bookkeeping bug, never bad user input.
	ErrLedgerInconsistency = errors.New("ledger inconsistency")

	ErrPersistence = errors.New("persistence failure")
	ErrLockTimeout = errors.New("wallet lock timeout")
)

// BidTooLowError reports the minimum acceptable bid for an auction.
type BidTooLowError struct {
	Minimum decimal.Decimal
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("bid must be at least %s", e.Minimum.StringFixed(2))
}

func (e *BidTooLowError) Unwrap() error { return ErrBidTooLow }

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid is shorthand for a *ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
