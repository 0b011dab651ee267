package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/goingthrice/bidengine/internal/domain"
)

// SQLSTATE codes the stores translate into domain errors.
const (
	codeLockNotAvailable     = "55P03"
	codeCheckViolation       = "23514"
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// winnerConstraint allows one is_winning bid per auction.
const winnerConstraint = "uq_bids_one_winner"

// mapError attaches the matching domain sentinel to a driver error while
// keeping the original error in the chain.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeLockNotAvailable:
			return fmt.Errorf("%w: %w", domain.ErrLockTimeout, err)
		case codeCheckViolation:
			return fmt.Errorf("%w: %s: %w", domain.ErrLedgerInconsistency, pgErr.ConstraintName, err)
		case codeUniqueViolation:
			// Two bids both saw no winner; the loser retries on the new state.
			if pgErr.ConstraintName == winnerConstraint {
				return fmt.Errorf("%w: %w", domain.ErrVersionConflict, err)
			}
			return fmt.Errorf("%w: %w", domain.ErrAlreadyExists, err)
		case codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%w: %w", domain.ErrVersionConflict, err)
		}
		return err
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	return err
}

// scanner is satisfied by pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// parseAmount converts a NUMERIC selected as text.
func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return d, nil
}
