package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/goingthrice/bidengine/internal/domain"
)

// dbtx is the subset of pgx shared by *pgxpool.Pool and pgx.Tx, so every
// store works both standalone and inside a unit of work.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// repos binds the four stores to one dbtx.
type repos struct {
	wallets     *WalletStore
	bids        *BidStore
	auctions    *AuctionStore
	settlements *SettlementStore
}

func newRepos(db dbtx) repos {
	return repos{
		wallets:     &WalletStore{db: db},
		bids:        &BidStore{db: db},
		auctions:    &AuctionStore{db: db},
		settlements: &SettlementStore{db: db},
	}
}

func (r repos) Wallets() domain.WalletStore         { return r.wallets }
func (r repos) Bids() domain.BidStore               { return r.bids }
func (r repos) Auctions() domain.AuctionStore       { return r.auctions }
func (r repos) Settlements() domain.SettlementStore { return r.settlements }

// UnitOfWork implements domain.UnitOfWork with one pgx transaction per call.
// Row locks taken inside a unit wait at most lockTimeout before failing with
// domain.ErrLockTimeout.
type UnitOfWork struct {
	repos
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

var _ domain.UnitOfWork = (*UnitOfWork)(nil)

// NewUnitOfWork creates a UnitOfWork on pool.
func NewUnitOfWork(pool *pgxpool.Pool, lockTimeout time.Duration) *UnitOfWork {
	return &UnitOfWork{
		repos:       newRepos(pool),
		pool:        pool,
		lockTimeout: lockTimeout,
	}
}

// WithinTx runs fn in a READ COMMITTED transaction. Isolation between
// concurrent bids comes from wallet row locks and the auction version check,
// not from the isolation level.
func (u *UnitOfWork) WithinTx(ctx context.Context, fn func(ctx context.Context, r domain.Repositories) error) error {
	tx, err := u.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", mapError(err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if u.lockTimeout > 0 {
		ms := fmt.Sprintf("%dms", u.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, "SELECT set_config('lock_timeout', $1, true)", ms); err != nil {
			return fmt.Errorf("postgres: set lock_timeout: %w", mapError(err))
		}
	}

	if err := fn(ctx, newRepos(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", mapError(err))
	}
	return nil
}
