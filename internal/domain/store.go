package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// WalletStore persists wallets and their transaction journal. Wallet rows are
// provisioned by the account service; this store never inserts or deletes them.
type WalletStore interface {
	Get(ctx context.Context, userID string) (Wallet, error)
	// GetForUpdate reads a wallet and holds its row lock until the enclosing
	// unit of work ends. Outside a unit of work it behaves like Get.
	GetForUpdate(ctx context.Context, userID string) (Wallet, error)
	Update(ctx context.Context, w Wallet) error
	AppendTransaction(ctx context.Context, tx Transaction) error
	ListTransactions(ctx context.Context, userID string, opts ListOpts) ([]Transaction, error)
}

// BidStore is the append-only bid ledger.
type BidStore interface {
	Append(ctx context.Context, bid Bid) error
	// ClearWinning flips the current winning bid of an auction, if any, to
	// not winning.
	ClearWinning(ctx context.Context, auctionID uuid.UUID) error
	// History returns the newest bids of an auction first.
	History(ctx context.Context, auctionID uuid.UUID, limit int) ([]Bid, error)
	// ListAll returns every bid of an auction in acceptance order.
	ListAll(ctx context.Context, auctionID uuid.UUID) ([]Bid, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]Bid, error)
	ListWinning(ctx context.Context, userID string) ([]Bid, error)
}

// AuctionStore persists auction aggregates. Every write bumps Version.
type AuctionStore interface {
	Create(ctx context.Context, a Auction) error
	Get(ctx context.Context, id uuid.UUID) (Auction, error)
	// GetForUpdate reads an auction and holds its row lock until the enclosing
	// unit of work ends, so concurrent bids on one auction run one at a time.
	// Outside a unit of work it behaves like Get.
	GetForUpdate(ctx context.Context, id uuid.UUID) (Auction, error)
	List(ctx context.Context, f AuctionFilter) ([]Auction, int64, error)
	// UpdateBid writes the bid fields of a (current_bid, highest_bidder_id,
	// total_bids, end_time) only if the stored version still equals
	// a.Version. It returns ErrVersionConflict otherwise.
	UpdateBid(ctx context.Context, a Auction) error
	// Transition moves id from one status to another only if it is still in
	// from. It reports whether a row changed.
	Transition(ctx context.Context, id uuid.UUID, from, to AuctionStatus) (bool, error)
	// End moves id from live to ended only if its end time is not after now,
	// so an auction extended by a late bid is left running. It reports whether
	// a row changed.
	End(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	// Cancel moves id to cancelled if it is draft, scheduled, or live with no
	// bids. It reports whether a row changed.
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)
	ListStartDue(ctx context.Context, now time.Time, limit int) ([]Auction, error)
	ListEndDue(ctx context.Context, now time.Time, limit int) ([]Auction, error)
	// ListEndingBetween returns live auctions with from < end_time <= to.
	ListEndingBetween(ctx context.Context, from, to time.Time, limit int) ([]Auction, error)
}

// SettlementStore is the outbox of settlement intents.
type SettlementStore interface {
	// Enqueue inserts a pending intent; an existing intent is left untouched.
	Enqueue(ctx context.Context, auctionID uuid.UUID) error
	// Claim locks a pending intent for the enclosing unit of work. It returns
	// ErrNotFound when the intent is not pending or is held by another worker.
	Claim(ctx context.Context, auctionID uuid.UUID) (Settlement, error)
	ListPending(ctx context.Context, limit int) ([]Settlement, error)
	MarkDone(ctx context.Context, auctionID uuid.UUID) error
	// RecordFailure increments the attempt counter and marks the intent failed
	// once maxAttempts is reached.
	RecordFailure(ctx context.Context, auctionID uuid.UUID, reason string, maxAttempts int) (Settlement, error)
	ListUnarchived(ctx context.Context, limit int) ([]Settlement, error)
	MarkArchived(ctx context.Context, auctionID uuid.UUID, at time.Time) error
}

// Repositories groups the stores that take part in a unit of work.
type Repositories interface {
	Wallets() WalletStore
	Bids() BidStore
	Auctions() AuctionStore
	Settlements() SettlementStore
}

// UnitOfWork runs fn atomically: every write made through the Repositories
// handed to fn commits together or not at all. Repositories used directly on
// the UnitOfWork run outside any transaction.
type UnitOfWork interface {
	Repositories
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}
