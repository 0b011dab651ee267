// Package memory implements domain.UnitOfWork in process memory. It backs
// tests and Postgres-less development runs. Every unit of work holds one
// store-wide mutex, so units are fully serialized, and a failed unit restores
// the snapshot taken when it began.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goingthrice/bidengine/internal/domain"
)

type state struct {
	wallets     map[string]domain.Wallet
	txns        []domain.Transaction
	auctions    map[uuid.UUID]domain.Auction
	bids        []domain.Bid
	settlements map[uuid.UUID]domain.Settlement
}

func newState() *state {
	return &state{
		wallets:     make(map[string]domain.Wallet),
		auctions:    make(map[uuid.UUID]domain.Auction),
		settlements: make(map[uuid.UUID]domain.Settlement),
	}
}

// clone copies the state. Values are plain structs, so a shallow copy of
// each map and slice is a full snapshot.
func (s *state) clone() *state {
	return &state{
		wallets:     maps.Clone(s.wallets),
		txns:        append([]domain.Transaction(nil), s.txns...),
		auctions:    maps.Clone(s.auctions),
		bids:        append([]domain.Bid(nil), s.bids...),
		settlements: maps.Clone(s.settlements),
	}
}

// Option configures a Store.
type Option func(*Store)

// WithAutoProvision makes wallet reads create an empty wallet for unknown
// users instead of returning domain.ErrNotFound.
func WithAutoProvision() Option {
	return func(s *Store) { s.autoProvision = true }
}

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is an in-memory domain.UnitOfWork.
type Store struct {
	mu            sync.Mutex
	st            *state
	autoProvision bool
	now           func() time.Time
}

var _ domain.UnitOfWork = (*Store)(nil)

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{st: newState(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SeedWallet installs w as the wallet of w.UserID, replacing any previous one.
func (s *Store) SeedWallet(w domain.Wallet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.wallets[w.UserID] = w
}

// WithinTx runs fn with exclusive access to the store and discards its writes
// if it returns an error or panics.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, r domain.Repositories) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	committed := false
	defer func() {
		if !committed {
			s.st = snapshot
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(ctx, txRepos{s: s}); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Store) Wallets() domain.WalletStore         { return &walletRepo{s: s, locking: true} }
func (s *Store) Bids() domain.BidStore               { return &bidRepo{s: s, locking: true} }
func (s *Store) Auctions() domain.AuctionStore       { return &auctionRepo{s: s, locking: true} }
func (s *Store) Settlements() domain.SettlementStore { return &settlementRepo{s: s, locking: true} }

// txRepos hands out repos that run under the mutex WithinTx already holds.
type txRepos struct{ s *Store }

func (r txRepos) Wallets() domain.WalletStore         { return &walletRepo{s: r.s} }
func (r txRepos) Bids() domain.BidStore               { return &bidRepo{s: r.s} }
func (r txRepos) Auctions() domain.AuctionStore       { return &auctionRepo{s: r.s} }
func (r txRepos) Settlements() domain.SettlementStore { return &settlementRepo{s: r.s} }

// guard locks the store for a standalone call and is a no-op inside a unit of
// work.
func guard(s *Store, locking bool) func() {
	if !locking {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func page[T any](items []T, limit, offset int) []T {
	if limit <= 0 {
		limit = 50
	}
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
