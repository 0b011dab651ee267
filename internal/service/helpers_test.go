package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/goingthrice/bidengine/internal/domain"
	"github.com/goingthrice/bidengine/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// recordingPublisher captures published and targeted events.
type recordingPublisher struct {
	mu        sync.Mutex
	published []domain.Event
	notified  map[string][]domain.Event
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{notified: make(map[string][]domain.Event)}
}

func (p *recordingPublisher) Publish(_ context.Context, ev domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, ev)
	return nil
}

func (p *recordingPublisher) Notify(_ context.Context, userID string, ev domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notified[userID] = append(p.notified[userID], ev)
	return nil
}

func (p *recordingPublisher) ofType(typ domain.EventType) []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Event
	for _, ev := range p.published {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (p *recordingPublisher) notificationsFor(userID string) []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Event(nil), p.notified[userID]...)
}

type mockAlerter struct {
	mock.Mock
}

func (m *mockAlerter) Notify(ctx context.Context, event, title, message string) error {
	return m.Called(ctx, event, title, message).Error(0)
}

// fixture is a memory store with a live auction owned by "seller".
type fixture struct {
	store   *memory.Store
	pub     *recordingPublisher
	now     time.Time
	auction domain.Auction
}

func newFixture(t *testing.T, wallets map[string]string, opts ...func(*domain.Auction)) *fixture {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := memory.New(memory.WithClock(func() time.Time { return now }))
	for user, balance := range wallets {
		store.SeedWallet(domain.Wallet{UserID: user, Balance: dec(balance), TotalDeposited: dec(balance)})
	}

	a := domain.Auction{
		ID:            uuid.New(),
		SellerID:      "seller",
		Title:         "Eames chair",
		Category:      "furniture",
		StartingPrice: dec("100"),
		ReservePrice:  dec("100"),
		CurrentBid:    dec("100"),
		BidIncrement:  dec("10"),
		StartTime:     now.Add(-time.Hour),
		EndTime:       now.Add(time.Hour),
		Status:        domain.StatusLive,
		AutoExtend:    true,
		ExtendWindow:  2 * time.Minute,
	}
	for _, o := range opts {
		o(&a)
	}
	require.NoError(t, store.Auctions().Create(context.Background(), a))

	return &fixture{store: store, pub: newRecordingPublisher(), now: now, auction: a}
}

func (f *fixture) bidService(cfg BidConfig) *BidService {
	s := NewBidService(f.store, f.pub, nil, nil, cfg, testLogger())
	s.now = func() time.Time { return f.now }
	return s
}

func (f *fixture) wallet(t *testing.T, user string) domain.Wallet {
	t.Helper()
	w, err := f.store.Wallets().Get(context.Background(), user)
	require.NoError(t, err)
	return w
}

func (f *fixture) reload(t *testing.T) domain.Auction {
	t.Helper()
	a, err := f.store.Auctions().Get(context.Background(), f.auction.ID)
	require.NoError(t, err)
	return a
}

func (f *fixture) txCount(t *testing.T, user string) int {
	t.Helper()
	txns, err := f.store.Wallets().ListTransactions(context.Background(), user, domain.ListOpts{Limit: 1000})
	require.NoError(t, err)
	return len(txns)
}

// conflictingUoW makes the next n auction compare-and-set writes fail with a
// version conflict.
type conflictingUoW struct {
	*memory.Store
	mu        sync.Mutex
	conflicts int
	attempts  int
}

func (u *conflictingUoW) WithinTx(ctx context.Context, fn func(ctx context.Context, r domain.Repositories) error) error {
	return u.Store.WithinTx(ctx, func(ctx context.Context, r domain.Repositories) error {
		return fn(ctx, conflictingRepos{Repositories: r, u: u})
	})
}

type conflictingRepos struct {
	domain.Repositories
	u *conflictingUoW
}

func (r conflictingRepos) Auctions() domain.AuctionStore {
	return conflictingAuctions{AuctionStore: r.Repositories.Auctions(), u: r.u}
}

type conflictingAuctions struct {
	domain.AuctionStore
	u *conflictingUoW
}

func (a conflictingAuctions) UpdateBid(ctx context.Context, auction domain.Auction) error {
	a.u.mu.Lock()
	a.u.attempts++
	if a.u.conflicts > 0 {
		a.u.conflicts--
		a.u.mu.Unlock()
		return domain.ErrVersionConflict
	}
	a.u.mu.Unlock()
	return a.AuctionStore.UpdateBid(ctx, auction)
}

// staleReadUoW serves a fixed, outdated auction snapshot to plain Get calls
// inside a unit of work, as a READ COMMITTED read taken before another bid
// committed would. Locking reads see the committed row.
type staleReadUoW struct {
	*memory.Store
	snapshot     domain.Auction
	lockedReads  int
	plainTxReads int
}

func (u *staleReadUoW) WithinTx(ctx context.Context, fn func(ctx context.Context, r domain.Repositories) error) error {
	return u.Store.WithinTx(ctx, func(ctx context.Context, r domain.Repositories) error {
		return fn(ctx, staleReadRepos{Repositories: r, u: u})
	})
}

type staleReadRepos struct {
	domain.Repositories
	u *staleReadUoW
}

func (r staleReadRepos) Auctions() domain.AuctionStore {
	return staleAuctions{AuctionStore: r.Repositories.Auctions(), u: r.u}
}

type staleAuctions struct {
	domain.AuctionStore
	u *staleReadUoW
}

func (a staleAuctions) Get(context.Context, uuid.UUID) (domain.Auction, error) {
	a.u.plainTxReads++
	return a.u.snapshot, nil
}

func (a staleAuctions) GetForUpdate(ctx context.Context, id uuid.UUID) (domain.Auction, error) {
	a.u.lockedReads++
	return a.AuctionStore.GetForUpdate(ctx, id)
}
