package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goingthrice/bidengine/internal/domain"
)

func liveAuction(now time.Time) domain.Auction {
	return domain.Auction{
		ID:            uuid.New(),
		SellerID:      "seller",
		Title:         "lamp",
		StartingPrice: decimal.NewFromInt(100),
		CurrentBid:    decimal.NewFromInt(100),
		BidIncrement:  decimal.NewFromInt(10),
		StartTime:     now.Add(-time.Hour),
		EndTime:       now.Add(time.Hour),
		Status:        domain.StatusLive,
	}
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.SeedWallet(domain.Wallet{UserID: "u1", Balance: decimal.NewFromInt(50)})

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context, r domain.Repositories) error {
		w, err := r.Wallets().GetForUpdate(ctx, "u1")
		require.NoError(t, err)
		w.Deposit(decimal.NewFromInt(25))
		require.NoError(t, r.Wallets().Update(ctx, w))
		return boom
	})
	require.ErrorIs(t, err, boom)

	w, err := s.Wallets().Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(decimal.NewFromInt(50)))
}

func TestWalletUpdateRejectsBrokenInvariant(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.SeedWallet(domain.Wallet{UserID: "u1", Balance: decimal.NewFromInt(50)})

	err := s.Wallets().Update(ctx, domain.Wallet{
		UserID:  "u1",
		Balance: decimal.NewFromInt(10),
		Locked:  decimal.NewFromInt(20),
	})
	assert.ErrorIs(t, err, domain.ErrLedgerInconsistency)
}

func TestAutoProvision(t *testing.T) {
	ctx := context.Background()

	_, err := New().Wallets().Get(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	w, err := New(WithAutoProvision()).Wallets().Get(ctx, "nobody")
	require.NoError(t, err)
	assert.True(t, w.Balance.IsZero())
}

func TestUpdateBidIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := New()
	a := liveAuction(time.Now())
	require.NoError(t, s.Auctions().Create(ctx, a))

	stale, err := s.Auctions().Get(ctx, a.ID)
	require.NoError(t, err)

	first := stale
	first.ApplyBid("b1", decimal.NewFromInt(110), time.Now())
	require.NoError(t, s.Auctions().UpdateBid(ctx, first))

	second := stale
	second.ApplyBid("b2", decimal.NewFromInt(110), time.Now())
	assert.ErrorIs(t, s.Auctions().UpdateBid(ctx, second), domain.ErrVersionConflict)

	got, err := s.Auctions().Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "b1", got.HighestBidderID)
	assert.Equal(t, int64(2), got.Version)
}

func TestOnlyOneWinningBid(t *testing.T) {
	ctx := context.Background()
	s := New()
	auctionID := uuid.New()

	require.NoError(t, s.Bids().Append(ctx, domain.Bid{ID: uuid.New(), AuctionID: auctionID, UserID: "a", IsWinning: true}))
	err := s.Bids().Append(ctx, domain.Bid{ID: uuid.New(), AuctionID: auctionID, UserID: "b", IsWinning: true})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	require.NoError(t, s.Bids().ClearWinning(ctx, auctionID))
	require.NoError(t, s.Bids().Append(ctx, domain.Bid{ID: uuid.New(), AuctionID: auctionID, UserID: "b", IsWinning: true}))

	history, err := s.Bids().History(ctx, auctionID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "b", history[0].UserID)
	assert.True(t, history[0].IsWinning)
	assert.False(t, history[1].IsWinning)
}

func TestTransitionAndCancelAreConditional(t *testing.T) {
	ctx := context.Background()
	s := New()
	a := liveAuction(time.Now())
	a.Status = domain.StatusScheduled
	require.NoError(t, s.Auctions().Create(ctx, a))

	ok, err := s.Auctions().Transition(ctx, a.ID, domain.StatusScheduled, domain.StatusLive)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Auctions().Transition(ctx, a.ID, domain.StatusScheduled, domain.StatusLive)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Auctions().Cancel(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, ok, "live auction without bids is cancellable")
}

func TestSettlementFailureGivesUp(t *testing.T) {
	ctx := context.Background()
	s := New()
	id := uuid.New()
	require.NoError(t, s.Settlements().Enqueue(ctx, id))
	require.NoError(t, s.Settlements().Enqueue(ctx, id))

	st, err := s.Settlements().RecordFailure(ctx, id, "db down", 2)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementPending, st.Status)

	st, err = s.Settlements().RecordFailure(ctx, id, "db down", 2)
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementFailed, st.Status)
	assert.Equal(t, 2, st.Attempts)

	_, err = s.Settlements().Claim(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
