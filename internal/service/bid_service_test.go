package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goingthrice/bidengine/internal/domain"
)

func TestPlaceBidMinimumIncrement(t *testing.T) {
	f := newFixture(t, map[string]string{"alice": "1000"})
	svc := f.bidService(BidConfig{})
	ctx := context.Background()

	_, err := svc.PlaceBid(ctx, f.auction.ID, "alice", dec("105"))
	var tooLow *domain.BidTooLowError
	require.ErrorAs(t, err, &tooLow)
	assert.ErrorIs(t, err, domain.ErrBidTooLow)
	assert.True(t, tooLow.Minimum.Equal(dec("110")))
	assert.Contains(t, err.Error(), "110.00")
	assert.Zero(t, f.txCount(t, "alice"))

	res, err := svc.PlaceBid(ctx, f.auction.ID, "alice", dec("110"))
	require.NoError(t, err)
	assert.True(t, res.CurrentBid.Equal(dec("110")))
	assert.Equal(t, "alice", res.HighestBidderID)
	assert.Equal(t, int64(1), res.TotalBids)

	w := f.wallet(t, "alice")
	assert.True(t, w.Locked.Equal(dec("110")))
	assert.True(t, w.Balance.Equal(dec("1000")))
}

func TestPlaceBidSupersedesPreviousBidder(t *testing.T) {
	f := newFixture(t, map[string]string{"alice": "500", "bob": "500"})
	svc := f.bidService(BidConfig{})
	ctx := context.Background()

	_, err := svc.PlaceBid(ctx, f.auction.ID, "alice", dec("110"))
	require.NoError(t, err)
	lockedBefore := f.wallet(t, "alice").Locked.Add(f.wallet(t, "bob").Locked)

	_, err = svc.PlaceBid(ctx, f.auction.ID, "bob", dec("120"))
	require.NoError(t, err)

	alice, bob := f.wallet(t, "alice"), f.wallet(t, "bob")
	assert.True(t, alice.Locked.IsZero(), "alice's escrow is released")
	assert.True(t, bob.Locked.Equal(dec("120")))
	lockedAfter := alice.Locked.Add(bob.Locked)
	assert.True(t, lockedAfter.Sub(lockedBefore).Equal(dec("10")), "total escrow grows by new-old")

	history, err := svc.History(ctx, f.auction.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "bob", history[0].UserID)
	assert.True(t, history[0].IsWinning)
	assert.Equal(t, "alice", history[1].UserID)
	assert.False(t, history[1].IsWinning)

	updates := f.pub.ofType(domain.EventBidUpdate)
	assert.Len(t, updates, 2)
	outbid := f.pub.notificationsFor("alice")
	require.Len(t, outbid, 1)
	assert.Equal(t, domain.EventOutbid, outbid[0].Type)
	assert.JSONEq(t,
		fmt.Sprintf(`{"auction_id":%q,"new_bid":"120","your_bid":"110"}`, f.auction.ID),
		string(outbid[0].Data))
	assert.Empty(t, f.pub.notificationsFor("bob"))
}

func TestPlaceBidAutoExtends(t *testing.T) {
	f := newFixture(t, map[string]string{"alice": "500"})
	a := f.reload(t)
	a.EndTime = f.now.Add(90 * time.Second)
	require.NoError(t, f.store.Auctions().UpdateBid(context.Background(), a))

	res, err := f.bidService(BidConfig{}).PlaceBid(context.Background(), f.auction.ID, "alice", dec("110"))
	require.NoError(t, err)
	assert.Equal(t, f.now.Add(120*time.Second), res.EndTime)
	assert.Equal(t, f.now.Add(120*time.Second), f.reload(t).EndTime)
}

func TestPlaceBidDoesNotShortenEndTime(t *testing.T) {
	f := newFixture(t, map[string]string{"alice": "500"})
	res, err := f.bidService(BidConfig{}).PlaceBid(context.Background(), f.auction.ID, "alice", dec("110"))
	require.NoError(t, err)
	assert.Equal(t, f.auction.EndTime, res.EndTime)
}

func TestPlaceBidRejections(t *testing.T) {
	tests := []struct {
		name    string
		bidder  string
		amount  string
		prepare func(t *testing.T, f *fixture)
		wantErr error
	}{
		{name: "zero amount", bidder: "alice", amount: "0", wantErr: domain.ErrInvalidAmount},
		{name: "negative amount", bidder: "alice", amount: "-5", wantErr: domain.ErrInvalidAmount},
		{name: "sub-cent amount", bidder: "alice", amount: "110.001", wantErr: domain.ErrInvalidAmount},
		{name: "self bid", bidder: "seller", amount: "200", wantErr: domain.ErrSelfBid},
		{name: "insufficient funds", bidder: "poor", amount: "110", wantErr: domain.ErrInsufficientFunds},
		{name: "unknown wallet", bidder: "ghost", amount: "110", wantErr: domain.ErrNotFound},
		{
			name: "auction scheduled", bidder: "alice", amount: "110",
			prepare: func(t *testing.T, f *fixture) {
				ok, err := f.store.Auctions().Transition(context.Background(), f.auction.ID, domain.StatusLive, domain.StatusScheduled)
				require.NoError(t, err)
				require.True(t, ok)
			},
			wantErr: domain.ErrAuctionNotLive,
		},
		{
			name: "auction past end time", bidder: "alice", amount: "110",
			prepare: func(t *testing.T, f *fixture) {
				a := f.reload(t)
				a.EndTime = f.now.Add(-time.Second)
				require.NoError(t, f.store.Auctions().UpdateBid(context.Background(), a))
			},
			wantErr: domain.ErrAuctionNotLive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, map[string]string{"alice": "500", "poor": "50", "seller": "1000"})
			if tt.prepare != nil {
				tt.prepare(t, f)
			}
			_, err := f.bidService(BidConfig{}).PlaceBid(context.Background(), f.auction.ID, tt.bidder, dec(tt.amount))
			require.ErrorIs(t, err, tt.wantErr)

			for _, u := range []string{"alice", "poor", "seller"} {
				assert.Zero(t, f.txCount(t, u), "no ledger mutation for %s", u)
				assert.True(t, f.wallet(t, u).Locked.IsZero())
			}
			assert.Zero(t, f.reload(t).TotalBids)
			assert.Empty(t, f.pub.ofType(domain.EventBidUpdate))
		})
	}
}

func TestPlaceBidUnknownAuction(t *testing.T) {
	f := newFixture(t, map[string]string{"alice": "500"})
	_, err := f.bidService(BidConfig{}).PlaceBid(context.Background(), uuid.New(), "alice", dec("110"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPlaceBidRaiseOwnBid(t *testing.T) {
	f := newFixture(t, map[string]string{"alice": "150"})
	svc := f.bidService(BidConfig{})
	ctx := context.Background()

	_, err := svc.PlaceBid(ctx, f.auction.ID, "alice", dec("110"))
	require.NoError(t, err)
	// 150 available before any escrow; raising to 140 needs the old 110 back.
	res, err := svc.PlaceBid(ctx, f.auction.ID, "alice", dec("140"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.TotalBids)

	w := f.wallet(t, "alice")
	assert.True(t, w.Locked.Equal(dec("140")))
	assert.Empty(t, f.pub.notificationsFor("alice"), "no outbid notice to oneself")

	winning, err := svc.WinningBids(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, winning, 1)
	assert.True(t, winning[0].Amount.Equal(dec("140")))

	// available 10 + escrow 140 is the ceiling for the next raise.
	_, err = svc.PlaceBid(ctx, f.auction.ID, "alice", dec("160"))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.True(t, f.wallet(t, "alice").Locked.Equal(dec("140")), "a rejected raise keeps the old escrow")
}

func TestPlaceBidRetriesVersionConflicts(t *testing.T) {
	f := newFixture(t, map[string]string{"alice": "500"})
	uow := &conflictingUoW{Store: f.store, conflicts: 2}
	svc := NewBidService(uow, f.pub, nil, nil, BidConfig{MaxRetries: 2}, testLogger())
	svc.now = func() time.Time { return f.now }

	res, err := svc.PlaceBid(context.Background(), f.auction.ID, "alice", dec("110"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.TotalBids)
	assert.Equal(t, 3, uow.attempts)
	assert.True(t, f.wallet(t, "alice").Locked.Equal(dec("110")), "rolled-back attempts leave no escrow behind")
	assert.Equal(t, 1, f.txCount(t, "alice"))
}

func TestPlaceBidSurfacesConflictAfterRetries(t *testing.T) {
	f := newFixture(t, map[string]string{"alice": "500"})
	uow := &conflictingUoW{Store: f.store, conflicts: 10}
	svc := NewBidService(uow, f.pub, nil, nil, BidConfig{MaxRetries: 2}, testLogger())

	_, err := svc.PlaceBid(context.Background(), f.auction.ID, "alice", dec("110"))
	require.ErrorIs(t, err, domain.ErrConcurrentBidConflict)
	assert.Equal(t, 3, uow.attempts)
	assert.True(t, f.wallet(t, "alice").Locked.IsZero())
	assert.Zero(t, f.txCount(t, "alice"))
	assert.Zero(t, f.reload(t).TotalBids)
}

func TestPlaceBidReadsAuctionUnderLock(t *testing.T) {
	f := newFixture(t, map[string]string{"x": "500", "a": "500", "b": "500"})
	svc := f.bidService(BidConfig{MaxRetries: 3})
	ctx := context.Background()

	_, err := svc.PlaceBid(ctx, f.auction.ID, "x", dec("110"))
	require.NoError(t, err)
	snapshot := f.reload(t) // x leads at 110

	_, err = svc.PlaceBid(ctx, f.auction.ID, "a", dec("120"))
	require.NoError(t, err)

	// b's transaction would see x as leader if it trusted an unlocked read.
	uow := &staleReadUoW{Store: f.store, snapshot: snapshot}
	stale := NewBidService(uow, f.pub, nil, nil, BidConfig{MaxRetries: 3}, testLogger())
	stale.now = func() time.Time { return f.now }

	res, err := stale.PlaceBid(ctx, f.auction.ID, "b", dec("130"))
	require.NoError(t, err)
	assert.Equal(t, "b", res.HighestBidderID)
	assert.Equal(t, int64(3), res.TotalBids)
	assert.Equal(t, 1, uow.lockedReads)
	assert.Zero(t, uow.plainTxReads)

	for user, locked := range map[string]string{"x": "0", "a": "0", "b": "130"} {
		w := f.wallet(t, user)
		require.NoError(t, w.Check())
		assert.True(t, w.Locked.Equal(dec(locked)), "%s locked %s", user, w.Locked)
	}
	outbid := f.pub.notificationsFor("a")
	require.Len(t, outbid, 1)
	assert.JSONEq(t,
		fmt.Sprintf(`{"auction_id":%q,"new_bid":"130","your_bid":"120"}`, f.auction.ID),
		string(outbid[0].Data))
}

func TestPlaceBidConcurrentBiddersKeepInvariants(t *testing.T) {
	wallets := make(map[string]string)
	for i := 0; i < 8; i++ {
		wallets[fmt.Sprintf("bidder-%d", i)] = "10000"
	}
	f := newFixture(t, wallets)
	svc := f.bidService(BidConfig{MaxRetries: 5})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bidder := fmt.Sprintf("bidder-%d", i)
			for step := 1; step <= 10; step++ {
				amount := decimal.NewFromInt(int64(100 + step*10*(i+1)))
				_, _ = svc.PlaceBid(ctx, f.auction.ID, bidder, amount)
			}
		}(i)
	}
	wg.Wait()

	a := f.reload(t)
	bids, err := f.store.Bids().ListAll(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, bids, int(a.TotalBids))

	winners := 0
	last := dec("100")
	for _, b := range bids {
		assert.True(t, b.Amount.GreaterThan(last), "accepted bids strictly increase")
		last = b.Amount
		if b.IsWinning {
			winners++
			assert.Equal(t, a.HighestBidderID, b.UserID)
			assert.True(t, b.Amount.Equal(a.CurrentBid))
		}
	}
	assert.Equal(t, 1, winners)

	totalLocked := decimal.Zero
	for user := range wallets {
		w := f.wallet(t, user)
		require.NoError(t, w.Check())
		totalLocked = totalLocked.Add(w.Locked)
		if user != a.HighestBidderID {
			assert.True(t, w.Locked.IsZero(), "%s holds no escrow", user)
		}
	}
	assert.True(t, totalLocked.Equal(a.CurrentBid))
}

func TestBidsByUser(t *testing.T) {
	f := newFixture(t, map[string]string{"alice": "500", "bob": "500"})
	svc := f.bidService(BidConfig{})
	ctx := context.Background()

	for _, step := range []struct {
		user, amount string
	}{{"alice", "110"}, {"bob", "120"}, {"alice", "130"}} {
		_, err := svc.PlaceBid(ctx, f.auction.ID, step.user, dec(step.amount))
		require.NoError(t, err)
	}

	bids, err := svc.BidsByUser(ctx, "alice", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, bids, 2)
	assert.True(t, bids[0].Amount.Equal(dec("130")))

	winning, err := svc.WinningBids(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, winning)
}
