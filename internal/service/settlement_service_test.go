package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/goingthrice/bidengine/internal/domain"
)

// endWithIntent closes the fixture auction the way the sweeper does.
func (f *fixture) endWithIntent(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	ok, err := f.store.Auctions().Transition(ctx, f.auction.ID, domain.StatusLive, domain.StatusEnded)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, f.store.Settlements().Enqueue(ctx, f.auction.ID))
}

func (f *fixture) settlementService(alerts Alerter, maxAttempts int) *SettlementService {
	return NewSettlementService(f.store, f.pub, nil, alerts, maxAttempts, testLogger())
}

func (f *fixture) settlement(t *testing.T) domain.Settlement {
	t.Helper()
	pending, err := f.store.Settlements().ListPending(context.Background(), 10)
	require.NoError(t, err)
	for _, st := range pending {
		if st.AuctionID == f.auction.ID {
			return st
		}
	}
	return domain.Settlement{}
}

func TestSettleReserveMetTransfersToSeller(t *testing.T) {
	f := newFixture(t, map[string]string{"alice": "500", "seller": "0"})
	ctx := context.Background()
	_, err := f.bidService(BidConfig{}).PlaceBid(ctx, f.auction.ID, "alice", dec("110"))
	require.NoError(t, err)
	f.endWithIntent(t)

	alerts := new(mockAlerter)
	alerts.On("Notify", mock.Anything, alertAuctionSold, "Auction sold", mock.Anything).Return(nil).Once()

	svc := f.settlementService(alerts, 3)
	outcome, err := svc.Settle(ctx, f.auction.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSold, outcome)
	alerts.AssertExpectations(t)

	alice, seller := f.wallet(t, "alice"), f.wallet(t, "seller")
	assert.True(t, alice.Balance.Equal(dec("390")))
	assert.True(t, alice.Locked.IsZero())
	assert.True(t, seller.Balance.Equal(dec("110")))
	assert.Equal(t, domain.StatusSold, f.reload(t).Status)

	sold := f.pub.ofType(domain.EventAuctionSold)
	require.Len(t, sold, 1)
	assert.Equal(t, f.auction.ID, sold[0].AuctionID)

	again, err := svc.Settle(ctx, f.auction.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, again, "an intent is applied once")
	assert.True(t, f.wallet(t, "seller").Balance.Equal(dec("110")))
}

func TestSettleReserveNotMetReleasesEscrow(t *testing.T) {
	f := newFixture(t, map[string]string{"alice": "500", "seller": "0"}, func(a *domain.Auction) {
		a.ReservePrice = dec("300")
	})
	ctx := context.Background()
	_, err := f.bidService(BidConfig{}).PlaceBid(ctx, f.auction.ID, "alice", dec("150"))
	require.NoError(t, err)
	f.endWithIntent(t)

	outcome, err := f.settlementService(nil, 3).Settle(ctx, f.auction.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReleased, outcome)

	alice := f.wallet(t, "alice")
	assert.True(t, alice.Balance.Equal(dec("500")))
	assert.True(t, alice.Locked.IsZero())
	assert.True(t, f.wallet(t, "seller").Balance.IsZero())
	assert.Equal(t, domain.StatusEnded, f.reload(t).Status)
	assert.Empty(t, f.pub.ofType(domain.EventAuctionSold))
}

func TestSettleWithoutBids(t *testing.T) {
	f := newFixture(t, map[string]string{"seller": "0"})
	f.endWithIntent(t)

	outcome, err := f.settlementService(nil, 3).Settle(context.Background(), f.auction.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoBids, outcome)

	pending, err := f.store.Settlements().ListPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSettleFailureGivesUpAfterMaxAttempts(t *testing.T) {
	// No seller wallet: the transfer can never succeed.
	f := newFixture(t, map[string]string{"alice": "500"})
	ctx := context.Background()
	_, err := f.bidService(BidConfig{}).PlaceBid(ctx, f.auction.ID, "alice", dec("110"))
	require.NoError(t, err)
	f.endWithIntent(t)

	alerts := new(mockAlerter)
	alerts.On("Notify", mock.Anything, alertSettlementFailed, "Settlement failed", mock.Anything).Return(nil).Once()
	svc := f.settlementService(alerts, 2)

	_, err = svc.Settle(ctx, f.auction.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
	st := f.settlement(t)
	assert.Equal(t, 1, st.Attempts)
	assert.Equal(t, domain.SettlementPending, st.Status)
	assert.NotEmpty(t, st.LastError)

	_, err = svc.Settle(ctx, f.auction.ID)
	require.Error(t, err)
	alerts.AssertExpectations(t)

	outcome, err := svc.Settle(ctx, f.auction.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome, "failed intents are parked")

	alice := f.wallet(t, "alice")
	assert.True(t, alice.Locked.Equal(dec("110")), "escrow untouched by failed attempts")
	assert.True(t, alice.Balance.Equal(dec("500")))
}

func TestSettleRequiresEndedAuction(t *testing.T) {
	f := newFixture(t, map[string]string{"seller": "0"})
	require.NoError(t, f.store.Settlements().Enqueue(context.Background(), f.auction.ID))

	_, err := f.settlementService(nil, 3).Settle(context.Background(), f.auction.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, domain.StatusLive, f.reload(t).Status)
}
