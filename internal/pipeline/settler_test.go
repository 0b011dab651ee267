package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/goingthrice/bidengine/internal/domain"
	"github.com/goingthrice/bidengine/internal/service"
	"github.com/goingthrice/bidengine/internal/store/memory"
)

type mockApplier struct {
	mock.Mock
}

func (m *mockApplier) Pending(ctx context.Context, limit int) ([]domain.Settlement, error) {
	args := m.Called(ctx, limit)
	out, _ := args.Get(0).([]domain.Settlement)
	return out, args.Error(1)
}

func (m *mockApplier) Settle(ctx context.Context, id uuid.UUID) (service.SettlementOutcome, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(service.SettlementOutcome), args.Error(1)
}

func TestSettlerContinuesPastFailures(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	applier := new(mockApplier)
	applier.On("Pending", mock.Anything, 20).Return([]domain.Settlement{
		{AuctionID: a}, {AuctionID: b}, {AuctionID: c},
	}, nil)
	applier.On("Settle", mock.Anything, a).Return(service.OutcomeSold, nil)
	applier.On("Settle", mock.Anything, b).Return(service.SettlementOutcome(""), errors.New("wallet locked"))
	applier.On("Settle", mock.Anything, c).Return(service.OutcomeSkipped, nil)

	n, err := NewSettler(applier, 0, testLogger()).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	applier.AssertNumberOfCalls(t, "Settle", 3)
}

func TestSettlerPendingFailure(t *testing.T) {
	applier := new(mockApplier)
	applier.On("Pending", mock.Anything, 5).Return(nil, domain.ErrPersistence)

	_, err := NewSettler(applier, 5, testLogger()).RunOnce(context.Background())
	assert.ErrorIs(t, err, domain.ErrPersistence)
}

// Sweep then settle against one store: the outbox hands the ended auction to
// the settlement worker, which pays the seller exactly once.
func TestSweepThenSettle(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.SeedWallet(domain.Wallet{UserID: "alice", Balance: decimal.NewFromInt(500), Locked: decimal.NewFromInt(150)})
	store.SeedWallet(domain.Wallet{UserID: "seller"})

	a := newAuction(domain.StatusLive, sweepNow.Add(-time.Hour), sweepNow.Add(-time.Second))
	a.CurrentBid = decimal.NewFromInt(150)
	a.HighestBidderID = "alice"
	a.TotalBids = 1
	mustCreate(t, store, a)

	pub := &recordingPublisher{}
	_, err := newSweeper(store, pub, nil).SweepOnce(ctx)
	require.NoError(t, err)

	svc := service.NewSettlementService(store, pub, nil, nil, 3, testLogger())
	settler := NewSettler(svc, 10, testLogger())

	n, err := settler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = settler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	seller, err := store.Wallets().Get(ctx, "seller")
	require.NoError(t, err)
	assert.True(t, seller.Balance.Equal(decimal.NewFromInt(150)))
	alice, err := store.Wallets().Get(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, alice.Balance.Equal(decimal.NewFromInt(350)))
	assert.True(t, alice.Locked.IsZero())
	assert.Equal(t, domain.StatusSold, status(t, store, a.ID))
	assert.Equal(t, 1, pub.count(domain.EventAuctionSold, a.ID))
}
