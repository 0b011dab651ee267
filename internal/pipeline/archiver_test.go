package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/goingthrice/bidengine/internal/store/memory"
)

type mockBlobArchiver struct {
	mock.Mock
}

func (m *mockBlobArchiver) ArchiveAuction(ctx context.Context, id uuid.UUID) (int, error) {
	args := m.Called(ctx, id)
	return args.Int(0), args.Error(1)
}

func TestArchiverStampsArchivedSettlements(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	ok, failing := uuid.New(), uuid.New()
	for _, id := range []uuid.UUID{ok, failing} {
		require.NoError(t, store.Settlements().Enqueue(ctx, id))
		require.NoError(t, store.Settlements().MarkDone(ctx, id))
	}
	pendingOnly := uuid.New()
	require.NoError(t, store.Settlements().Enqueue(ctx, pendingOnly))

	blob := new(mockBlobArchiver)
	blob.On("ArchiveAuction", mock.Anything, ok).Return(4, nil).Once()
	blob.On("ArchiveAuction", mock.Anything, failing).Return(0, errors.New("s3 down")).Once()

	arch := NewArchiver(store.Settlements(), blob, 10, testLogger())
	n, err := arch.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	blob.AssertExpectations(t)

	left, err := store.Settlements().ListUnarchived(ctx, 10)
	require.NoError(t, err)
	require.Len(t, left, 1, "failed upload is retried on the next run")
	assert.Equal(t, failing, left[0].AuctionID)
}
