package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/goingthrice/bidengine/internal/domain"
)

type mockBlobWriter struct {
	mock.Mock
	body []byte
}

func (m *mockBlobWriter) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.body = b
	return m.Called(ctx, path, contentType).Error(0)
}

type stubHistory map[uuid.UUID][]domain.Bid

func (s stubHistory) ListAll(_ context.Context, auctionID uuid.UUID) ([]domain.Bid, error) {
	return s[auctionID], nil
}

func TestArchiveAuctionWritesJSONLines(t *testing.T) {
	auctionID := uuid.New()
	at := time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC)
	history := stubHistory{auctionID: {
		{ID: uuid.New(), AuctionID: auctionID, UserID: "alice", Amount: decimal.NewFromInt(110), CreatedAt: at},
		{ID: uuid.New(), AuctionID: auctionID, UserID: "bob", Amount: decimal.RequireFromString("125.5"), IsWinning: true, CreatedAt: at.Add(time.Minute)},
	}}

	w := &mockBlobWriter{}
	key := "archive/auction=" + auctionID.String() + "/bids.jsonl"
	w.On("Put", mock.Anything, key, "application/x-ndjson").Return(nil).Once()

	n, err := NewBidArchiver(w, history, "/archive/").ArchiveAuction(context.Background(), auctionID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	w.AssertExpectations(t)

	var lines []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(w.body))
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		lines = append(lines, rec)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "alice", lines[0]["user_id"])
	assert.Equal(t, "110.00", lines[0]["amount"])
	assert.Equal(t, false, lines[0]["is_winning"])
	assert.Equal(t, "125.50", lines[1]["amount"])
	assert.Equal(t, true, lines[1]["is_winning"])
	assert.Equal(t, "2026-06-01T09:31:00Z", lines[1]["created_at"])
}

func TestArchiveAuctionWithoutBidsUploadsNothing(t *testing.T) {
	w := &mockBlobWriter{}
	n, err := NewBidArchiver(w, stubHistory{}, "archive").ArchiveAuction(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Zero(t, n)
	w.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything)
}

func TestArchiveAuctionUploadFailure(t *testing.T) {
	auctionID := uuid.New()
	history := stubHistory{auctionID: {{ID: uuid.New(), AuctionID: auctionID, UserID: "alice", Amount: decimal.NewFromInt(110)}}}

	w := &mockBlobWriter{}
	w.On("Put", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("503 slow down"))

	_, err := NewBidArchiver(w, history, "archive").ArchiveAuction(context.Background(), auctionID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slow down")
}

func TestWithScheme(t *testing.T) {
	assert.Equal(t, "http://localhost:9000", withScheme("http://localhost:9000", true))
	assert.Equal(t, "https://e2.example.com", withScheme("e2.example.com", true))
	assert.Equal(t, "http://minio:9000", withScheme("minio:9000", false))
}
