package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/goingthrice/bidengine/internal/domain"
)

const contentTypeJSONL = "application/x-ndjson"

// BidHistory is the read side the archiver needs.
type BidHistory interface {
	ListAll(ctx context.Context, auctionID uuid.UUID) ([]domain.Bid, error)
}

// multipartWriter is implemented by Writer. Archives at or above
// minPartSize go through it when available.
type multipartWriter interface {
	PutMultipart(ctx context.Context, path string, data io.Reader, contentType string, partSize int64) error
}

// BidArchiver writes the complete bid history of a settled auction as JSON
// lines to <prefix>/auction=<id>/bids.jsonl. Uploads overwrite, so archiving
// the same auction twice is harmless.
type BidArchiver struct {
	writer domain.BlobWriter
	bids   BidHistory
	prefix string
}

var _ domain.Archiver = (*BidArchiver)(nil)

// NewBidArchiver creates a BidArchiver.
func NewBidArchiver(writer domain.BlobWriter, bids BidHistory, prefix string) *BidArchiver {
	return &BidArchiver{writer: writer, bids: bids, prefix: strings.Trim(prefix, "/")}
}

// bidRecord is one archived line.
type bidRecord struct {
	BidID     uuid.UUID `json:"bid_id"`
	AuctionID uuid.UUID `json:"auction_id"`
	UserID    string    `json:"user_id"`
	Amount    string    `json:"amount"`
	IsWinning bool      `json:"is_winning"`
	CreatedAt time.Time `json:"created_at"`
}

// ArchiveAuction uploads every bid of auctionID, oldest first, and returns
// the number of bids written. Auctions without bids upload nothing.
func (a *BidArchiver) ArchiveAuction(ctx context.Context, auctionID uuid.UUID) (int, error) {
	bids, err := a.bids.ListAll(ctx, auctionID)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s: list bids: %w", auctionID, err)
	}
	if len(bids) == 0 {
		return 0, nil
	}

	records := make([]bidRecord, 0, len(bids))
	for _, b := range bids {
		records = append(records, bidRecord{
			BidID:     b.ID,
			AuctionID: b.AuctionID,
			UserID:    b.UserID,
			Amount:    b.Amount.StringFixed(domain.AmountScale),
			IsWinning: b.IsWinning,
			CreatedAt: b.CreatedAt.UTC(),
		})
	}
	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s: %w", auctionID, err)
	}

	key := a.Key(auctionID)
	if mw, ok := a.writer.(multipartWriter); ok && int64(len(buf)) >= minPartSize {
		err = mw.PutMultipart(ctx, key, bytes.NewReader(buf), contentTypeJSONL, minPartSize)
	} else {
		err = a.writer.Put(ctx, key, bytes.NewReader(buf), contentTypeJSONL)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s: %w", auctionID, err)
	}
	return len(records), nil
}

// Key returns the object key of an auction's archive.
//
//	archive/auction=6f1c.../bids.jsonl
func (a *BidArchiver) Key(auctionID uuid.UUID) string {
	return path.Join(a.prefix, "auction="+auctionID.String(), "bids.jsonl")
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
