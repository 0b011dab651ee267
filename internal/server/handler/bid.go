package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/goingthrice/bidengine/internal/domain"
)

// BidService defines the methods that the bid handler requires from the
// service layer.
type BidService interface {
	PlaceBid(ctx context.Context, auctionID uuid.UUID, bidderID string, amount decimal.Decimal) (domain.BidResult, error)
	History(ctx context.Context, auctionID uuid.UUID, limit int) ([]domain.Bid, error)
	BidsByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Bid, error)
	WinningBids(ctx context.Context, userID string) ([]domain.Bid, error)
}

// Idempotency remembers bid results by key. *service.Dedup satisfies it.
type Idempotency interface {
	Do(ctx context.Context, key string, fn func() (domain.BidResult, error)) (domain.BidResult, bool, error)
}

// BidHandler serves bid placement and bid history endpoints.
type BidHandler struct {
	bids   BidService
	dedup  Idempotency
	logger *slog.Logger
}

// NewBidHandler creates a BidHandler. dedup may be nil, in which case the
// Idempotency-Key header is ignored.
func NewBidHandler(bids BidService, dedup Idempotency, logger *slog.Logger) *BidHandler {
	return &BidHandler{
		bids:   bids,
		dedup:  dedup,
		logger: logger.With(slog.String("handler", "bid")),
	}
}

type placeBidRequest struct {
	AuctionID uuid.UUID       `json:"auction_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// PlaceBid places a bid for the caller.
// POST /api/bids
func (h *BidHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}

	var req placeBidRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.AuctionID == uuid.Nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "auction_id is required", Code: "validation", Field: "auction_id"})
		return
	}

	place := func() (domain.BidResult, error) {
		return h.bids.PlaceBid(r.Context(), req.AuctionID, id.UserID, req.Amount)
	}

	var res domain.BidResult
	var err error
	replayed := false
	if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" && h.dedup != nil {
		res, replayed, err = h.dedup.Do(r.Context(), id.UserID+":"+key, place)
	} else {
		res, err = place()
	}
	if err != nil {
		writeServiceError(w, r, h.logger, "place bid", err)
		return
	}

	if replayed {
		w.Header().Set("Idempotent-Replayed", "true")
	}
	writeJSON(w, http.StatusCreated, newBidResultView(res))
}

// History returns the newest bids of an auction.
// GET /api/bids/history/{auction_id}?limit=50
func (h *BidHandler) History(w http.ResponseWriter, r *http.Request) {
	auctionID, err := uuid.Parse(r.PathValue("auction_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid auction id")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	bids, err := h.bids.History(r.Context(), auctionID, limit)
	if err != nil {
		writeServiceError(w, r, h.logger, "bid history", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bids": newBidViews(bids)})
}

// Mine returns the caller's bids.
// GET /api/bids/mine?limit=50&offset=0
func (h *BidHandler) Mine(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	bids, err := h.bids.BidsByUser(r.Context(), id.UserID, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "my bids", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bids": newBidViews(bids)})
}

// Winning returns the caller's bids that currently lead their auction.
// GET /api/bids/winning
func (h *BidHandler) Winning(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	bids, err := h.bids.WinningBids(r.Context(), id.UserID)
	if err != nil {
		writeServiceError(w, r, h.logger, "winning bids", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bids": newBidViews(bids)})
}
