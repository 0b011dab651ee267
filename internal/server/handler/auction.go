package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/goingthrice/bidengine/internal/domain"
	"github.com/goingthrice/bidengine/internal/service"
)

// AuctionService defines the methods that the auction handler requires from
// the service layer.
type AuctionService interface {
	Create(ctx context.Context, seller domain.Identity, in service.CreateAuctionInput) (domain.Auction, error)
	Get(ctx context.Context, id uuid.UUID) (domain.Auction, error)
	List(ctx context.Context, f domain.AuctionFilter) ([]domain.Auction, int64, error)
	Cancel(ctx context.Context, id uuid.UUID, actor domain.Identity) (domain.Auction, error)
}

// AuctionHandler serves listing intake, reads and cancellation.
type AuctionHandler struct {
	auctions AuctionService
	logger   *slog.Logger
}

// NewAuctionHandler creates an AuctionHandler.
func NewAuctionHandler(auctions AuctionService, logger *slog.Logger) *AuctionHandler {
	return &AuctionHandler{auctions: auctions, logger: logger.With(slog.String("handler", "auction"))}
}

// ListAuctions returns a page of auctions.
// GET /api/auctions?status=live,scheduled&category=art&seller_id=u1&limit=20&offset=0
func (h *AuctionHandler) ListAuctions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := parseListOpts(r)

	f := domain.AuctionFilter{
		Category: strings.TrimSpace(q.Get("category")),
		SellerID: strings.TrimSpace(q.Get("seller_id")),
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	}
	if q.Get("limit") == "" {
		f.Limit = 20
	}
	for _, s := range strings.Split(q.Get("status"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			f.Statuses = append(f.Statuses, domain.AuctionStatus(strings.ToLower(s)))
		}
	}

	auctions, total, err := h.auctions.List(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, h.logger, "list auctions", err)
		return
	}

	views := make([]auctionView, 0, len(auctions))
	for _, a := range auctions {
		views = append(views, newAuctionView(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"auctions": views,
		"total":    total,
		"limit":    f.Limit,
		"offset":   f.Offset,
	})
}

// GetAuction returns one auction.
// GET /api/auctions/{id}
func (h *AuctionHandler) GetAuction(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid auction id")
		return
	}
	a, err := h.auctions.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get auction", err)
		return
	}
	writeJSON(w, http.StatusOK, newAuctionView(a))
}

type createAuctionRequest struct {
	Title               string           `json:"title"`
	Category            string           `json:"category"`
	StartingPrice       decimal.Decimal  `json:"starting_price"`
	ReservePrice        *decimal.Decimal `json:"reserve_price"`
	BidIncrement        decimal.Decimal  `json:"bid_increment"`
	StartTime           time.Time        `json:"start_time"`
	EndTime             time.Time        `json:"end_time"`
	AutoExtend          *bool            `json:"auto_extend"`
	ExtendWindowSeconds int64            `json:"extend_window_seconds"`
	Draft               bool             `json:"draft"`
}

// CreateAuction registers a listing for the caller.
// POST /api/auctions
func (h *AuctionHandler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	var req createAuctionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	a, err := h.auctions.Create(r.Context(), id, service.CreateAuctionInput{
		Title:         req.Title,
		Category:      req.Category,
		StartingPrice: req.StartingPrice,
		ReservePrice:  req.ReservePrice,
		BidIncrement:  req.BidIncrement,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		AutoExtend:    req.AutoExtend,
		ExtendWindow:  time.Duration(req.ExtendWindowSeconds) * time.Second,
		Draft:         req.Draft,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "create auction", err)
		return
	}
	writeJSON(w, http.StatusCreated, newAuctionView(a))
}

// CancelAuction cancels an auction owned by the caller.
// POST /api/auctions/{id}/cancel
func (h *AuctionHandler) CancelAuction(w http.ResponseWriter, r *http.Request) {
	actor, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid auction id")
		return
	}
	a, err := h.auctions.Cancel(r.Context(), id, actor)
	if err != nil {
		writeServiceError(w, r, h.logger, "cancel auction", err)
		return
	}
	writeJSON(w, http.StatusOK, newAuctionView(a))
}
