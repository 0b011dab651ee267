package handler

import (
	"time"

	"github.com/google/uuid"

	"github.com/goingthrice/bidengine/internal/domain"
)

// Amounts leave the API as fixed two-decimal strings.

type walletView struct {
	UserID         string    `json:"user_id"`
	Balance        string    `json:"balance"`
	LockedAmount   string    `json:"locked_amount"`
	Available      string    `json:"available"`
	TotalDeposited string    `json:"total_deposited"`
	TotalWithdrawn string    `json:"total_withdrawn"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func newWalletView(w domain.Wallet) walletView {
	return walletView{
		UserID:         w.UserID,
		Balance:        w.Balance.StringFixed(domain.AmountScale),
		LockedAmount:   w.Locked.StringFixed(domain.AmountScale),
		Available:      w.Available().StringFixed(domain.AmountScale),
		TotalDeposited: w.TotalDeposited.StringFixed(domain.AmountScale),
		TotalWithdrawn: w.TotalWithdrawn.StringFixed(domain.AmountScale),
		UpdatedAt:      w.UpdatedAt,
	}
}

type transactionView struct {
	ID          uuid.UUID `json:"id"`
	Type        string    `json:"type"`
	Amount      string    `json:"amount"`
	Status      string    `json:"status"`
	ReferenceID string    `json:"reference_id,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func newTransactionViews(txns []domain.Transaction) []transactionView {
	out := make([]transactionView, 0, len(txns))
	for _, t := range txns {
		out = append(out, transactionView{
			ID:          t.ID,
			Type:        string(t.Type),
			Amount:      t.Amount.StringFixed(domain.AmountScale),
			Status:      string(t.Status),
			ReferenceID: t.ReferenceID,
			Description: t.Description,
			CreatedAt:   t.CreatedAt,
		})
	}
	return out
}

type bidView struct {
	ID        uuid.UUID `json:"id"`
	AuctionID uuid.UUID `json:"auction_id"`
	UserID    string    `json:"user_id"`
	Amount    string    `json:"amount"`
	IsWinning bool      `json:"is_winning"`
	CreatedAt time.Time `json:"created_at"`
}

func newBidViews(bids []domain.Bid) []bidView {
	out := make([]bidView, 0, len(bids))
	for _, b := range bids {
		out = append(out, bidView{
			ID:        b.ID,
			AuctionID: b.AuctionID,
			UserID:    b.UserID,
			Amount:    b.Amount.StringFixed(domain.AmountScale),
			IsWinning: b.IsWinning,
			CreatedAt: b.CreatedAt,
		})
	}
	return out
}

type bidResultView struct {
	AuctionID       uuid.UUID `json:"auction_id"`
	CurrentBid      string    `json:"current_bid"`
	HighestBidderID string    `json:"highest_bidder_id"`
	TotalBids       int64     `json:"total_bids"`
	EndTime         time.Time `json:"end_time"`
}

func newBidResultView(r domain.BidResult) bidResultView {
	return bidResultView{
		AuctionID:       r.AuctionID,
		CurrentBid:      r.CurrentBid.StringFixed(domain.AmountScale),
		HighestBidderID: r.HighestBidderID,
		TotalBids:       r.TotalBids,
		EndTime:         r.EndTime,
	}
}

type auctionView struct {
	ID                  uuid.UUID `json:"id"`
	SellerID            string    `json:"seller_id"`
	Title               string    `json:"title"`
	Category            string    `json:"category"`
	StartingPrice       string    `json:"starting_price"`
	ReservePrice        string    `json:"reserve_price"`
	CurrentBid          string    `json:"current_bid"`
	MinimumBid          string    `json:"minimum_bid"`
	BidIncrement        string    `json:"bid_increment"`
	HighestBidderID     string    `json:"highest_bidder_id,omitempty"`
	TotalBids           int64     `json:"total_bids"`
	StartTime           time.Time `json:"start_time"`
	EndTime             time.Time `json:"end_time"`
	Status              string    `json:"status"`
	AutoExtend          bool      `json:"auto_extend"`
	ExtendWindowSeconds int64     `json:"extend_window_seconds"`
	CreatedAt           time.Time `json:"created_at"`
}

func newAuctionView(a domain.Auction) auctionView {
	return auctionView{
		ID:                  a.ID,
		SellerID:            a.SellerID,
		Title:               a.Title,
		Category:            a.Category,
		StartingPrice:       a.StartingPrice.StringFixed(domain.AmountScale),
		ReservePrice:        a.ReservePrice.StringFixed(domain.AmountScale),
		CurrentBid:          a.CurrentBid.StringFixed(domain.AmountScale),
		MinimumBid:          a.MinimumBid().StringFixed(domain.AmountScale),
		BidIncrement:        a.BidIncrement.StringFixed(domain.AmountScale),
		HighestBidderID:     a.HighestBidderID,
		TotalBids:           a.TotalBids,
		StartTime:           a.StartTime,
		EndTime:             a.EndTime,
		Status:              string(a.Status),
		AutoExtend:          a.AutoExtend,
		ExtendWindowSeconds: int64(a.ExtendWindow.Seconds()),
		CreatedAt:           a.CreatedAt,
	}
}

type settlementView struct {
	AuctionID uuid.UUID `json:"auction_id"`
	Status    string    `json:"status"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
