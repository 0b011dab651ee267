package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AuctionStatus is the lifecycle state of an auction.
type AuctionStatus string

const (
	StatusDraft     AuctionStatus = "draft"
	StatusScheduled AuctionStatus = "scheduled"
	StatusLive      AuctionStatus = "live"
	StatusEnded     AuctionStatus = "ended"
	StatusCancelled AuctionStatus = "cancelled"
	StatusSold      AuctionStatus = "sold"
)

// Valid reports whether s is a known status.
func (s AuctionStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusScheduled, StatusLive, StatusEnded, StatusCancelled, StatusSold:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s AuctionStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusSold
}

// Auction is the aggregate under contention. Version increments on every
// write and guards compare-and-set updates.
type Auction struct {
	ID              uuid.UUID
	SellerID        string
	Title           string
	Category        string
	StartingPrice   decimal.Decimal
	ReservePrice    decimal.Decimal
	CurrentBid      decimal.Decimal
	BidIncrement    decimal.Decimal
	HighestBidderID string // empty until the first bid
	TotalBids       int64
	StartTime       time.Time
	EndTime         time.Time
	Status          AuctionStatus
	AutoExtend      bool
	ExtendWindow    time.Duration
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasBids reports whether at least one bid was accepted.
func (a Auction) HasBids() bool {
	return a.TotalBids > 0
}

// MinimumBid is the lowest amount the next bid may carry.
func (a Auction) MinimumBid() decimal.Decimal {
	return a.CurrentBid.Add(a.BidIncrement)
}

// ReserveMet reports whether the standing bid satisfies the reserve price.
func (a Auction) ReserveMet() bool {
	return a.HasBids() && a.CurrentBid.GreaterThanOrEqual(a.ReservePrice)
}

// TimeRemaining returns the time left until EndTime, floored at zero.
func (a Auction) TimeRemaining(now time.Time) time.Duration {
	if d := a.EndTime.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Cancellable reports whether the auction may move to cancelled.
func (a Auction) Cancellable() bool {
	switch a.Status {
	case StatusDraft, StatusScheduled:
		return true
	case StatusLive:
		return a.TotalBids == 0
	}
	return false
}

// ApplyBid records an accepted bid on the aggregate and applies auto-extend.
// It reports whether EndTime moved.
func (a *Auction) ApplyBid(bidderID string, amount decimal.Decimal, now time.Time) bool {
	a.CurrentBid = amount
	a.HighestBidderID = bidderID
	a.TotalBids++
	a.UpdatedAt = now

	if !a.AutoExtend || a.ExtendWindow <= 0 {
		return false
	}
	if a.EndTime.Sub(now) < a.ExtendWindow {
		extended := now.Add(a.ExtendWindow)
		if extended.After(a.EndTime) {
			a.EndTime = extended
			return true
		}
	}
	return false
}

// AuctionFilter narrows auction listings.
type AuctionFilter struct {
	Statuses []AuctionStatus
	Category string
	SellerID string
	Limit    int
	Offset   int
}

// BidResult is returned to the bidder after an accepted bid.
type BidResult struct {
	AuctionID       uuid.UUID       `json:"auction_id"`
	CurrentBid      decimal.Decimal `json:"current_bid"`
	HighestBidderID string          `json:"highest_bidder_id"`
	TotalBids       int64           `json:"total_bids"`
	EndTime         time.Time       `json:"end_time"`
}

// Bid is an immutable record of an accepted bid. Only IsWinning ever flips.
type Bid struct {
	ID        uuid.UUID
	AuctionID uuid.UUID
	UserID    string
	Amount    decimal.Decimal
	IsWinning bool
	CreatedAt time.Time
}

// SettlementStatus is the processing state of a settlement intent.
type SettlementStatus string

const (
	SettlementPending SettlementStatus = "pending"
	SettlementDone    SettlementStatus = "done"
	SettlementFailed  SettlementStatus = "failed"
)

// Settlement is an outbox intent written when an auction with bids ends. The
// settlement worker applies it exactly once: the winner's escrow is either
// transferred to the seller or released when the reserve was not met.
type Settlement struct {
	AuctionID  uuid.UUID
	Status     SettlementStatus
	Attempts   int
	LastError  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ArchivedAt *time.Time
}
