package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType names a push message sent to websocket subscribers.
type EventType string

const (
	EventAuctionState     EventType = "auction_state"
	EventBidUpdate        EventType = "bid_update"
	EventOutbid           EventType = "outbid_notification"
	EventAuctionStarted   EventType = "auction_started"
	EventEndingSoon       EventType = "ending_soon"
	EventAuctionClosed    EventType = "auction_closed"
	EventAuctionSold      EventType = "auction_sold"
	EventAuctionCancelled EventType = "auction_cancelled"
	EventError            EventType = "error"
)

// Event is the envelope delivered to subscribers. Data holds the
// type-specific payload already encoded as JSON.
type Event struct {
	Type      EventType       `json:"type"`
	AuctionID uuid.UUID       `json:"auction_id"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent builds an envelope around payload.
func NewEvent(typ EventType, auctionID uuid.UUID, payload any, now time.Time) Event {
	data, _ := json.Marshal(payload)
	return Event{Type: typ, AuctionID: auctionID, Data: data, Timestamp: now.UTC()}
}

// AuctionState is the snapshot sent to a session when it subscribes.
type AuctionState struct {
	AuctionID       uuid.UUID       `json:"auction_id"`
	CurrentBid      decimal.Decimal `json:"current_bid"`
	HighestBidderID string          `json:"highest_bidder_id,omitempty"`
	TotalBids       int64           `json:"total_bids"`
	EndTime         time.Time       `json:"end_time"`
	Status          AuctionStatus   `json:"status"`
}

// StateOf projects an auction onto its subscriber snapshot.
func StateOf(a Auction) AuctionState {
	return AuctionState{
		AuctionID:       a.ID,
		CurrentBid:      a.CurrentBid,
		HighestBidderID: a.HighestBidderID,
		TotalBids:       a.TotalBids,
		EndTime:         a.EndTime,
		Status:          a.Status,
	}
}

type BidUpdate struct {
	AuctionID  uuid.UUID       `json:"auction_id"`
	CurrentBid decimal.Decimal `json:"current_bid"`
	BidderID   string          `json:"bidder_id"`
	TotalBids  int64           `json:"total_bids"`
	EndTime    time.Time       `json:"end_time"`
}

type OutbidNotice struct {
	AuctionID uuid.UUID       `json:"auction_id"`
	NewBid    decimal.Decimal `json:"new_bid"`
	YourBid   decimal.Decimal `json:"your_bid"`
}

type AuctionStarted struct {
	AuctionID uuid.UUID `json:"auction_id"`
	StartTime time.Time `json:"start_time"`
}

type EndingSoon struct {
	AuctionID uuid.UUID `json:"auction_id"`
	// TimeRemaining is in whole seconds.
	TimeRemaining int64 `json:"time_remaining"`
}

// AuctionClosed is used for both auction_closed and auction_sold.
type AuctionClosed struct {
	AuctionID uuid.UUID       `json:"auction_id"`
	FinalBid  decimal.Decimal `json:"final_bid"`
	WinnerID  string          `json:"winner_id,omitempty"`
}

type AuctionCancelled struct {
	AuctionID uuid.UUID `json:"auction_id"`
}

// EventPublisher fans events out to subscribers. Delivery is best-effort and
// at-most-once; callers log failures and carry on.
type EventPublisher interface {
	// Publish delivers ev to every current subscriber of ev.AuctionID.
	Publish(ctx context.Context, ev Event) error
	// Notify delivers ev to the sessions of userID, if any.
	Notify(ctx context.Context, userID string, ev Event) error
}
