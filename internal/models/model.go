package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CloseReason tells why an auction stopped accepting bids
type CloseReason string

const (
	CloseExpired CloseReason = "expired"
	CloseManual  CloseReason = "manual"
)

// Auction represents a time-bounded sale accepting successive bids
type Auction struct {
	ID              string
	Title           string
	Description     string
	StartingPrice   decimal.Decimal
	CurrentPrice    decimal.Decimal
	CurrentWinner   string // username of the highest bidder
	CurrentWinnerID string
	BidCount        int
	EndTime         time.Time
	CreatedAt       time.Time
	Active          bool
	OwnerID         string
	Version         int64
}

// HasWinner reports whether at least one bid was accepted
func (a Auction) HasWinner() bool {
	return a.BidCount > 0 && a.CurrentWinnerID != ""
}

// Expired reports whether the deadline has passed at now
func (a Auction) Expired(now time.Time) bool {
	return !now.Before(a.EndTime)
}

// Bid represents an accepted price offer against an auction
type Bid struct {
	ID        string
	AuctionID string
	BidderID  string
	Username  string
	Amount    decimal.Decimal
	Timestamp time.Time
}

// EventType tags the variants carried by Event
type EventType string

const (
	EventNewBid        EventType = "new_bid"
	EventAuctionEnded  EventType = "auction_ended"
	EventAuctionClosed EventType = "auction_closed"
	EventConnected     EventType = "connected"
)

// Event is a per-auction domain event pushed to stream subscribers.
// Version is the auction version the event committed; zero for Connected.
type Event struct {
	Type      EventType
	AuctionID string
	Version   int64
	Timestamp time.Time

	// NewBid
	Bid      *Bid
	BidCount int

	// NewBid carries the new price here, terminal events the frozen one
	Price    decimal.Decimal
	Winner   string
	WinnerID string
}

// Terminal reports whether the event ends the auction's stream of bids
func (e Event) Terminal() bool {
	return e.Type == EventAuctionEnded || e.Type == EventAuctionClosed
}

// NewBidEvent builds the event emitted after a bid commits
func NewBidEvent(a Auction, bid Bid) Event {
	b := bid
	return Event{
		Type:      EventNewBid,
		AuctionID: a.ID,
		Version:   a.Version,
		Timestamp: bid.Timestamp,
		Bid:       &b,
		BidCount:  a.BidCount,
		Price:     a.CurrentPrice,
		Winner:    a.CurrentWinner,
		WinnerID:  a.CurrentWinnerID,
	}
}

// ClosedEvent builds the terminal event for a closed auction
func ClosedEvent(a Auction, reason CloseReason, at time.Time) Event {
	t := EventAuctionClosed
	if reason == CloseExpired {
		t = EventAuctionEnded
	}
	return Event{
		Type:      t,
		AuctionID: a.ID,
		Version:   a.Version,
		Timestamp: at,
		BidCount:  a.BidCount,
		Price:     a.CurrentPrice,
		Winner:    a.CurrentWinner,
		WinnerID:  a.CurrentWinnerID,
	}
}

// ConnectedEvent is the synthetic first event of every subscription
func ConnectedEvent(auctionID string, at time.Time) Event {
	return Event{Type: EventConnected, AuctionID: auctionID, Timestamp: at}
}
