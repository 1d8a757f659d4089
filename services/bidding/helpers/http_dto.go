package helpers

import (
	"strconv"
	"time"

	"auction-engine/internal/models"
)

// DefaultDurationHours applies when a create request omits duration_hours
const DefaultDurationHours = 24.0

// Request DTOs
type CreateAuctionRequest struct {
	Title         string   `json:"title" binding:"required"`
	Description   string   `json:"description"`
	StartingPrice float64  `json:"starting_price" binding:"required,gt=0"`
	OwnerID       string   `json:"owner_id" binding:"required"`
	DurationHours *float64 `json:"duration_hours" binding:"omitempty,gt=0"`
}

// Duration returns the requested auction length in hours
func (r CreateAuctionRequest) Duration() float64 {
	if r.DurationHours == nil {
		return DefaultDurationHours
	}
	return *r.DurationHours
}

type PlaceBidRequest struct {
	UserID   string  `json:"user_id" binding:"required"`
	Amount   float64 `json:"amount" binding:"required,gt=0"`
	Username string  `json:"username"`
}

// DisplayName falls back to a generated name for anonymous bidders
func (r PlaceBidRequest) DisplayName() string {
	if r.Username != "" {
		return r.Username
	}
	return "User_" + r.UserID
}

type CloseAuctionRequest struct {
	UserID string `json:"user_id"`
}

// Response DTOs
type AuctionResponse struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Description     string  `json:"description"`
	StartingPrice   float64 `json:"starting_price"`
	CurrentPrice    float64 `json:"current_price"`
	CurrentWinner   string  `json:"current_winner"`
	CurrentWinnerID string  `json:"current_winner_id"`
	EndTime         string  `json:"end_time"`
	CreatedAt       string  `json:"created_at"`
	OwnerID         string  `json:"owner_id"`
	Active          string  `json:"active"`
	BidCount        int     `json:"bid_count"`
}

type BidResponse struct {
	ID        string  `json:"id"`
	AuctionID string  `json:"auction_id"`
	UserID    string  `json:"user_id"`
	Username  string  `json:"username"`
	Amount    float64 `json:"amount"`
	Timestamp string  `json:"timestamp"`
}

// EventMessage is one frame on the SSE and WebSocket streams
type EventMessage struct {
	Type         string       `json:"type"`
	AuctionID    string       `json:"auction_id"`
	Timestamp    string       `json:"timestamp"`
	Bid          *BidResponse `json:"bid,omitempty"`
	CurrentPrice *float64     `json:"current_price,omitempty"`
	FinalPrice   *float64     `json:"final_price,omitempty"`
	Winner       *string      `json:"winner,omitempty"`
	WinnerID     *string      `json:"winner_id,omitempty"`
	BidCount     *int         `json:"bid_count,omitempty"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// NewAuctionResponse converts a domain auction into its JSON shape
func NewAuctionResponse(a models.Auction) AuctionResponse {
	return AuctionResponse{
		ID:              a.ID,
		Title:           a.Title,
		Description:     a.Description,
		StartingPrice:   a.StartingPrice.InexactFloat64(),
		CurrentPrice:    a.CurrentPrice.InexactFloat64(),
		CurrentWinner:   a.CurrentWinner,
		CurrentWinnerID: a.CurrentWinnerID,
		EndTime:         formatTime(a.EndTime),
		CreatedAt:       formatTime(a.CreatedAt),
		OwnerID:         a.OwnerID,
		Active:          strconv.FormatBool(a.Active),
		BidCount:        a.BidCount,
	}
}

func NewAuctionResponses(auctions []models.Auction) []AuctionResponse {
	out := make([]AuctionResponse, 0, len(auctions))
	for _, a := range auctions {
		out = append(out, NewAuctionResponse(a))
	}
	return out
}

func NewBidResponse(b models.Bid) BidResponse {
	return BidResponse{
		ID:        b.ID,
		AuctionID: b.AuctionID,
		UserID:    b.BidderID,
		Username:  b.Username,
		Amount:    b.Amount.InexactFloat64(),
		Timestamp: formatTime(b.Timestamp),
	}
}

func NewBidResponses(bids []models.Bid) []BidResponse {
	out := make([]BidResponse, 0, len(bids))
	for _, b := range bids {
		out = append(out, NewBidResponse(b))
	}
	return out
}

// NewEventMessage converts a domain event into a stream frame. New bids carry
// current_price; terminal events carry final_price and the winner if any.
func NewEventMessage(ev models.Event) EventMessage {
	msg := EventMessage{
		Type:      string(ev.Type),
		AuctionID: ev.AuctionID,
		Timestamp: formatTime(ev.Timestamp),
	}

	switch {
	case ev.Type == models.EventNewBid:
		price := ev.Price.InexactFloat64()
		count := ev.BidCount
		msg.CurrentPrice = &price
		msg.BidCount = &count
		msg.Winner = &ev.Winner
		msg.WinnerID = &ev.WinnerID
		if ev.Bid != nil {
			bid := NewBidResponse(*ev.Bid)
			msg.Bid = &bid
		}
	case ev.Terminal():
		price := ev.Price.InexactFloat64()
		count := ev.BidCount
		msg.FinalPrice = &price
		msg.BidCount = &count
		if ev.WinnerID != "" {
			msg.Winner = &ev.Winner
			msg.WinnerID = &ev.WinnerID
		}
	}
	return msg
}
