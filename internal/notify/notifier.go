// Package notify delivers close-out notices for finished auctions to
// external channels. Every registered Sender receives every notice; one
// failing sender does not keep the others from delivering.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auction-engine/internal/models"
	"auction-engine/utils"
)

// CloseOut is the payload describing a finished auction
type CloseOut struct {
	Type      models.EventType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Auction   ClosedAuction    `json:"auction"`
}

// ClosedAuction is the frozen auction state carried by a CloseOut
type ClosedAuction struct {
	AuctionID    string    `json:"auction_id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	StartPrice   float64   `json:"start_price"`
	CurrentPrice float64   `json:"current_price"`
	HasWinner    bool      `json:"has_winner"`
	WinnerName   string    `json:"winner_name"`
	WinnerID     string    `json:"winner_id"`
	BidCount     int       `json:"bid_count"`
	Reason       string    `json:"reason"`
	CreatedAt    time.Time `json:"created_at"`
	EndTime      time.Time `json:"end_time"`
}

// NewCloseOut builds the notice for an auction closed for reason at the given time
func NewCloseOut(a models.Auction, reason models.CloseReason, at time.Time) CloseOut {
	out := CloseOut{
		Type:      models.ClosedEvent(a, reason, at).Type,
		Timestamp: at.UTC(),
		Auction: ClosedAuction{
			AuctionID:    a.ID,
			Title:        a.Title,
			Description:  a.Description,
			StartPrice:   a.StartingPrice.InexactFloat64(),
			CurrentPrice: a.CurrentPrice.InexactFloat64(),
			BidCount:     a.BidCount,
			Reason:       string(reason),
			CreatedAt:    a.CreatedAt.UTC(),
			EndTime:      a.EndTime.UTC(),
		},
	}
	if a.HasWinner() {
		out.Auction.HasWinner = true
		out.Auction.WinnerName = a.CurrentWinner
		out.Auction.WinnerID = a.CurrentWinnerID
	}
	return out
}

// Sender is one notification channel
type Sender interface {
	Send(ctx context.Context, notice CloseOut) error
	Name() string
}

// Notifier fans close-out notices out to its senders
type Notifier struct {
	senders []Sender
	now     func() time.Time
	timeout time.Duration
}

// DefaultTimeout bounds a single dispatch across all senders
const DefaultTimeout = 10 * time.Second

// NewNotifier creates a Notifier for the given senders
func NewNotifier(senders ...Sender) *Notifier {
	return &Notifier{senders: senders, now: time.Now, timeout: DefaultTimeout}
}

// Senders returns the names of the configured senders
func (n *Notifier) Senders() []string {
	names := make([]string, 0, len(n.senders))
	for _, s := range n.senders {
		names = append(names, s.Name())
	}
	return names
}

// AuctionClosed sends the close-out notice for a to every sender. Failures
// are logged per sender and returned joined.
func (n *Notifier) AuctionClosed(ctx context.Context, a models.Auction, reason models.CloseReason) error {
	if len(n.senders) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	notice := NewCloseOut(a, reason, n.now())
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, notice); err != nil {
			utils.Error("Close-out sender failed", map[string]any{
				"sender":     s.Name(),
				"auction_id": a.ID,
				"error":      err.Error(),
			})
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		utils.Debug("Close-out notice sent", map[string]any{
			"sender":     s.Name(),
			"auction_id": a.ID,
		})
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
