package bidding

import (
	"fmt"
	"math"
	"time"

	"auction-engine/internal/biddingerrors"
	"auction-engine/internal/models"

	"github.com/shopspring/decimal"
)

// Policy holds the configurable bidding rules
type Policy struct {
	// MinIncrementPercent is the minimum raise over the current price, in
	// percent. Zero accepts any amount strictly above the current price.
	MinIncrementPercent decimal.Decimal
	AllowOwnerBids      bool
}

// DefaultPolicy accepts any strictly higher bid and forbids owner bids
func DefaultPolicy() Policy {
	return Policy{MinIncrementPercent: decimal.Zero}
}

var hundred = decimal.NewFromInt(100)

// MinimumNextBid returns the lowest amount policy would accept for a. Under
// the zero-increment policy any amount strictly above it is accepted.
func MinimumNextBid(a models.Auction, policy Policy) decimal.Decimal {
	if !policy.MinIncrementPercent.IsPositive() {
		return a.CurrentPrice
	}
	step := a.CurrentPrice.Mul(policy.MinIncrementPercent).Div(hundred)
	return a.CurrentPrice.Add(step).Round(2)
}

// AmountFromFloat converts a decoded JSON number into a bid amount
func AmountFromFloat(f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Decimal{}, biddingerrors.InvalidBid(fmt.Sprintf("amount %v is not a finite number", f))
	}
	return decimal.NewFromFloat(f), nil
}

// ValidateBid checks bid against the auction snapshot at now. It has no side
// effects; every failure wraps ErrBidRejected or ErrInvalidBid.
func ValidateBid(a models.Auction, bid models.Bid, now time.Time, policy Policy) error {
	if bid.BidderID == "" || bid.Username == "" {
		return biddingerrors.InvalidBid("user_id and username are required")
	}
	if !bid.Amount.IsPositive() {
		return biddingerrors.InvalidBid("Bid amount must be positive")
	}

	if !a.Active {
		return biddingerrors.Reject(biddingerrors.ErrAuctionClosed, "Auction is closed")
	}
	if a.Expired(now) {
		return biddingerrors.Reject(biddingerrors.ErrAuctionExpired, "Auction has ended")
	}
	if !bid.Amount.GreaterThan(a.CurrentPrice) {
		return biddingerrors.Reject(biddingerrors.ErrBidTooLow,
			fmt.Sprintf("Bid must be higher than current price ($%s)", a.CurrentPrice.StringFixed(2)))
	}
	if min := MinimumNextBid(a, policy); bid.Amount.LessThan(min) {
		return biddingerrors.Reject(biddingerrors.ErrBidTooLow,
			fmt.Sprintf("Minimum bid is $%s", min.StringFixed(2)))
	}
	if !policy.AllowOwnerBids && bid.BidderID == a.OwnerID {
		return biddingerrors.Reject(biddingerrors.ErrOwnerBid, "You cannot bid on your own auction")
	}
	return nil
}
