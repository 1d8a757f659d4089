package bidding

import (
	"errors"
	"math"
	"testing"
	"time"

	"auction-engine/internal/biddingerrors"
	model "auction-engine/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// Tests ValidateBid
func TestValidateBid(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	open := model.Auction{
		ID:            "a1",
		StartingPrice: d("10.00"),
		CurrentPrice:  d("10.00"),
		EndTime:       now.Add(time.Hour),
		Active:        true,
		OwnerID:       "owner",
		Version:       1,
	}
	closed := open
	closed.Active = false

	bid := func(bidder, amount string) model.Bid {
		return model.Bid{BidderID: bidder, Username: "user-" + bidder, Amount: d(amount)}
	}

	tests := []struct {
		name       string
		auction    model.Auction
		bid        model.Bid
		now        time.Time
		policy     Policy
		wantErr    error
		wantDetail string
	}{
		{name: "strictly_higher", auction: open, bid: bid("u1", "10.50"), now: now, policy: DefaultPolicy()},
		{name: "equal_to_current", auction: open, bid: bid("u1", "10.00"), now: now, policy: DefaultPolicy(),
			wantErr: biddingerrors.ErrBidTooLow, wantDetail: "Bid must be higher than current price ($10.00)"},
		{name: "below_current", auction: open, bid: bid("u1", "9.99"), now: now, policy: DefaultPolicy(),
			wantErr: biddingerrors.ErrBidTooLow},
		{name: "zero_amount", auction: open, bid: bid("u1", "0"), now: now, policy: DefaultPolicy(),
			wantErr: biddingerrors.ErrInvalidBid},
		{name: "negative_amount", auction: open, bid: bid("u1", "-5"), now: now, policy: DefaultPolicy(),
			wantErr: biddingerrors.ErrInvalidBid},
		{name: "empty_bidder", auction: open, bid: model.Bid{Username: "x", Amount: d("20")}, now: now, policy: DefaultPolicy(),
			wantErr: biddingerrors.ErrInvalidBid},
		{name: "empty_username", auction: open, bid: model.Bid{BidderID: "u1", Amount: d("20")}, now: now, policy: DefaultPolicy(),
			wantErr: biddingerrors.ErrInvalidBid},
		{name: "inactive_auction", auction: closed, bid: bid("u1", "50"), now: now, policy: DefaultPolicy(),
			wantErr: biddingerrors.ErrAuctionClosed, wantDetail: "Auction is closed"},
		{name: "deadline_reached", auction: open, bid: bid("u1", "50"), now: open.EndTime, policy: DefaultPolicy(),
			wantErr: biddingerrors.ErrAuctionExpired, wantDetail: "Auction has ended"},
		{name: "past_deadline", auction: open, bid: bid("u1", "50"), now: open.EndTime.Add(time.Second), policy: DefaultPolicy(),
			wantErr: biddingerrors.ErrAuctionExpired},
		{name: "owner_bid_forbidden", auction: open, bid: bid("owner", "50"), now: now, policy: DefaultPolicy(),
			wantErr: biddingerrors.ErrOwnerBid},
		{name: "owner_bid_allowed", auction: open, bid: bid("owner", "50"), now: now, policy: Policy{AllowOwnerBids: true}},
		{name: "below_min_increment", auction: open, bid: bid("u1", "10.49"), now: now, policy: Policy{MinIncrementPercent: d("5")},
			wantErr: biddingerrors.ErrBidTooLow, wantDetail: "Minimum bid is $10.50"},
		{name: "at_min_increment", auction: open, bid: bid("u1", "10.50"), now: now, policy: Policy{MinIncrementPercent: d("5")}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := ValidateBid(tc.auction, tc.bid, tc.now, tc.policy)
			if tc.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.wantErr)
			if tc.wantDetail != "" {
				require.Equal(t, tc.wantDetail, err.Error())
			}

			var rej *biddingerrors.RejectionError
			if errors.As(err, &rej) {
				require.ErrorIs(t, err, biddingerrors.ErrBidRejected)
			}
		})
	}
}

func TestAmountFromFloat(t *testing.T) {
	t.Parallel()

	amt, err := AmountFromFloat(10.5)
	require.NoError(t, err)
	require.True(t, amt.Equal(d("10.5")))

	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := AmountFromFloat(f)
		require.ErrorIs(t, err, biddingerrors.ErrInvalidBid)
	}
}

func TestMinimumNextBid(t *testing.T) {
	t.Parallel()

	a := model.Auction{CurrentPrice: d("100")}
	require.True(t, MinimumNextBid(a, DefaultPolicy()).Equal(d("100")))
	require.True(t, MinimumNextBid(a, Policy{MinIncrementPercent: d("5")}).Equal(d("105")))
}
