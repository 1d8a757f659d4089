package app

import (
	"context"
	"fmt"

	bidding "auction-engine/internal/biddingService"

	"github.com/shopspring/decimal"
)

// demoAuctions are created by Seed so a fresh server has something to bid on
var demoAuctions = []bidding.CreateAuctionInput{
	{Title: "Vintage Watch", Description: "Swiss movement, 1960s, serviced", StartingPrice: decimal.NewFromInt(100), OwnerID: "seller1", DurationHours: 24},
	{Title: "Signed Guitar", Description: "Acoustic, signed on the headstock", StartingPrice: decimal.NewFromInt(200), OwnerID: "seller2", DurationHours: 48},
	{Title: "First Edition Novel", Description: "Hardcover, dust jacket intact", StartingPrice: decimal.NewFromInt(150), OwnerID: "seller1", DurationHours: 12},
}

// Seed creates the demo auctions and returns their ids
func (a *App) Seed(ctx context.Context) ([]string, error) {
	ids := make([]string, 0, len(demoAuctions))
	for _, in := range demoAuctions {
		auction, err := a.Engine.CreateAuction(ctx, in)
		if err != nil {
			return ids, fmt.Errorf("app: seed %q: %w", in.Title, err)
		}
		ids = append(ids, auction.ID)
	}
	return ids, nil
}
