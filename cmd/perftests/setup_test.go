package perftests

import (
	"fmt"
	"time"

	bidding "auction-engine/internal/biddingService"
	model "auction-engine/internal/models"
	"auction-engine/internal/repository"

	"github.com/shopspring/decimal"
)

// seedAuctions creates a memory-backed engine holding n open auctions
func seedAuctions(n int, startingPrice int64) (*repository.MemoryRepo, *bidding.BiddingService) {
	repo := repository.NewMemoryRepo()
	svc := bidding.NewBiddingService(repo)

	now := time.Now()
	price := decimal.NewFromInt(startingPrice)
	for i := 0; i < n; i++ {
		repo.AddAuction(model.Auction{
			ID:            auctionID(i),
			Title:         fmt.Sprintf("title_%d", i),
			Description:   "Load test auction",
			StartingPrice: price,
			CurrentPrice:  price,
			EndTime:       now.Add(24 * time.Hour),
			CreatedAt:     now,
			Active:        true,
			OwnerID:       "seller",
			Version:       1,
		})
	}
	return repo, svc
}

func auctionID(i int) string {
	return fmt.Sprintf("auction_%d", i)
}
