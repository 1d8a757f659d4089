package perftests

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"auction-engine/internal/broadcaster"
	"auction-engine/internal/clock"
	model "auction-engine/internal/models"

	"github.com/shopspring/decimal"
)

// Benchmark 1: PlaceBid - Isolated Auctions (Low Contention - Micro Benchmark)
func Benchmark_PlaceBid_Isolated(b *testing.B) {
	_, svc := seedAuctions(b.N, 50)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		userID := fmt.Sprintf("user_%d", i)
		amount := decimal.NewFromInt(int64(51 + rand.Intn(100)))
		if _, err := svc.PlaceBid(ctx, auctionID(i), userID, userID, amount); err != nil {
			b.Fatalf("failed to place bid: %v", err)
		}
	}
}

// Benchmark 2: PlaceBid - Shared Auction (High Contention - Concurrency Benchmark)
func Benchmark_PlaceBid_ConcurrentSharedAuction(b *testing.B) {
	_, svc := seedAuctions(1, 50)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()

	var lastBid int64 = 50

	b.RunParallel(func(pb *testing.PB) {
		rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
		for pb.Next() {
			userID := fmt.Sprintf("user_parallel_%d", rnd.Int())
			nextBid := atomic.AddInt64(&lastBid, int64(rnd.Intn(5)+1))
			_, _ = svc.PlaceBid(ctx, auctionID(0), userID, userID, decimal.NewFromInt(nextBid))
		}
	})
}

// Benchmark 3: GetAuction - Concurrent readers on one auction
func Benchmark_GetAuction_ConcurrentSharedAuction(b *testing.B) {
	_, svc := seedAuctions(1, 50)
	ctx := context.Background()

	for j := 0; j < 100; j++ {
		userID := fmt.Sprintf("user_%d", j)
		_, _ = svc.PlaceBid(ctx, auctionID(0), userID, userID, decimal.NewFromInt(int64(51+j)))
	}

	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := svc.GetAuction(ctx, auctionID(0)); err != nil {
				b.Fatalf("failed to get auction: %v", err)
			}
		}
	})
}

// Benchmark 4: GetBids - newest page of a long history
func Benchmark_GetBids_Page(b *testing.B) {
	_, svc := seedAuctions(1, 50)
	ctx := context.Background()

	for j := 0; j < 1000; j++ {
		userID := fmt.Sprintf("user_%d", j)
		_, _ = svc.PlaceBid(ctx, auctionID(0), userID, userID, decimal.NewFromInt(int64(51+j)))
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := svc.GetBids(ctx, auctionID(0), 20); err != nil {
			b.Fatalf("failed to get bids: %v", err)
		}
	}
}

// Benchmark 5: Mixed Workload (Readers + Writers concurrently)
func Benchmark_MixedWorkload_SharedAuction(b *testing.B) {
	_, svc := seedAuctions(1, 50)
	ctx := context.Background()

	for j := 0; j < 50; j++ {
		userID := fmt.Sprintf("user_seed_%d", j)
		_, _ = svc.PlaceBid(ctx, auctionID(0), userID, userID, decimal.NewFromInt(int64(52+j*2)))
	}

	b.ReportAllocs()
	b.ResetTimer()

	var lastBid int64 = 150

	// Ratio: 70% readers, 30% writers
	b.RunParallel(func(pb *testing.PB) {
		rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
		for pb.Next() {
			if rnd.Intn(10) < 3 {
				userID := fmt.Sprintf("user_writer_%d", rnd.Int())
				nextBid := atomic.AddInt64(&lastBid, int64(rnd.Intn(5)+1))
				_, _ = svc.PlaceBid(ctx, auctionID(0), userID, userID, decimal.NewFromInt(nextBid))
				continue
			}
			_, _ = svc.GetAuction(ctx, auctionID(0))
		}
	})
}

// Benchmark 6: Broadcaster fan-out to many slow subscribers
func Benchmark_Broadcaster_Fanout(b *testing.B) {
	for _, subs := range []int{1, 16, 256} {
		b.Run(fmt.Sprintf("subscribers_%d", subs), func(b *testing.B) {
			hub := broadcaster.New(clock.Real{}, broadcaster.DefaultBuffer)
			for i := 0; i < subs; i++ {
				sub := hub.Subscribe("a1")
				b.Cleanup(sub.Close)
			}
			ev := model.Event{Type: model.EventNewBid, AuctionID: "a1", Price: decimal.NewFromInt(10)}

			b.ReportAllocs()
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				ev.Version = int64(i + 2)
				hub.Publish(ev)
			}
		})
	}
}
