package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"auction-engine/internal/biddingerrors"
	model "auction-engine/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// Helper to create a new active auction
func newAuction(owner, price string, createdAt time.Time) model.Auction {
	p := decimal.RequireFromString(price)
	return model.Auction{
		ID:            uuid.NewString(),
		Title:         "Lot " + owner,
		Description:   fmt.Sprintf("%s's lot", owner),
		StartingPrice: p,
		CurrentPrice:  p,
		EndTime:       createdAt.Add(time.Hour),
		CreatedAt:     createdAt,
		Active:        true,
		OwnerID:       owner,
		Version:       1,
	}
}

// raiseTo returns a mutator accepting amount when it beats the current price
func raiseTo(bidder, amount string, at time.Time) Mutator {
	return func(a *model.Auction) (*model.Bid, error) {
		amt := decimal.RequireFromString(amount)
		if !amt.GreaterThan(a.CurrentPrice) {
			return nil, biddingerrors.Reject(biddingerrors.ErrBidTooLow, "too low")
		}
		a.CurrentPrice = amt
		a.CurrentWinner = "name-" + bidder
		a.CurrentWinnerID = bidder
		a.BidCount++
		return &model.Bid{
			ID:        uuid.NewString(),
			BidderID:  bidder,
			Username:  "name-" + bidder,
			Amount:    amt,
			Timestamp: at,
		}, nil
	}
}

// runStoreContract exercises behaviour every AuctionStore must share
func runStoreContract(t *testing.T, store AuctionStore) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("create_and_get", func(t *testing.T) {
		t.Parallel()

		a := newAuction("owner-1", "10.00", now)
		require.NoError(t, store.Create(ctx, a))

		got, err := store.Get(ctx, a.ID)
		require.NoError(t, err)
		require.Equal(t, a.ID, got.ID)
		require.Equal(t, a.Title, got.Title)
		require.Equal(t, a.OwnerID, got.OwnerID)
		require.True(t, got.StartingPrice.Equal(a.StartingPrice))
		require.True(t, got.CurrentPrice.Equal(a.CurrentPrice))
		require.True(t, got.EndTime.Equal(a.EndTime))
		require.True(t, got.Active)
		require.Equal(t, int64(1), got.Version)
	})

	t.Run("duplicate_id", func(t *testing.T) {
		t.Parallel()

		a := newAuction("owner-2", "5", now)
		require.NoError(t, store.Create(ctx, a))
		err := store.Create(ctx, a)
		require.ErrorIs(t, err, biddingerrors.ErrDuplicateID)
	})

	t.Run("get_unknown", func(t *testing.T) {
		t.Parallel()

		_, err := store.Get(ctx, uuid.NewString())
		require.ErrorIs(t, err, biddingerrors.ErrAuctionNotFound)

		_, err = store.CompareAndUpdate(ctx, uuid.NewString(), 1, raiseTo("u", "1", now))
		require.ErrorIs(t, err, biddingerrors.ErrAuctionNotFound)

		_, err = store.ListBids(ctx, uuid.NewString(), 0)
		require.ErrorIs(t, err, biddingerrors.ErrAuctionNotFound)
	})

	t.Run("compare_and_update_commits_bid", func(t *testing.T) {
		t.Parallel()

		a := newAuction("owner-3", "10.00", now)
		require.NoError(t, store.Create(ctx, a))

		updated, err := store.CompareAndUpdate(ctx, a.ID, 1, raiseTo("bidder-1", "10.50", now.Add(time.Minute)))
		require.NoError(t, err)
		require.Equal(t, int64(2), updated.Version)
		require.Equal(t, 1, updated.BidCount)
		require.True(t, updated.CurrentPrice.Equal(decimal.RequireFromString("10.50")))
		require.Equal(t, "bidder-1", updated.CurrentWinnerID)

		bids, err := store.ListBids(ctx, a.ID, 0)
		require.NoError(t, err)
		require.Len(t, bids, 1)
		require.Equal(t, a.ID, bids[0].AuctionID)
		require.Equal(t, "bidder-1", bids[0].BidderID)
		require.True(t, bids[0].Amount.Equal(decimal.RequireFromString("10.5")))
	})

	t.Run("stale_version_conflicts", func(t *testing.T) {
		t.Parallel()

		a := newAuction("owner-4", "10", now)
		require.NoError(t, store.Create(ctx, a))
		_, err := store.CompareAndUpdate(ctx, a.ID, 1, raiseTo("b1", "11", now))
		require.NoError(t, err)

		_, err = store.CompareAndUpdate(ctx, a.ID, 1, raiseTo("b2", "12", now))
		require.ErrorIs(t, err, biddingerrors.ErrVersionConflict)

		got, err := store.Get(ctx, a.ID)
		require.NoError(t, err)
		require.Equal(t, "b1", got.CurrentWinnerID)
		require.Equal(t, int64(2), got.Version)
	})

	t.Run("mutator_error_leaves_record", func(t *testing.T) {
		t.Parallel()

		a := newAuction("owner-5", "10", now)
		require.NoError(t, store.Create(ctx, a))

		_, err := store.CompareAndUpdate(ctx, a.ID, 1, raiseTo("b1", "9", now))
		require.ErrorIs(t, err, biddingerrors.ErrBidRejected)
		require.ErrorIs(t, err, biddingerrors.ErrBidTooLow)

		got, err := store.Get(ctx, a.ID)
		require.NoError(t, err)
		require.Equal(t, int64(1), got.Version)
		require.Zero(t, got.BidCount)
	})

	t.Run("mutator_cannot_change_identity", func(t *testing.T) {
		t.Parallel()

		a := newAuction("owner-6", "10", now)
		require.NoError(t, store.Create(ctx, a))

		got, err := store.CompareAndUpdate(ctx, a.ID, 1, func(m *model.Auction) (*model.Bid, error) {
			m.OwnerID = "thief"
			m.Version = 99
			return nil, nil
		})
		require.NoError(t, err)
		require.Equal(t, "owner-6", got.OwnerID)
		require.Equal(t, int64(2), got.Version)
	})

	t.Run("close_removes_from_active", func(t *testing.T) {
		t.Parallel()

		open := newAuction("owner-7", "10", now)
		closed := newAuction("owner-7", "10", now.Add(time.Second))
		require.NoError(t, store.Create(ctx, open))
		require.NoError(t, store.Create(ctx, closed))

		_, err := store.CompareAndUpdate(ctx, closed.ID, 1, func(m *model.Auction) (*model.Bid, error) {
			m.Active = false
			return nil, nil
		})
		require.NoError(t, err)

		active, err := store.ListActive(ctx)
		require.NoError(t, err)
		ids := map[string]bool{}
		for _, a := range active {
			ids[a.ID] = true
			require.True(t, a.Active)
		}
		require.True(t, ids[open.ID])
		require.False(t, ids[closed.ID])
	})

	t.Run("list_bids_newest_first_with_limit", func(t *testing.T) {
		t.Parallel()

		a := newAuction("owner-8", "1", now)
		require.NoError(t, store.Create(ctx, a))
		for i := 0; i < 5; i++ {
			_, err := store.CompareAndUpdate(ctx, a.ID, int64(i+1),
				raiseTo(fmt.Sprintf("b%d", i), fmt.Sprintf("%d", i+2), now.Add(time.Duration(i)*time.Second)))
			require.NoError(t, err)
		}

		all, err := store.ListBids(ctx, a.ID, 0)
		require.NoError(t, err)
		require.Len(t, all, 5)
		require.Equal(t, "b4", all[0].BidderID)
		require.Equal(t, "b0", all[4].BidderID)

		top, err := store.ListBids(ctx, a.ID, 2)
		require.NoError(t, err)
		require.Len(t, top, 2)
		require.Equal(t, "b4", top[0].BidderID)
		require.Equal(t, "b3", top[1].BidderID)
	})

	t.Run("no_bids_is_empty_not_nil", func(t *testing.T) {
		t.Parallel()

		a := newAuction("owner-9", "1", now)
		require.NoError(t, store.Create(ctx, a))
		bids, err := store.ListBids(ctx, a.ID, 10)
		require.NoError(t, err)
		require.NotNil(t, bids)
		require.Empty(t, bids)
	})

	// concurrency test
	t.Run("concurrent_compare_and_update", func(t *testing.T) {
		t.Parallel()

		a := newAuction("owner-10", "100", now)
		require.NoError(t, store.Create(ctx, a))

		var wg sync.WaitGroup
		var mu sync.Mutex
		accepted := 0
		concurrentCount := 20

		for i := 0; i < concurrentCount; i++ {
			wg.Add(1)
			i := i
			go func() {
				defer wg.Done()
				for {
					cur, err := store.Get(ctx, a.ID)
					if err != nil {
						t.Errorf("get: %v", err)
						return
					}
					_, err = store.CompareAndUpdate(ctx, a.ID, cur.Version,
						raiseTo(fmt.Sprintf("u%d", i), fmt.Sprintf("%d", 101+i), now))
					switch {
					case err == nil:
						mu.Lock()
						accepted++
						mu.Unlock()
						return
					case errors.Is(err, biddingerrors.ErrVersionConflict):
						continue
					case errors.Is(err, biddingerrors.ErrBidTooLow):
						return
					default:
						t.Errorf("update: %v", err)
						return
					}
				}
			}()
		}
		wg.Wait()

		got, err := store.Get(ctx, a.ID)
		require.NoError(t, err)
		require.True(t, got.CurrentPrice.Equal(decimal.NewFromInt(int64(100+concurrentCount))))
		require.Equal(t, accepted, got.BidCount)
		require.Equal(t, int64(accepted+1), got.Version)

		bids, err := store.ListBids(ctx, a.ID, 0)
		require.NoError(t, err)
		require.Len(t, bids, accepted)
		for i := 1; i < len(bids); i++ {
			require.True(t, bids[i-1].Amount.GreaterThan(bids[i].Amount), "history must be strictly increasing")
		}
	})

	t.Run("ping", func(t *testing.T) {
		t.Parallel()
		require.NoError(t, store.Ping(ctx))
	})
}
