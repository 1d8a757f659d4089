package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"auction-engine/internal/biddingerrors"
	bidding "auction-engine/internal/biddingService"
	"auction-engine/internal/clock"
	"auction-engine/internal/models"
	"auction-engine/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type stubCloser struct {
	mu       sync.Mutex
	auctions []models.Auction
	listErr  error
	failID   string
	closed   []string
}

func (s *stubCloser) ListActiveAuctions(context.Context) ([]models.Auction, error) {
	return s.auctions, s.listErr
}

func (s *stubCloser) CloseAuction(_ context.Context, id string, reason models.CloseReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if reason != models.CloseExpired {
		return errors.New("unexpected reason")
	}
	if id == s.failID {
		return biddingerrors.ErrStorageUnavailable
	}
	s.closed = append(s.closed, id)
	return nil
}

func TestTick(t *testing.T) {
	t.Parallel()

	due := models.Auction{ID: "due", EndTime: start.Add(-time.Second), Active: true}
	exact := models.Auction{ID: "exact", EndTime: start, Active: true}
	future := models.Auction{ID: "future", EndTime: start.Add(time.Minute), Active: true}
	broken := models.Auction{ID: "broken", EndTime: start.Add(-time.Hour), Active: true}

	tests := []struct {
		name       string
		closer     *stubCloser
		wantClosed []string
		wantErr    error
	}{
		{
			name:       "closes_only_overdue",
			closer:     &stubCloser{auctions: []models.Auction{due, exact, future}},
			wantClosed: []string{"due", "exact"},
		},
		{
			name:       "one_failure_does_not_stop_others",
			closer:     &stubCloser{auctions: []models.Auction{broken, due}, failID: "broken"},
			wantClosed: []string{"due"},
			wantErr:    biddingerrors.ErrStorageUnavailable,
		},
		{
			name:    "list_failure",
			closer:  &stubCloser{listErr: biddingerrors.ErrStorageUnavailable},
			wantErr: biddingerrors.ErrStorageUnavailable,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s := NewExpiryScheduler(tc.closer, clock.NewMock(start), time.Second)
			n, err := s.Tick(context.Background())
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, len(tc.wantClosed), n)
			require.ElementsMatch(t, tc.wantClosed, tc.closer.closed)
		})
	}
}

func TestTick_ClosesOverdueAuctionThroughEngine(t *testing.T) {
	t.Parallel()

	clk := clock.NewMock(start)
	svc := bidding.NewBiddingService(repository.NewMemoryRepo(), bidding.WithClock(clk))
	ctx := context.Background()

	a, err := svc.CreateAuction(ctx, bidding.CreateAuctionInput{
		Title:         "Clock",
		StartingPrice: decimal.NewFromInt(10),
		OwnerID:       "seller",
		DurationHours: 1,
	})
	require.NoError(t, err)

	sub, err := svc.Subscribe(ctx, a.ID)
	require.NoError(t, err)
	defer sub.Close()

	s := NewExpiryScheduler(svc, clk, time.Second)
	n, err := s.Tick(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	clk.Advance(time.Hour + time.Second)
	n, err = s.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := svc.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	require.False(t, got.Active)

	_, err = svc.PlaceBid(ctx, a.ID, "buyer", "Buyer", decimal.NewFromInt(20))
	require.ErrorIs(t, err, biddingerrors.ErrBidRejected)

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	first, _ := sub.Next(waitCtx)
	require.Equal(t, models.EventConnected, first.Type)
	ended, ok := sub.Next(waitCtx)
	require.True(t, ok)
	require.Equal(t, models.EventAuctionEnded, ended.Type)

	// a second tick finds nothing left to close
	n, err = s.Tick(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()

	closer := &stubCloser{auctions: []models.Auction{{ID: "due", EndTime: start.Add(-time.Minute), Active: true}}}
	s := NewExpiryScheduler(closer, clock.NewMock(start), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		closer.mu.Lock()
		defer closer.mu.Unlock()
		return len(closer.closed) > 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestNewExpiryScheduler_DefaultInterval(t *testing.T) {
	t.Parallel()

	s := NewExpiryScheduler(&stubCloser{}, clock.Real{}, 0)
	require.Equal(t, DefaultInterval, s.interval)
}
