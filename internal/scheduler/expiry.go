package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auction-engine/internal/clock"
	"auction-engine/internal/models"
	"auction-engine/utils"
)

// DefaultInterval is how often overdue auctions are looked for
const DefaultInterval = 5 * time.Second

// AuctionCloser is the slice of the auction engine the scheduler drives
type AuctionCloser interface {
	ListActiveAuctions(ctx context.Context) ([]models.Auction, error)
	CloseAuction(ctx context.Context, auctionID string, reason models.CloseReason) error
}

// ExpiryScheduler periodically closes active auctions whose deadline passed
type ExpiryScheduler struct {
	engine   AuctionCloser
	clock    clock.Clock
	interval time.Duration
}

// NewExpiryScheduler creates a scheduler ticking every interval
func NewExpiryScheduler(engine AuctionCloser, clk clock.Clock, interval time.Duration) *ExpiryScheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &ExpiryScheduler{engine: engine, clock: clk, interval: interval}
}

// Tick closes every overdue auction once and returns how many it closed.
// A failure on one auction does not stop the others.
func (s *ExpiryScheduler) Tick(ctx context.Context) (int, error) {
	auctions, err := s.engine.ListActiveAuctions(ctx)
	if err != nil {
		return 0, fmt.Errorf("scheduler: list active auctions: %w", err)
	}

	now := s.clock.Now()
	closed := 0
	var errs []error
	for _, a := range auctions {
		if !a.Expired(now) {
			continue
		}
		if err := s.engine.CloseAuction(ctx, a.ID, models.CloseExpired); err != nil {
			errs = append(errs, fmt.Errorf("close auction %s: %w", a.ID, err))
			continue
		}
		closed++
	}

	if closed > 0 {
		utils.Info("Expired auctions closed", map[string]any{"count": closed})
	}
	return closed, errors.Join(errs...)
}

// Run ticks until ctx is cancelled
func (s *ExpiryScheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	utils.Info("Expiry scheduler started", map[string]any{"interval": s.interval.String()})
	for {
		select {
		case <-ctx.Done():
			utils.Info("Expiry scheduler stopped", nil)
			return nil
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				utils.Error("Expiry tick failed", map[string]any{"error": err.Error()})
			}
		}
	}
}
