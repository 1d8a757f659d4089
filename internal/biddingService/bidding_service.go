package bidding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"auction-engine/internal/biddingerrors"
	"auction-engine/internal/broadcaster"
	"auction-engine/internal/clock"
	"auction-engine/internal/models"
	"auction-engine/internal/repository"
	"auction-engine/utils"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "auction-engine/internal/biddingService"

// DefaultMaxBidAttempts bounds compare-and-update retries per bid
const DefaultMaxBidAttempts = 5

// closeAttemptFactor scales the retry bound for closing; a close must win
// against a stream of concurrent bids
const closeAttemptFactor = 4

// maxDurationHours bounds durations so EndTime stays representable as a time.Duration
const maxDurationHours = float64(math.MaxInt64) / float64(time.Hour)

// CloseNotifier is told about every auction this engine closes
type CloseNotifier interface {
	AuctionClosed(ctx context.Context, auction models.Auction, reason models.CloseReason) error
}

// CreateAuctionInput carries the fields a seller supplies for a new auction
type CreateAuctionInput struct {
	Title         string
	Description   string
	StartingPrice decimal.Decimal
	OwnerID       string
	DurationHours float64
}

// BiddingService is the auction engine: it owns every mutation of auction
// state and publishes the resulting events in commit order.
type BiddingService struct {
	store       repository.AuctionStore
	clock       clock.Clock
	policy      Policy
	maxAttempts int
	events      *broadcaster.Broadcaster
	seq         *sequencer
	notifier    CloseNotifier
	notifying   sync.WaitGroup // in-flight close-out notifications
	tracer      trace.Tracer
	meters      metric.MeterProvider
	metrics     engineMetrics
}

// Option configures a BiddingService
type Option func(*BiddingService)

// WithClock sets the time source used for deadlines and timestamps
func WithClock(c clock.Clock) Option {
	return func(s *BiddingService) { s.clock = c }
}

// WithPolicy sets the bid acceptance rules
func WithPolicy(p Policy) Option {
	return func(s *BiddingService) { s.policy = p }
}

// WithMaxBidAttempts bounds retries on concurrent writes
func WithMaxBidAttempts(n int) Option {
	return func(s *BiddingService) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithBroadcaster sets where committed events are delivered
func WithBroadcaster(b *broadcaster.Broadcaster) Option {
	return func(s *BiddingService) { s.events = b }
}

// WithNotifier sets the close-out hook
func WithNotifier(n CloseNotifier) Option {
	return func(s *BiddingService) { s.notifier = n }
}

// WithTracerProvider sets the OpenTelemetry provider for engine spans
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *BiddingService) { s.tracer = tp.Tracer(tracerName) }
}

// WithMeterProvider sets the OpenTelemetry provider for engine counters
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *BiddingService) { s.meters = mp }
}

// NewBiddingService creates a new BiddingService instance
func NewBiddingService(store repository.AuctionStore, opts ...Option) *BiddingService {
	s := &BiddingService{
		store:       store,
		clock:       clock.Real{},
		policy:      DefaultPolicy(),
		maxAttempts: DefaultMaxBidAttempts,
		tracer:      noop.NewTracerProvider().Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.events == nil {
		s.events = broadcaster.New(s.clock, broadcaster.DefaultBuffer)
	}
	s.seq = newSequencer(s.events)
	s.metrics = newEngineMetrics(s.meters)
	return s
}

// Broadcaster returns the event fan-out this engine publishes to
func (s *BiddingService) Broadcaster() *broadcaster.Broadcaster {
	return s.events
}

func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// CreateAuction validates input and persists a new active auction
func (s *BiddingService) CreateAuction(ctx context.Context, in CreateAuctionInput) (models.Auction, error) {
	ctx, span := s.tracer.Start(ctx, "BiddingService.CreateAuction",
		trace.WithAttributes(attribute.String("owner_id", in.OwnerID)),
	)
	defer span.End()

	title := strings.TrimSpace(in.Title)
	switch {
	case title == "":
		return models.Auction{}, spanErr(span, fmt.Errorf("service: %w", biddingerrors.Invalid("title is required")))
	case strings.TrimSpace(in.OwnerID) == "":
		return models.Auction{}, spanErr(span, fmt.Errorf("service: %w", biddingerrors.Invalid("owner_id is required")))
	case !in.StartingPrice.IsPositive():
		return models.Auction{}, spanErr(span, fmt.Errorf("service: %w", biddingerrors.Invalid("Starting price must be greater than 0")))
	case !(in.DurationHours > 0) || math.IsInf(in.DurationHours, 0):
		return models.Auction{}, spanErr(span, fmt.Errorf("service: %w", biddingerrors.Invalid("duration_hours must be greater than 0")))
	case in.DurationHours >= maxDurationHours:
		return models.Auction{}, spanErr(span, fmt.Errorf("service: %w", biddingerrors.Invalid("duration_hours is too large")))
	}

	now := s.clock.Now().UTC()
	auction := models.Auction{
		ID:            utils.GenerateID(),
		Title:         title,
		Description:   in.Description,
		StartingPrice: in.StartingPrice,
		CurrentPrice:  in.StartingPrice,
		EndTime:       now.Add(time.Duration(in.DurationHours * float64(time.Hour))),
		CreatedAt:     now,
		Active:        true,
		OwnerID:       in.OwnerID,
		Version:       1,
	}

	if err := s.store.Create(ctx, auction); err != nil {
		return models.Auction{}, spanErr(span, fmt.Errorf("service: failed to create auction: %w", err))
	}
	span.SetAttributes(attribute.String("auction_id", auction.ID))

	utils.Info("Auction created", map[string]any{
		"auction_id":     auction.ID,
		"owner_id":       auction.OwnerID,
		"starting_price": auction.StartingPrice.String(),
		"end_time":       auction.EndTime,
	})
	return auction, nil
}

// PlaceBid validates a bid against the latest auction state and commits it
// atomically. Concurrent writes cause a re-read and retry up to the
// configured bound, after which ErrConflict is returned.
func (s *BiddingService) PlaceBid(ctx context.Context, auctionID, bidderID, username string, amount decimal.Decimal) (models.Bid, error) {
	ctx, span := s.tracer.Start(ctx, "BiddingService.PlaceBid",
		trace.WithAttributes(
			attribute.String("auction_id", auctionID),
			attribute.String("bidder_id", bidderID),
			attribute.String("amount", amount.String()),
		),
	)
	defer span.End()

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		ticket := s.seq.begin(auctionID)

		current, err := s.store.Get(ctx, auctionID)
		if err != nil {
			ticket.abort()
			return models.Bid{}, spanErr(span, fmt.Errorf("service: failed to load auction %s: %w", auctionID, err))
		}
		ticket.observe(current.Version)

		var accepted models.Bid
		updated, err := s.store.CompareAndUpdate(ctx, auctionID, current.Version, func(a *models.Auction) (*models.Bid, error) {
			now := s.clock.Now()
			bid := models.Bid{
				ID:        utils.GenerateID(),
				AuctionID: a.ID,
				BidderID:  bidderID,
				Username:  username,
				Amount:    amount,
				Timestamp: now.UTC(),
			}
			if err := ValidateBid(*a, bid, now, s.policy); err != nil {
				return nil, err
			}

			a.CurrentPrice = amount
			a.CurrentWinner = username
			a.CurrentWinnerID = bidderID
			a.BidCount++
			accepted = bid
			return &bid, nil
		})

		switch {
		case err == nil:
			ticket.release(models.NewBidEvent(updated, accepted))
			s.metrics.bid(ctx, outcomeAccepted)
			span.SetAttributes(attribute.Int("attempts", attempt), attribute.Int64("version", updated.Version))
			utils.Info("Bid accepted", map[string]any{
				"auction_id": auctionID,
				"bid_id":     accepted.ID,
				"bidder_id":  bidderID,
				"amount":     amount.String(),
				"bid_count":  updated.BidCount,
			})
			return accepted, nil

		case errors.Is(err, biddingerrors.ErrVersionConflict):
			ticket.abort()
			s.metrics.retry(ctx)
			utils.Debug("Bid lost a concurrent write, retrying", map[string]any{
				"auction_id": auctionID,
				"attempt":    attempt,
			})
			continue

		default:
			ticket.abort()
			s.metrics.bid(ctx, outcomeRejected)
			if errors.Is(err, biddingerrors.ErrAuctionExpired) && current.Active {
				if closeErr := s.CloseAuction(ctx, auctionID, models.CloseExpired); closeErr != nil {
					utils.Warn("Failed to close expired auction on bid", map[string]any{
						"auction_id": auctionID,
						"error":      closeErr.Error(),
					})
				}
			}
			return models.Bid{}, spanErr(span, fmt.Errorf("service: bid on auction %s: %w", auctionID, err))
		}
	}

	s.metrics.bid(ctx, outcomeConflict)
	utils.Warn("Bid gave up after repeated conflicts", map[string]any{
		"auction_id": auctionID,
		"attempts":   s.maxAttempts,
	})
	return models.Bid{}, spanErr(span, fmt.Errorf("service: bid on auction %s after %d attempts: %w",
		auctionID, s.maxAttempts, biddingerrors.ErrConflict))
}

// CloseAuction marks the auction inactive and emits its terminal event. It is
// idempotent: closing a closed auction is a no-op and emits nothing.
func (s *BiddingService) CloseAuction(ctx context.Context, auctionID string, reason models.CloseReason) error {
	ctx, span := s.tracer.Start(ctx, "BiddingService.CloseAuction",
		trace.WithAttributes(
			attribute.String("auction_id", auctionID),
			attribute.String("reason", string(reason)),
		),
	)
	defer span.End()

	attempts := s.maxAttempts * closeAttemptFactor
	for attempt := 1; attempt <= attempts; attempt++ {
		ticket := s.seq.begin(auctionID)

		current, err := s.store.Get(ctx, auctionID)
		if err != nil {
			ticket.abort()
			return spanErr(span, fmt.Errorf("service: failed to load auction %s: %w", auctionID, err))
		}
		if !current.Active {
			ticket.abort()
			return nil
		}
		ticket.observe(current.Version)

		updated, err := s.store.CompareAndUpdate(ctx, auctionID, current.Version, func(a *models.Auction) (*models.Bid, error) {
			a.Active = false
			return nil, nil
		})
		if errors.Is(err, biddingerrors.ErrVersionConflict) {
			ticket.abort()
			continue
		}
		if err != nil {
			ticket.abort()
			return spanErr(span, fmt.Errorf("service: failed to close auction %s: %w", auctionID, err))
		}

		ticket.release(models.ClosedEvent(updated, reason, s.clock.Now().UTC()))
		s.metrics.close(ctx, string(reason))
		utils.Info("Auction closed", map[string]any{
			"auction_id":  auctionID,
			"reason":      string(reason),
			"final_price": updated.CurrentPrice.String(),
			"winner_id":   updated.CurrentWinnerID,
			"bid_count":   updated.BidCount,
		})
		s.notifyClosed(ctx, updated, reason)
		return nil
	}

	return spanErr(span, fmt.Errorf("service: close auction %s after %d attempts: %w",
		auctionID, attempts, biddingerrors.ErrConflict))
}

// notifyClosed hands the closed auction to the notifier on its own goroutine
// so a slow sender never holds up the bid or tick that closed it.
func (s *BiddingService) notifyClosed(ctx context.Context, auction models.Auction, reason models.CloseReason) {
	if s.notifier == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	s.notifying.Add(1)
	go func() {
		defer s.notifying.Done()
		if err := s.notifier.AuctionClosed(ctx, auction, reason); err != nil {
			utils.Warn("Close-out notification failed", map[string]any{
				"auction_id": auction.ID,
				"error":      err.Error(),
			})
		}
	}()
}

// Wait blocks until every close-out notification already dispatched has
// finished. Call it on shutdown after the scheduler and server have stopped.
func (s *BiddingService) Wait() {
	s.notifying.Wait()
}

// CloseByOwner closes the auction on behalf of requesterID, who must own it
func (s *BiddingService) CloseByOwner(ctx context.Context, auctionID, requesterID string) error {
	if requesterID == "" {
		return fmt.Errorf("service: %w", biddingerrors.Invalid("Missing user_id"))
	}

	auction, err := s.GetAuction(ctx, auctionID)
	if err != nil {
		return err
	}
	if auction.OwnerID != requesterID {
		return fmt.Errorf("service: user %s on auction %s: %w", requesterID, auctionID, biddingerrors.ErrNotOwner)
	}
	return s.CloseAuction(ctx, auctionID, models.CloseManual)
}

// GetAuction returns the latest committed state of an auction
func (s *BiddingService) GetAuction(ctx context.Context, auctionID string) (models.Auction, error) {
	ctx, span := s.tracer.Start(ctx, "BiddingService.GetAuction",
		trace.WithAttributes(attribute.String("auction_id", auctionID)),
	)
	defer span.End()

	if auctionID == "" {
		return models.Auction{}, spanErr(span, fmt.Errorf("service: %w", biddingerrors.Invalid("empty auction ID")))
	}

	auction, err := s.store.Get(ctx, auctionID)
	if err != nil {
		return models.Auction{}, spanErr(span, fmt.Errorf("service: failed to get auction %s: %w", auctionID, err))
	}
	return auction, nil
}

// ListActiveAuctions returns every auction still accepting bids
func (s *BiddingService) ListActiveAuctions(ctx context.Context) ([]models.Auction, error) {
	ctx, span := s.tracer.Start(ctx, "BiddingService.ListActiveAuctions")
	defer span.End()

	auctions, err := s.store.ListActive(ctx)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("service: failed to list active auctions: %w", err))
	}
	span.SetAttributes(attribute.Int("count", len(auctions)))
	return auctions, nil
}

// GetBids returns up to limit accepted bids for an auction, newest first
func (s *BiddingService) GetBids(ctx context.Context, auctionID string, limit int) ([]models.Bid, error) {
	ctx, span := s.tracer.Start(ctx, "BiddingService.GetBids",
		trace.WithAttributes(attribute.String("auction_id", auctionID), attribute.Int("limit", limit)),
	)
	defer span.End()

	bids, err := s.store.ListBids(ctx, auctionID, limit)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("service: failed to get bids for auction %s: %w", auctionID, err))
	}
	return bids, nil
}

// Subscribe opens an event stream for an existing auction
func (s *BiddingService) Subscribe(ctx context.Context, auctionID string) (*broadcaster.Subscription, error) {
	if _, err := s.GetAuction(ctx, auctionID); err != nil {
		return nil, err
	}
	return s.events.Subscribe(auctionID), nil
}

// Ping reports whether the backing store is reachable
func (s *BiddingService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
