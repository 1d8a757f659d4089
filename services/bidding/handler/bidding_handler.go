package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	bidding "auction-engine/internal/biddingService"
	"auction-engine/internal/broadcaster"
	model "auction-engine/internal/models"
	"auction-engine/services/bidding/helpers"
	"auction-engine/utils"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=bidding_handler.go -destination=mock_service.go -package=handler

// defaultBidsLimit caps bid history in responses when the caller gives none
const defaultBidsLimit = 20

type BiddingServiceInterface interface {
	CreateAuction(ctx context.Context, in bidding.CreateAuctionInput) (model.Auction, error)
	ListActiveAuctions(ctx context.Context) ([]model.Auction, error)
	GetAuction(ctx context.Context, auctionID string) (model.Auction, error)
	GetBids(ctx context.Context, auctionID string, limit int) ([]model.Bid, error)
	PlaceBid(ctx context.Context, auctionID, bidderID, username string, amount decimal.Decimal) (model.Bid, error)
	CloseByOwner(ctx context.Context, auctionID, requesterID string) error
	Subscribe(ctx context.Context, auctionID string) (*broadcaster.Subscription, error)
	Ping(ctx context.Context) error
}

type BiddingHandler struct {
	service      BiddingServiceInterface
	now          func() time.Time
	pingInterval time.Duration
	checkOrigin  func(r *http.Request) bool
}

// Option configures a BiddingHandler
type Option func(*BiddingHandler)

// WithNow overrides the clock used for health timestamps
func WithNow(now func() time.Time) Option {
	return func(h *BiddingHandler) { h.now = now }
}

// WithPingInterval sets the WebSocket keepalive period
func WithPingInterval(d time.Duration) Option {
	return func(h *BiddingHandler) {
		if d > 0 {
			h.pingInterval = d
		}
	}
}

// WithOriginCheck restricts which origins may open a WebSocket
func WithOriginCheck(check func(r *http.Request) bool) Option {
	return func(h *BiddingHandler) {
		if check != nil {
			h.checkOrigin = check
		}
	}
}

func NewBiddingHandler(service BiddingServiceInterface, opts ...Option) *BiddingHandler {
	h := &BiddingHandler{
		service:      service,
		now:          time.Now,
		pingInterval: defaultPingInterval,
		checkOrigin:  func(*http.Request) bool { return true },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// CreateAuctionHandler handles POST /auctions
func (h *BiddingHandler) CreateAuctionHandler(c *gin.Context) {
	var req helpers.CreateAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "CreateAuctionHandler", err)
		return
	}

	price, err := bidding.AmountFromFloat(req.StartingPrice)
	if err != nil {
		helpers.HandleServiceError(c, "CreateAuctionHandler", err, nil)
		return
	}

	auction, err := h.service.CreateAuction(c.Request.Context(), bidding.CreateAuctionInput{
		Title:         req.Title,
		Description:   req.Description,
		StartingPrice: price,
		OwnerID:       req.OwnerID,
		DurationHours: req.Duration(),
	})
	if err != nil {
		helpers.HandleServiceError(c, "CreateAuctionHandler", err, map[string]any{"owner_id": req.OwnerID})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, gin.H{"auction": helpers.NewAuctionResponse(auction)}, "Auction created successfully")
	helpers.LogSuccess("CreateAuctionHandler", "auction created", map[string]any{
		"auction_id": auction.ID,
		"owner_id":   auction.OwnerID,
		"end_time":   auction.EndTime,
	})
}

// ListAuctionsHandler handles GET /auctions
func (h *BiddingHandler) ListAuctionsHandler(c *gin.Context) {
	auctions, err := h.service.ListActiveAuctions(c.Request.Context())
	if err != nil {
		helpers.HandleServiceError(c, "ListAuctionsHandler", err, nil)
		return
	}

	utils.JSONResponse(c, http.StatusOK, gin.H{
		"auctions": helpers.NewAuctionResponses(auctions),
		"count":    len(auctions),
	}, "auctions retrieved successfully")
}

// GetAuctionHandler handles GET /auctions/:id
func (h *BiddingHandler) GetAuctionHandler(c *gin.Context) {
	auctionID := c.Param("id")
	ctx := c.Request.Context()

	auction, err := h.service.GetAuction(ctx, auctionID)
	if err != nil {
		helpers.HandleServiceError(c, "GetAuctionHandler", err, map[string]any{"auction_id": auctionID})
		return
	}
	bids, err := h.service.GetBids(ctx, auctionID, defaultBidsLimit)
	if err != nil {
		helpers.HandleServiceError(c, "GetAuctionHandler", err, map[string]any{"auction_id": auctionID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, gin.H{
		"auction": helpers.NewAuctionResponse(auction),
		"bids":    helpers.NewBidResponses(bids),
	}, "auction retrieved successfully")
}

// PlaceBidHandler handles POST /auctions/:id/bids
func (h *BiddingHandler) PlaceBidHandler(c *gin.Context) {
	auctionID := c.Param("id")

	var req helpers.PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "PlaceBidHandler", err)
		return
	}

	fields := map[string]any{"auction_id": auctionID, "user_id": req.UserID, "amount": req.Amount}

	amount, err := bidding.AmountFromFloat(req.Amount)
	if err != nil {
		helpers.HandleServiceError(c, "PlaceBidHandler", err, fields)
		return
	}

	bid, err := h.service.PlaceBid(c.Request.Context(), auctionID, req.UserID, req.DisplayName(), amount)
	if err != nil {
		helpers.HandleServiceError(c, "PlaceBidHandler", err, fields)
		return
	}

	utils.JSONResponse(c, http.StatusCreated, gin.H{"bid": helpers.NewBidResponse(bid)}, "Bid placed successfully")
	fields["bid_id"] = bid.ID
	helpers.LogSuccess("PlaceBidHandler", "bid placed", fields)
}

// GetBidsHandler handles GET /auctions/:id/bids?limit=N
func (h *BiddingHandler) GetBidsHandler(c *gin.Context) {
	auctionID := c.Param("id")

	limit := defaultBidsLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			helpers.HandleBindError(c, "GetBidsHandler", fmt.Errorf("limit %q must be a positive integer", raw))
			return
		}
		limit = n
	}

	bids, err := h.service.GetBids(c.Request.Context(), auctionID, limit)
	if err != nil {
		helpers.HandleServiceError(c, "GetBidsHandler", err, map[string]any{"auction_id": auctionID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, gin.H{"bids": helpers.NewBidResponses(bids)}, "bids retrieved successfully")
}

// CloseAuctionHandler handles POST /auctions/:id/close
func (h *BiddingHandler) CloseAuctionHandler(c *gin.Context) {
	auctionID := c.Param("id")

	// an empty body falls through so the service reports the missing user_id
	var req helpers.CloseAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		helpers.HandleBindError(c, "CloseAuctionHandler", err)
		return
	}

	if err := h.service.CloseByOwner(c.Request.Context(), auctionID, req.UserID); err != nil {
		helpers.HandleServiceError(c, "CloseAuctionHandler", err, map[string]any{
			"auction_id": auctionID,
			"user_id":    req.UserID,
		})
		return
	}

	utils.JSONResponse(c, http.StatusOK, nil, "Auction closed successfully")
	helpers.LogSuccess("CloseAuctionHandler", "auction closed", map[string]any{
		"auction_id": auctionID,
		"user_id":    req.UserID,
	})
}

// HealthHandler handles GET /health. The body is the plain health document
// monitoring scripts expect, without the response envelope.
func (h *BiddingHandler) HealthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	connected := true
	if err := h.service.Ping(ctx); err != nil {
		status = "degraded"
		connected = false
		utils.Warn("HealthHandler: store ping failed", map[string]any{"error": err.Error()})
	}

	c.JSON(http.StatusOK, gin.H{
		"status":          status,
		"timestamp":       h.now().UTC().Format(time.RFC3339),
		"redis_connected": connected,
	})
}
