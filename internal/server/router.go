package server

import (
	"net/http"
	"time"

	handler "auction-engine/services/bidding/handler"

	"github.com/gin-gonic/gin"
)

// RouterOptions tunes the HTTP surface
type RouterOptions struct {
	// CORSOrigins lists origins allowed to call the API from a browser.
	// "*" allows any origin.
	CORSOrigins []string
	// WSPingInterval is the WebSocket keepalive period; zero uses the default
	WSPingInterval time.Duration
	// Now stamps health responses; nil uses time.Now
	Now func() time.Time
}

// SetupRouter configures all Gin routes for the application
func SetupRouter(biddingService handler.BiddingServiceInterface, opts RouterOptions) *gin.Engine {
	router := gin.New() // New router without default middleware for full control over middleware and logging

	router.Use(gin.Recovery())                   // recover from panics
	router.Use(RequestLoggerMiddleware)          // custom request logging
	router.Use(CORSMiddleware(opts.CORSOrigins)) // browser clients

	handlerOpts := []handler.Option{
		handler.WithPingInterval(opts.WSPingInterval),
		handler.WithOriginCheck(func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || originAllowed(opts.CORSOrigins, origin)
		}),
	}
	if opts.Now != nil {
		handlerOpts = append(handlerOpts, handler.WithNow(opts.Now))
	}
	biddingHandler := handler.NewBiddingHandler(biddingService, handlerOpts...)

	api := router.Group("/api")
	{
		api.GET("/health", biddingHandler.HealthHandler)
	}

	auctions := api.Group("/auctions")
	{
		auctions.GET("", biddingHandler.ListAuctionsHandler)
		auctions.POST("", biddingHandler.CreateAuctionHandler)
		auctions.GET("/:id", biddingHandler.GetAuctionHandler)
		auctions.POST("/:id/bids", biddingHandler.PlaceBidHandler)
		auctions.GET("/:id/bids", biddingHandler.GetBidsHandler)
		auctions.POST("/:id/close", biddingHandler.CloseAuctionHandler)
		auctions.GET("/:id/stream", biddingHandler.StreamHandler)
		auctions.GET("/:id/ws", biddingHandler.WebSocketHandler)
	}

	return router
}
