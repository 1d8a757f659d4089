package integrationtests

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	bidding "auction-engine/internal/biddingService"
	"auction-engine/internal/clock"
	model "auction-engine/internal/models"
	"auction-engine/internal/repository"
	"auction-engine/internal/scheduler"
	"auction-engine/internal/server"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// testEnv bundles a router with the engine and clock behind it
type testEnv struct {
	Router    *gin.Engine
	Service   *bidding.BiddingService
	Clock     *clock.Mock
	Scheduler *scheduler.ExpiryScheduler
}

// SetupTestRouter initializes the router over the given store for integration testing.
func SetupTestRouter(store repository.AuctionStore) *testEnv {
	gin.SetMode(gin.TestMode)
	clk := clock.NewMock(epoch)
	service := bidding.NewBiddingService(store, bidding.WithClock(clk))
	return &testEnv{
		Router:    server.SetupRouter(service, server.RouterOptions{CORSOrigins: []string{"*"}, Now: clk.Now}),
		Service:   service,
		Clock:     clk,
		Scheduler: scheduler.NewExpiryScheduler(service, clk, time.Second),
	}
}

// SetupTestRouterWithAuctions initializes the router and seeds a memory repo with auctions.
func SetupTestRouterWithAuctions(auctions ...model.Auction) *testEnv {
	repo := repository.NewMemoryRepo()
	for _, a := range auctions {
		repo.AddAuction(a)
	}
	return SetupTestRouter(repo)
}

// openAuction returns an active auction created at epoch and lasting an hour
func openAuction(id, owner, price string) model.Auction {
	p := decimal.RequireFromString(price)
	return model.Auction{
		ID:            id,
		Title:         "title-" + id,
		Description:   "description-" + id,
		StartingPrice: p,
		CurrentPrice:  p,
		EndTime:       epoch.Add(time.Hour),
		CreatedAt:     epoch,
		Active:        true,
		OwnerID:       owner,
		Version:       1,
	}
}

// ExecuteRequestAndParse executes an HTTP request on the given router and parses the response
func ExecuteRequestAndParse(t *testing.T, router *gin.Engine, method, url string, body any) (map[string]any, *httptest.ResponseRecorder) {
	t.Helper()

	var reqBody []byte
	var err error

	switch v := body.(type) {
	case nil:
	case []byte:
		reqBody = v
	case string:
		reqBody = []byte(v)
	default:
		reqBody, err = json.Marshal(v)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, url, bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	var resp map[string]any
	if len(w.Body.Bytes()) > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal response: %v", err)
		}
	}

	return resp, w
}
