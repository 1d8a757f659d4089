package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"auction-engine/internal/biddingerrors"
	"auction-engine/internal/broadcaster"
	"auction-engine/internal/clock"
	model "auction-engine/internal/models"
	"auction-engine/services/bidding/helpers"

	"github.com/golang/mock/gomock"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func bidEvent(auctionID string, version int64, amount string, at time.Time) model.Event {
	a := model.Auction{
		ID:              auctionID,
		Version:         version,
		CurrentPrice:    decimal.RequireFromString(amount),
		CurrentWinner:   "alice",
		CurrentWinnerID: "u1",
		BidCount:        int(version - 1),
	}
	return model.NewBidEvent(a, model.Bid{
		ID:        "bid-" + amount,
		AuctionID: auctionID,
		BidderID:  "u1",
		Username:  "alice",
		Amount:    decimal.RequireFromString(amount),
		Timestamp: at,
	})
}

// readSSE returns the next data frame from an event stream
func readSSE(t *testing.T, r *bufio.Reader) helpers.EventMessage {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var msg helpers.EventMessage
		require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &msg))
		return msg
	}
}

func TestStreamHandler(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	hub := broadcaster.New(clock.NewMock(now), 8)

	mockService := NewMockBiddingServiceInterface(ctrl)
	mockService.EXPECT().Subscribe(gomock.Any(), "a1").
		DoAndReturn(func(_ context.Context, id string) (*broadcaster.Subscription, error) {
			return hub.Subscribe(id), nil
		})

	srv := httptest.NewServer(newTestRouter(NewBiddingHandler(mockService)))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/auctions/a1/stream", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")
	require.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	require.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))

	r := bufio.NewReader(resp.Body)
	first := readSSE(t, r)
	require.Equal(t, "connected", first.Type)
	require.Equal(t, "a1", first.AuctionID)

	hub.Publish(bidEvent("a1", 2, "10.50", now))
	hub.Publish(model.ClosedEvent(model.Auction{
		ID: "a1", Version: 3, BidCount: 1, CurrentPrice: decimal.RequireFromString("10.50"),
		CurrentWinner: "alice", CurrentWinnerID: "u1",
	}, model.CloseManual, now))

	bid := readSSE(t, r)
	require.Equal(t, "new_bid", bid.Type)
	require.NotNil(t, bid.Bid)
	require.Equal(t, 10.5, bid.Bid.Amount)
	require.Equal(t, 10.5, *bid.CurrentPrice)
	require.Equal(t, 1, *bid.BidCount)

	closed := readSSE(t, r)
	require.Equal(t, "auction_closed", closed.Type)
	require.Equal(t, 10.5, *closed.FinalPrice)
	require.Equal(t, "alice", *closed.Winner)

	cancel()
	require.Eventually(t, func() bool { return hub.SubscriberCount("a1") == 0 },
		2*time.Second, 10*time.Millisecond, "disconnect must release the subscription")
}

func TestStreamHandler_UnknownAuction(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockService := NewMockBiddingServiceInterface(ctrl)
	mockService.EXPECT().Subscribe(gomock.Any(), "missing").Return(nil, biddingerrors.ErrAuctionNotFound)

	w := httptest.NewRecorder()
	newTestRouter(NewBiddingHandler(mockService)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auctions/missing/stream", nil))

	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), "Auction not found")
}

func TestWebSocketHandler(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	hub := broadcaster.New(clock.NewMock(now), 8)

	mockService := NewMockBiddingServiceInterface(ctrl)
	mockService.EXPECT().Subscribe(gomock.Any(), "a1").
		DoAndReturn(func(_ context.Context, id string) (*broadcaster.Subscription, error) {
			return hub.Subscribe(id), nil
		})

	h := NewBiddingHandler(mockService, WithPingInterval(100*time.Millisecond))
	srv := httptest.NewServer(newTestRouter(h))
	defer srv.Close()

	pings := make(chan struct{}, 16)
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/auctions/a1/ws", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	conn.SetPingHandler(func(data string) error {
		select {
		case pings <- struct{}{}:
		default:
		}
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	var msg helpers.EventMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "connected", msg.Type)

	hub.Publish(bidEvent("a1", 2, "12", now))
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "new_bid", msg.Type)
	require.Equal(t, 12.0, *msg.CurrentPrice)

	// keep reading so control frames are processed
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	select {
	case <-pings:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a keepalive ping")
	}

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.SubscriberCount("a1") == 0 },
		2*time.Second, 10*time.Millisecond, "closing the socket must release the subscription")
}
