package handler

import (
	"context"
	"net/http"
	"time"

	"auction-engine/internal/broadcaster"
	model "auction-engine/internal/models"
	"auction-engine/services/bidding/helpers"
	"auction-engine/utils"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	defaultPingInterval = 30 * time.Second
	writeWait           = 10 * time.Second
	maxClientMessage    = 512
)

// StreamHandler handles GET /auctions/:id/stream as server-sent events.
// Every frame is a single data line holding one JSON event.
func (h *BiddingHandler) StreamHandler(c *gin.Context) {
	auctionID := c.Param("id")
	ctx := c.Request.Context()

	sub, err := h.service.Subscribe(ctx, auctionID)
	if err != nil {
		helpers.HandleServiceError(c, "StreamHandler", err, map[string]any{"auction_id": auctionID})
		return
	}
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	utils.Debug("StreamHandler: subscriber attached", map[string]any{"auction_id": auctionID})
	for {
		ev, ok := sub.Next(ctx)
		if !ok {
			break
		}
		c.Render(-1, sse.Event{Data: helpers.NewEventMessage(ev)})
		c.Writer.Flush()
	}
	utils.Debug("StreamHandler: subscriber detached", map[string]any{
		"auction_id": auctionID,
		"dropped":    sub.Dropped(),
	})
}

// WebSocketHandler handles GET /auctions/:id/ws. It carries the same JSON
// frames as the SSE stream and pings the client to keep the socket alive.
func (h *BiddingHandler) WebSocketHandler(c *gin.Context) {
	auctionID := c.Param("id")

	sub, err := h.service.Subscribe(c.Request.Context(), auctionID)
	if err != nil {
		helpers.HandleServiceError(c, "WebSocketHandler", err, map[string]any{"auction_id": auctionID})
		return
	}
	defer sub.Close()

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already written the HTTP error
		utils.Warn("WebSocketHandler: upgrade failed", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	go h.readPump(conn, cancel)
	h.writePump(ctx, conn, sub)
}

// readPump discards client frames and cancels the stream when the peer goes away
func (h *BiddingHandler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	pongWait := h.pingInterval * 2
	conn.SetReadLimit(maxClientMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				utils.Warn("WebSocketHandler: unexpected close", map[string]any{"error": err.Error()})
			}
			return
		}
	}
}

// writePump is the only writer on conn
func (h *BiddingHandler) writePump(ctx context.Context, conn *websocket.Conn, sub *broadcaster.Subscription) {
	events := make(chan model.Event)
	go func() {
		defer close(events)
		for {
			ev, ok := sub.Next(ctx)
			if !ok {
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(helpers.NewEventMessage(ev)); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
