package server

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
)

// Close codes distinguish why the live channel was shut immediately after the
// upgrade: the subscriber needs to tell "wrong secret" from "no such session".
const (
	closeCodeAuthFailed      websocket.StatusCode = 4401
	closeCodeSessionNotFound websocket.StatusCode = 4404
)

const writeTimeout = 10 * time.Second

// subscriberBuffer is the per-subscriber event buffer. A subscriber that
// falls further behind than this misses events; it is never blocked on.
const subscriberBuffer = 16

// streamSession upgrades the request to a WebSocket and relays the session's
// event stream until the session reaches a terminal state or the client
// disconnects.
func (h *Handler) streamSession(c *gin.Context) {
	ws, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.Service.Logger.Error("Failed to accept WebSocket", "error", err)
		return
	}

	if h.Secret != "" && !h.wsAuthenticated(c) {
		_ = ws.Close(closeCodeAuthFailed, "auth failed")
		return
	}

	sessionID := c.Param("id")
	ch := make(chan Event, subscriberBuffer)
	if err := h.Service.Broadcaster.Subscribe(sessionID, ch); err != nil {
		if errors.Is(err, ErrNotFound) {
			_ = ws.Close(closeCodeSessionNotFound, "session not found")
		} else {
			_ = ws.Close(websocket.StatusInternalError, "subscribe failed")
		}
		return
	}
	defer h.Service.Broadcaster.Unsubscribe(sessionID, ch)

	h.Service.Logger.Info("Live channel attached", "session_id", sessionID)

	// CloseRead drains incoming frames and cancels the context when the
	// client goes away.
	ctx := ws.CloseRead(c.Request.Context())

	for {
		select {
		case <-ctx.Done():
			_ = ws.Close(websocket.StatusNormalClosure, "client detached")
			return
		case event := <-ch:
			if err := writeEvent(ctx, ws, event); err != nil {
				h.Service.Logger.Debug("WebSocket write failed", "session_id", sessionID, "error", err)
				return
			}
			if event.Type != EventProgress {
				// Terminal event delivered; nothing further will be published.
				_ = ws.Close(websocket.StatusNormalClosure, "session finished")
				return
			}
		}
	}
}

func (h *Handler) wsAuthenticated(c *gin.Context) bool {
	if c.GetHeader("X-API-Key") == h.Secret {
		return true
	}
	// Browsers cannot set headers on WebSocket upgrades.
	return c.Query("api_key") == h.Secret
}

func writeEvent(ctx context.Context, ws *websocket.Conn, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}
