package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/runeforge/server/internal/protocol"
)

// Client is one authenticated WebSocket connection. Outbound frames go
// through a buffered queue drained by a dedicated writer goroutine, so a slow
// reader never blocks a game room.
type Client struct {
	ws          *websocket.Conn
	userID      string
	displayName string

	sendCh    chan *protocol.Message
	closeCh   chan struct{}
	closeOnce sync.Once

	writeTimeout time.Duration
	pingInterval time.Duration
	pongTimeout  time.Duration
}

func newClient(ws *websocket.Conn, userID, displayName string, queueSize int, writeTimeout, pingInterval, pongTimeout time.Duration) *Client {
	return &Client{
		ws:           ws,
		userID:       userID,
		displayName:  displayName,
		sendCh:       make(chan *protocol.Message, queueSize),
		closeCh:      make(chan struct{}),
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		pongTimeout:  pongTimeout,
	}
}

func (c *Client) UserID() string      { return c.userID }
func (c *Client) DisplayName() string { return c.displayName }

// Send queues a frame for async delivery. Non-blocking: a full queue means
// the client cannot keep up and the connection is dropped.
func (c *Client) Send(msg *protocol.Message) {
	select {
	case c.sendCh <- msg:
	case <-c.closeCh:
	default:
		slog.Warn("send queue full, disconnecting slow client", "userID", c.userID)
		c.Close(int(websocket.StatusPolicyViolation), "send queue full")
	}
}

// Close sends a close frame with the given code and stops the writer. Safe to
// call multiple times.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		_ = c.ws.Close(websocket.StatusCode(code), reason)
	})
}

// writePump drains the send queue onto the wire and keeps the connection
// alive with periodic pings. Runs until the client closes or a write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.sendCh:
			raw, err := msg.Encode()
			if err != nil {
				slog.Error("encoding frame failed", "userID", c.userID, "type", msg.Type, "error", err)
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
			err = c.ws.Write(ctx, websocket.MessageText, raw)
			cancel()
			if err != nil {
				slog.Debug("write failed", "userID", c.userID, "error", err)
				c.Close(int(websocket.StatusAbnormalClosure), "write failed")
				return
			}
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.pongTimeout)
			err := c.ws.Ping(ctx)
			cancel()
			if err != nil {
				slog.Debug("ping failed", "userID", c.userID, "error", err)
				c.Close(int(websocket.StatusAbnormalClosure), "ping timeout")
				return
			}
		case <-c.closeCh:
			return
		}
	}
}
