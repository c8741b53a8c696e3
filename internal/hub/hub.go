// Package hub is the WebSocket front door: it upgrades connections, runs the
// auth handshake, polices per-connection rate limits, and pipes frames
// between clients and the coordinator.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/runeforge/server/internal/auth"
	"github.com/runeforge/server/internal/config"
	"github.com/runeforge/server/internal/coordinator"
	"github.com/runeforge/server/internal/model"
	"github.com/runeforge/server/internal/protocol"
)

// Authenticator resolves handshake tokens. *auth.Service is the production
// implementation.
type Authenticator interface {
	ResolveUser(ctx context.Context, token string) (*model.User, error)
}

// Router consumes authenticated client traffic. *coordinator.Coordinator is
// the production implementation.
type Router interface {
	HandleMessage(conn coordinator.Conn, msg *protocol.Message)
	HandleDisconnect(conn coordinator.Conn)
	Characters(ctx context.Context, userID string) ([]protocol.CharacterDoc, error)
}

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Hub accepts and serves WebSocket clients.
type Hub struct {
	cfg   config.Server
	auth  Authenticator
	coord Router

	connections   atomic.Int64
	authenticated atomic.Int64
}

// New wires the hub.
func New(cfg config.Server, authSvc Authenticator, coord Router) *Hub {
	return &Hub{cfg: cfg, auth: authSvc, coord: coord}
}

// Register mounts the WebSocket and health endpoints.
func (h *Hub) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", h.handleWS)
	mux.HandleFunc("GET /api/health", h.handleHealth)
}

func (h *Hub) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":        "ok",
		"version":       Version,
		"timestamp":     time.Now().UnixMilli(),
		"connections":   h.connections.Load(),
		"authenticated": h.authenticated.Load(),
	})
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Debug("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	ws.SetReadLimit(protocol.MaxFrameSize)
	h.connections.Add(1)
	defer h.connections.Add(-1)

	client, authMsg, ok := h.handshake(r, ws)
	if !ok {
		return
	}
	h.authenticated.Add(1)
	defer h.authenticated.Add(-1)
	go client.writePump()

	ctx := context.Background()
	chars, err := h.coord.Characters(ctx, client.UserID())
	if err != nil {
		slog.Error("loading character roster failed", "userID", client.UserID(), "error", err)
		chars = nil
	}
	client.Send(protocol.NewResponse(protocol.TypeAuthResult, protocol.AuthResultPayload{
		UserID:      client.UserID(),
		DisplayName: client.DisplayName(),
		Characters:  chars,
	}, authMsg.Seq, true))
	slog.Info("client connected", "userID", client.UserID(), "remote", r.RemoteAddr)

	h.readLoop(client)
	h.coord.HandleDisconnect(client)
	slog.Info("client disconnected", "userID", client.UserID())
}

// handshake enforces the auth deadline: the first frame must be a valid auth
// message. 4001 closes an absent or malformed handshake, 4002 a bad token.
// The deadline closes the socket itself rather than cancelling the read
// context, so the close frame reaches the client intact.
func (h *Hub) handshake(r *http.Request, ws *websocket.Conn) (*Client, *protocol.Message, bool) {
	deadline := time.AfterFunc(h.cfg.AuthTimeout, func() {
		_ = ws.Close(websocket.StatusCode(protocol.CloseAuthTimeout), "auth required")
	})

	_, raw, err := ws.Read(r.Context())
	if !deadline.Stop() {
		return nil, nil, false
	}
	if err != nil {
		_ = ws.Close(websocket.StatusCode(protocol.CloseAuthTimeout), "auth required")
		return nil, nil, false
	}
	msg, err := protocol.Decode(raw)
	if err != nil || msg.Type != protocol.TypeAuth {
		_ = ws.Close(websocket.StatusCode(protocol.CloseAuthTimeout), "auth required")
		return nil, nil, false
	}

	var p protocol.AuthPayload
	if err := msg.DecodePayload(&p); err != nil {
		_ = ws.Close(websocket.StatusCode(protocol.CloseAuthFailed), "auth failed")
		return nil, nil, false
	}
	token := p.Token
	if token == "" {
		if c, err := r.Cookie(auth.SessionCookie); err == nil {
			token = c.Value
		}
	}

	user, err := h.auth.ResolveUser(r.Context(), token)
	if err != nil {
		reason := "auth failed"
		if errors.Is(err, auth.ErrTokenExpired) {
			reason = "token expired"
		}
		_ = ws.Close(websocket.StatusCode(protocol.CloseAuthFailed), reason)
		return nil, nil, false
	}

	client := newClient(ws, user.ID, user.DisplayName,
		h.cfg.SendQueueSize, h.cfg.WriteTimeout, h.cfg.PingInterval, h.cfg.PongTimeout)
	return client, msg, true
}

// readLoop pumps inbound frames into the coordinator until the connection
// drops or the client earns a disconnect.
func (h *Hub) readLoop(client *Client) {
	limits := newLimiter(h.cfg.Limits)
	for {
		_, raw, err := client.ws.Read(context.Background())
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == -1 || status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				slog.Debug("connection closed", "userID", client.userID, "error", err)
			} else {
				slog.Debug("read failed", "userID", client.userID, "status", status, "error", err)
			}
			client.Close(int(websocket.StatusNormalClosure), "")
			return
		}

		msg, err := protocol.Decode(raw)
		if err != nil {
			client.Send(protocol.NewError(protocol.CodeInvalidAction, err.Error(), 0))
			continue
		}

		if msg.Type == protocol.TypePing {
			client.Send(protocol.NewResponse(protocol.TypePong, struct{}{}, msg.Seq, true))
			continue
		}

		if !limits.allow(msg.Type) {
			client.Send(protocol.NewError(protocol.CodeRateLimited, "slow down", msg.Seq))
			if limits.violate() {
				slog.Warn("rate limit violations exceeded, disconnecting", "userID", client.userID)
				client.Close(int(websocket.StatusPolicyViolation), "rate limit exceeded")
				return
			}
			continue
		}

		h.coord.HandleMessage(client, msg)
	}
}
