package hub

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/runeforge/server/internal/auth"
	"github.com/runeforge/server/internal/config"
	"github.com/runeforge/server/internal/coordinator"
	"github.com/runeforge/server/internal/model"
	"github.com/runeforge/server/internal/protocol"
)

type fakeAuth struct {
	users map[string]*model.User
}

func (f *fakeAuth) ResolveUser(ctx context.Context, token string) (*model.User, error) {
	if u, ok := f.users[token]; ok {
		return u, nil
	}
	return nil, auth.ErrTokenInvalid
}

type fakeRouter struct {
	mu            sync.Mutex
	messages      []*protocol.Message
	disconnected  []string
	characterDocs []protocol.CharacterDoc
}

func (f *fakeRouter) HandleMessage(conn coordinator.Conn, msg *protocol.Message) {
	f.mu.Lock()
	f.messages = append(f.messages, msg)
	f.mu.Unlock()
	conn.Send(protocol.NewResponse(msg.Type, struct{}{}, msg.Seq, true))
}

func (f *fakeRouter) HandleDisconnect(conn coordinator.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = append(f.disconnected, conn.UserID())
}

func (f *fakeRouter) Characters(ctx context.Context, userID string) ([]protocol.CharacterDoc, error) {
	return f.characterDocs, nil
}

func (f *fakeRouter) received() []*protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*protocol.Message(nil), f.messages...)
}

func (f *fakeRouter) disconnects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.disconnected...)
}

func testHub(t *testing.T, mutate func(*config.Server)) (*httptest.Server, *fakeRouter) {
	t.Helper()
	cfg := config.Default()
	cfg.AuthTimeout = 200 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	router := &fakeRouter{
		characterDocs: []protocol.CharacterDoc{{ID: "char-1", Name: "Aldric", Class: model.ClassWarrior}},
	}
	authn := &fakeAuth{users: map[string]*model.User{
		"good-token": {ID: "u-1", DisplayName: "Mira"},
	}}
	h := New(cfg, authn, router)
	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, router
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	return ws
}

func send(t *testing.T, ws *websocket.Conn, msgType string, payload any, seq int64) {
	t.Helper()
	msg := protocol.New(msgType, payload)
	msg.Seq = seq
	raw, err := msg.Encode()
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ws.Write(ctx, websocket.MessageText, raw))
}

func read(t *testing.T, ws *websocket.Conn) *protocol.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, raw, err := ws.Read(ctx)
	require.NoError(t, err)
	msg, err := protocol.Decode(raw)
	require.NoError(t, err)
	return msg
}

// readUntilClosed drains frames until the server closes, returning the close
// status.
func readUntilClosed(t *testing.T, ws *websocket.Conn) websocket.StatusCode {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		_, _, err := ws.Read(ctx)
		if err != nil {
			return websocket.CloseStatus(err)
		}
	}
}

func authenticate(t *testing.T, ws *websocket.Conn) *protocol.Message {
	t.Helper()
	send(t, ws, protocol.TypeAuth, protocol.AuthPayload{Token: "good-token"}, 1)
	reply := read(t, ws)
	require.Equal(t, protocol.TypeAuthResult, reply.Type)
	return reply
}

func TestHandshake(t *testing.T) {
	srv, _ := testHub(t, nil)
	ws := dial(t, srv)
	defer ws.Close(websocket.StatusNormalClosure, "")

	reply := authenticate(t, ws)
	require.NotNil(t, reply.ReqSeq)
	require.Equal(t, int64(1), *reply.ReqSeq)

	var p protocol.AuthResultPayload
	require.NoError(t, reply.DecodePayload(&p))
	require.Equal(t, "u-1", p.UserID)
	require.Equal(t, "Mira", p.DisplayName)
	require.Len(t, p.Characters, 1)
	require.Equal(t, "Aldric", p.Characters[0].Name)
}

func TestHandshakeTimeout(t *testing.T) {
	srv, _ := testHub(t, func(cfg *config.Server) {
		cfg.AuthTimeout = 50 * time.Millisecond
	})
	ws := dial(t, srv)
	defer ws.Close(websocket.StatusNormalClosure, "")

	status := readUntilClosed(t, ws)
	require.Equal(t, websocket.StatusCode(protocol.CloseAuthTimeout), status)
}

func TestHandshakeWrongFirstFrame(t *testing.T) {
	srv, _ := testHub(t, nil)
	ws := dial(t, srv)
	defer ws.Close(websocket.StatusNormalClosure, "")

	send(t, ws, protocol.TypeChat, protocol.ChatPayload{Message: "hi"}, 1)
	status := readUntilClosed(t, ws)
	require.Equal(t, websocket.StatusCode(protocol.CloseAuthTimeout), status)
}

func TestHandshakeBadToken(t *testing.T) {
	srv, _ := testHub(t, nil)
	ws := dial(t, srv)
	defer ws.Close(websocket.StatusNormalClosure, "")

	send(t, ws, protocol.TypeAuth, protocol.AuthPayload{Token: "stolen"}, 1)
	status := readUntilClosed(t, ws)
	require.Equal(t, websocket.StatusCode(protocol.CloseAuthFailed), status)
}

func TestPingPong(t *testing.T) {
	srv, router := testHub(t, nil)
	ws := dial(t, srv)
	defer ws.Close(websocket.StatusNormalClosure, "")
	authenticate(t, ws)

	send(t, ws, protocol.TypePing, struct{}{}, 5)
	reply := read(t, ws)
	require.Equal(t, protocol.TypePong, reply.Type)
	require.Equal(t, int64(5), *reply.ReqSeq)
	// Pings never reach the router.
	require.Empty(t, router.received())
}

func TestDispatchAndDisconnect(t *testing.T) {
	srv, router := testHub(t, nil)
	ws := dial(t, srv)
	authenticate(t, ws)

	send(t, ws, protocol.TypeCreateGame, protocol.CreateGamePayload{CharacterID: "char-1"}, 2)
	reply := read(t, ws)
	require.Equal(t, protocol.TypeCreateGame, reply.Type)
	require.Len(t, router.received(), 1)
	require.Equal(t, protocol.TypeCreateGame, router.received()[0].Type)

	require.NoError(t, ws.Close(websocket.StatusNormalClosure, "done"))
	require.Eventually(t, func() bool {
		d := router.disconnects()
		return len(d) == 1 && d[0] == "u-1"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRateLimit(t *testing.T) {
	srv, router := testHub(t, func(cfg *config.Server) {
		cfg.Limits.ChatPerMinute = 2
		cfg.Limits.ViolationsToClose = 3
	})
	ws := dial(t, srv)
	defer ws.Close(websocket.StatusNormalClosure, "")
	authenticate(t, ws)

	// The first two chats fit the bucket.
	for i := 0; i < 2; i++ {
		send(t, ws, protocol.TypeChat, protocol.ChatPayload{Message: fmt.Sprintf("msg %d", i)}, int64(i))
		reply := read(t, ws)
		require.Equal(t, protocol.TypeChat, reply.Type)
	}

	// The next ones are rejected, and the third rejection disconnects.
	for i := 0; i < 2; i++ {
		send(t, ws, protocol.TypeChat, protocol.ChatPayload{Message: "spam"}, int64(10+i))
		reply := read(t, ws)
		require.Equal(t, protocol.TypeError, reply.Type)
		var ep protocol.ErrorPayload
		require.NoError(t, reply.DecodePayload(&ep))
		require.Equal(t, protocol.CodeRateLimited, ep.Code)
	}
	send(t, ws, protocol.TypeChat, protocol.ChatPayload{Message: "spam"}, 12)
	status := readUntilClosed(t, ws)
	require.Equal(t, websocket.StatusPolicyViolation, status)
	require.Len(t, router.received(), 2)
}

func TestOversizeFrameRejected(t *testing.T) {
	srv, _ := testHub(t, nil)
	ws := dial(t, srv)
	defer ws.Close(websocket.StatusNormalClosure, "")
	authenticate(t, ws)

	big := strings.Repeat("x", protocol.MaxFrameSize+1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := ws.Write(ctx, websocket.MessageText, []byte(`{"type":"chat","payload":{"message":"`+big+`"}}`))
	// The server's read limit kills the connection on oversize input; the
	// write itself may or may not surface the error.
	if err == nil {
		status := readUntilClosed(t, ws)
		require.NotEqual(t, websocket.StatusNormalClosure, status)
	}
}
