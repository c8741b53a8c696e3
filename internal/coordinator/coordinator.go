// Package coordinator orchestrates game sessions: it owns the lobby flow,
// drives the simulation from player actions, schedules monster turns and
// timeouts, and keeps the database in step with the live rooms.
package coordinator

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/runeforge/server/internal/config"
	"github.com/runeforge/server/internal/db"
	"github.com/runeforge/server/internal/model"
	"github.com/runeforge/server/internal/protocol"
	"github.com/runeforge/server/internal/registry"
)

// Conn is a connected, authenticated client.
type Conn interface {
	registry.Conn
	DisplayName() string
}

// Store is the persistence surface the coordinator needs. *db.Store is the
// production implementation.
type Store interface {
	CreateSession(ctx context.Context, dmUserID string, cfg model.SessionConfig) (*model.Session, error)
	SessionByJoinCode(ctx context.Context, code string) (*model.Session, error)
	UpdateSessionStatus(ctx context.Context, id string, next model.SessionStatus) error
	SaveState(ctx context.Context, id string, prevVersion int, state any, events []any) error
	ArchiveSession(ctx context.Context, id string, state any, events []any) error

	AddSeat(ctx context.Context, sessionID, userID, characterID string, status model.PlayerStatus) (*model.SessionPlayer, error)
	RemoveSeat(ctx context.Context, sessionID, userID string) error
	SetSeatReady(ctx context.Context, sessionID, userID string, ready bool) error
	SetSeatStatus(ctx context.Context, sessionID, userID string, status model.PlayerStatus) error
	AssignUnits(ctx context.Context, sessionID string, unitByUser map[string]string) error

	CharacterByID(ctx context.Context, id string) (*model.Character, error)
	CharactersByUser(ctx context.Context, userID string) ([]*model.Character, error)
	UpdateCharacterPersona(ctx context.Context, c *model.Character) error
	GrantWeapon(ctx context.Context, characterID string, w model.Weapon) error
	ApplyRewards(ctx context.Context, grants []db.RewardGrant) error
}

// Coordinator routes authenticated messages to their session rooms.
type Coordinator struct {
	cfg   config.Server
	store Store
	rooms *registry.Registry

	// userSession maps user id -> session id for seated users.
	mu          sync.RWMutex
	userSession map[string]string
}

// New wires a coordinator.
func New(cfg config.Server, store Store, rooms *registry.Registry) *Coordinator {
	return &Coordinator{
		cfg:         cfg,
		store:       store,
		rooms:       rooms,
		userSession: make(map[string]string),
	}
}

// HandleMessage dispatches one inbound frame from an authenticated client.
// A panic in a handler is quarantined: it pauses the session instead of
// taking down the server.
func (c *Coordinator) HandleMessage(conn Conn, msg *protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("handler panic",
				"type", msg.Type,
				"userID", conn.UserID(),
				"panic", r,
				"stack", string(debug.Stack()))
			c.quarantine(conn)
			conn.Send(protocol.NewError(protocol.CodeInternalError, "internal error", msg.Seq))
		}
	}()

	switch msg.Type {
	case protocol.TypeCreateGame:
		c.handleCreateGame(conn, msg)
	case protocol.TypeJoinGame:
		c.handleJoinGame(conn, msg)
	case protocol.TypeLeaveGame:
		c.handleLeaveGame(conn, msg)
	case protocol.TypeReady:
		c.handleReady(conn, msg)
	case protocol.TypeAction:
		c.handleAction(conn, msg)
	case protocol.TypeDMCommand:
		c.handleDMCommand(conn, msg)
	case protocol.TypeChat:
		c.handleChat(conn, msg)
	case protocol.TypeCharacterSync:
		c.handleCharacterSync(conn, msg)
	default:
		conn.Send(protocol.NewError(protocol.CodeInvalidAction, "unknown message type "+msg.Type, msg.Seq))
	}
}

// Characters loads the user's roster, used by the transport to build the
// auth_result payload.
func (c *Coordinator) Characters(ctx context.Context, userID string) ([]protocol.CharacterDoc, error) {
	chars, err := c.store.CharactersByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	docs := make([]protocol.CharacterDoc, 0, len(chars))
	for _, ch := range chars {
		docs = append(docs, protocol.CharacterDocFrom(ch))
	}
	return docs, nil
}

// sessionOf returns the live room the user is seated in, or nil.
func (c *Coordinator) sessionOf(userID string) *registry.Session {
	c.mu.RLock()
	id, ok := c.userSession[userID]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	return c.rooms.Get(id)
}

func (c *Coordinator) trackUser(userID, sessionID string) {
	c.mu.Lock()
	c.userSession[userID] = sessionID
	c.mu.Unlock()
}

func (c *Coordinator) untrackUser(userID string) {
	c.mu.Lock()
	delete(c.userSession, userID)
	c.mu.Unlock()
}

// quarantine pauses the session a misbehaving handler was working on.
func (c *Coordinator) quarantine(conn Conn) {
	room := c.sessionOf(conn.UserID())
	if room == nil {
		return
	}
	_ = room.Do(func(st *registry.State) {
		if st.Model.Status != model.StatusPlaying {
			return
		}
		st.Model.Status = model.StatusPaused
		if st.TurnTimer != nil {
			st.TurnTimer.Stop()
		}
		if st.MonsterTimer != nil {
			st.MonsterTimer.Stop()
		}
		if err := c.store.UpdateSessionStatus(context.Background(), st.Model.ID, model.StatusPaused); err != nil {
			slog.Error("persisting quarantine pause failed", "sessionID", st.Model.ID, "error", err)
		}
		st.Broadcast(protocol.New(protocol.TypeError, protocol.ErrorPayload{
			Code:    protocol.CodeInternalError,
			Message: "session paused after an internal error",
		}))
		slog.Warn("session quarantined", "sessionID", st.Model.ID)
	})
}
