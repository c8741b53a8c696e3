package coordinator

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/runeforge/server/internal/model"
	"github.com/runeforge/server/internal/protocol"
	"github.com/runeforge/server/internal/registry"
)

// opTimeout bounds the database work done inside a handler.
const opTimeout = 10 * time.Second

func opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), opTimeout)
}

func (c *Coordinator) handleCreateGame(conn Conn, msg *protocol.Message) {
	var p protocol.CreateGamePayload
	if err := msg.DecodePayload(&p); err != nil {
		conn.Send(protocol.NewError(protocol.CodeInvalidAction, err.Error(), msg.Seq))
		return
	}
	if existing := c.sessionOf(conn.UserID()); existing != nil {
		conn.Send(protocol.NewError(protocol.CodeForbidden, "already in a session", msg.Seq))
		return
	}

	ctx, cancel := opContext()
	defer cancel()

	char, err := c.ownedCharacter(ctx, conn, p.CharacterID, msg.Seq)
	if char == nil || err != nil {
		return
	}
	if err := p.Config.Validate(); err != nil {
		conn.Send(protocol.NewError(protocol.CodeInvalidAction, err.Error(), msg.Seq))
		return
	}
	if p.Config.MapSeed == 0 {
		p.Config.MapSeed = time.Now().UnixNano()
	}

	session, err := c.store.CreateSession(ctx, conn.UserID(), p.Config)
	if err != nil {
		slog.Error("creating session failed", "userID", conn.UserID(), "error", err)
		conn.Send(protocol.NewError(protocol.CodeInternalError, "could not create game", msg.Seq))
		return
	}
	seat, err := c.store.AddSeat(ctx, session.ID, conn.UserID(), char.ID, model.PlayerConnected)
	if err != nil {
		slog.Error("seating dm failed", "sessionID", session.ID, "error", err)
		conn.Send(protocol.NewError(protocol.CodeInternalError, "could not create game", msg.Seq))
		return
	}

	room := c.rooms.Create(session)
	c.trackUser(conn.UserID(), session.ID)
	_ = room.DoWait(func(st *registry.State) {
		st.Seats[conn.UserID()] = &registry.Seat{
			Player:      *seat,
			DisplayName: conn.DisplayName(),
			Conn:        conn,
		}
		conn.Send(protocol.NewResponse(protocol.TypeGameCreated, sessionInfo(st), msg.Seq, true))
	})
	slog.Info("game created",
		"sessionID", session.ID,
		"joinCode", session.JoinCode,
		"dmUserID", conn.UserID())
}

func (c *Coordinator) handleJoinGame(conn Conn, msg *protocol.Message) {
	var p protocol.JoinGamePayload
	if err := msg.DecodePayload(&p); err != nil {
		conn.Send(protocol.NewError(protocol.CodeInvalidAction, err.Error(), msg.Seq))
		return
	}
	p.JoinCode = strings.ToUpper(strings.TrimSpace(p.JoinCode))
	if !model.ValidJoinCode(p.JoinCode) {
		conn.Send(protocol.NewError(protocol.CodeGameNotFound, "malformed join code", msg.Seq))
		return
	}

	room := c.rooms.GetByCode(p.JoinCode)
	if room == nil {
		conn.Send(protocol.NewError(protocol.CodeGameNotFound, "no open game with that code", msg.Seq))
		return
	}
	if existing := c.sessionOf(conn.UserID()); existing != nil && existing.ID != room.ID {
		conn.Send(protocol.NewError(protocol.CodeForbidden, "already in a session", msg.Seq))
		return
	}

	ctx, cancel := opContext()
	defer cancel()

	char, err := c.ownedCharacter(ctx, conn, p.CharacterID, msg.Seq)
	if char == nil || err != nil {
		return
	}

	err = room.DoWait(func(st *registry.State) {
		if seat, ok := st.Seats[conn.UserID()]; ok {
			c.reattach(st, seat, conn, msg.Seq)
			return
		}

		status := model.PlayerConnected
		switch st.Model.Status {
		case model.StatusLobby:
			if len(st.Seats) >= st.Model.Config.MaxPlayers+1 { // +1 for the DM seat
				conn.Send(protocol.NewError(protocol.CodeGameFull, "game is full", msg.Seq))
				return
			}
		case model.StatusPlaying, model.StatusPaused:
			if !st.Model.Config.AllowLateJoin {
				conn.Send(protocol.NewError(protocol.CodeGameAlreadyStarted, "game already started", msg.Seq))
				return
			}
			// Late joiners watch until the DM brings them in.
			status = model.PlayerSpectating
		default:
			conn.Send(protocol.NewError(protocol.CodeGameNotFound, "game has ended", msg.Seq))
			return
		}

		seatRow, err := c.store.AddSeat(ctx, st.Model.ID, conn.UserID(), char.ID, status)
		if err != nil {
			slog.Error("seating player failed", "sessionID", st.Model.ID, "error", err)
			conn.Send(protocol.NewError(protocol.CodeInternalError, "could not join game", msg.Seq))
			return
		}
		seat := &registry.Seat{Player: *seatRow, DisplayName: conn.DisplayName(), Conn: conn}
		st.Seats[conn.UserID()] = seat
		c.trackUser(conn.UserID(), st.Model.ID)

		st.BroadcastExcept(conn.UserID(), protocol.New(protocol.TypePlayerJoined, protocol.PlayerJoinedPayload{
			SessionID: st.Model.ID,
			Player:    playerInfo(seat),
		}))
		conn.Send(protocol.NewResponse(protocol.TypeGameJoined, sessionInfo(st), msg.Seq, true))
		if status == model.PlayerSpectating {
			c.sendSnapshot(st, conn, "late_join")
		}
		slog.Info("player joined", "sessionID", st.Model.ID, "userID", conn.UserID(), "status", status)
	})
	if err != nil {
		conn.Send(protocol.NewError(protocol.CodeInternalError, "game is unavailable", msg.Seq))
	}
}

// reattach reconnects a returning player to their seat.
func (c *Coordinator) reattach(st *registry.State, seat *registry.Seat, conn Conn, seq int64) {
	if seat.GraceTimer != nil {
		seat.GraceTimer.Stop()
		seat.GraceTimer = nil
	}
	if old := seat.Conn; old != nil && old != conn {
		old.Close(4000, "seat reclaimed by a newer connection")
	}
	seat.Conn = conn
	if seat.Player.Status == model.PlayerDisconnected {
		seat.Player.Status = model.PlayerConnected
		ctx, cancel := opContext()
		defer cancel()
		if err := c.store.SetSeatStatus(ctx, st.Model.ID, seat.Player.UserID, model.PlayerConnected); err != nil {
			slog.Error("persisting reconnect failed", "sessionID", st.Model.ID, "error", err)
		}
	}
	c.trackUser(conn.UserID(), st.Model.ID)

	conn.Send(protocol.NewResponse(protocol.TypeGameJoined, sessionInfo(st), seq, true))
	if st.Game != nil {
		c.sendSnapshot(st, conn, "reconnect")
	}
	st.BroadcastExcept(conn.UserID(), protocol.New(protocol.TypePlayerJoined, protocol.PlayerJoinedPayload{
		SessionID: st.Model.ID,
		Player:    playerInfo(seat),
	}))
	slog.Info("player reconnected", "sessionID", st.Model.ID, "userID", conn.UserID())
}

func (c *Coordinator) handleLeaveGame(conn Conn, msg *protocol.Message) {
	room := c.sessionOf(conn.UserID())
	if room == nil {
		conn.Send(protocol.NewError(protocol.CodeGameNotFound, "not in a session", msg.Seq))
		return
	}
	_ = room.DoWait(func(st *registry.State) {
		c.removeSeat(st, conn.UserID(), "left")
	})
	conn.Send(protocol.NewResponse(protocol.TypePlayerLeft, protocol.PlayerLeftPayload{
		SessionID: room.ID, UserID: conn.UserID(), Reason: "left",
	}, msg.Seq, true))
}

// removeSeat unseats a user: in the lobby the seat is deleted, mid-game the
// unit stays and the seat is marked gone. Runs on the room goroutine.
func (c *Coordinator) removeSeat(st *registry.State, userID, reason string) {
	seat, ok := st.Seats[userID]
	if !ok {
		return
	}
	if seat.GraceTimer != nil {
		seat.GraceTimer.Stop()
	}

	ctx, cancel := opContext()
	defer cancel()

	if st.Model.Status == model.StatusLobby {
		delete(st.Seats, userID)
		if err := c.store.RemoveSeat(ctx, st.Model.ID, userID); err != nil {
			slog.Error("removing seat failed", "sessionID", st.Model.ID, "userID", userID, "error", err)
		}
	} else {
		seat.Conn = nil
		seat.Player.Status = model.PlayerDisconnected
		if err := c.store.SetSeatStatus(ctx, st.Model.ID, userID, model.PlayerDisconnected); err != nil {
			slog.Error("marking seat disconnected failed", "sessionID", st.Model.ID, "userID", userID, "error", err)
		}
	}
	c.untrackUser(userID)

	st.Broadcast(protocol.New(protocol.TypePlayerLeft, protocol.PlayerLeftPayload{
		SessionID: st.Model.ID, UserID: userID, Reason: reason,
	}))
	slog.Info("player left", "sessionID", st.Model.ID, "userID", userID, "reason", reason)

	// A DM abandoning the lobby dissolves it.
	if st.Model.Status == model.StatusLobby && userID == st.Model.DMUserID {
		c.endGame(st, "dm_left")
	} else if st.Model.Status == model.StatusPlaying {
		c.skipIfCurrentSeatGone(st)
	}
}

func (c *Coordinator) handleReady(conn Conn, msg *protocol.Message) {
	var p protocol.ReadyPayload
	if err := msg.DecodePayload(&p); err != nil {
		conn.Send(protocol.NewError(protocol.CodeInvalidAction, err.Error(), msg.Seq))
		return
	}
	room := c.sessionOf(conn.UserID())
	if room == nil {
		conn.Send(protocol.NewError(protocol.CodeGameNotFound, "not in a session", msg.Seq))
		return
	}
	_ = room.DoWait(func(st *registry.State) {
		seat, ok := st.Seats[conn.UserID()]
		if !ok {
			conn.Send(protocol.NewError(protocol.CodeGameNotFound, "not seated", msg.Seq))
			return
		}
		if st.Model.Status != model.StatusLobby {
			conn.Send(protocol.NewError(protocol.CodeGameAlreadyStarted, "game already started", msg.Seq))
			return
		}
		seat.Player.IsReady = p.Ready

		ctx, cancel := opContext()
		defer cancel()
		if err := c.store.SetSeatReady(ctx, st.Model.ID, conn.UserID(), p.Ready); err != nil {
			slog.Error("persisting ready failed", "sessionID", st.Model.ID, "error", err)
		}
		st.Broadcast(protocol.New(protocol.TypePlayerReady, protocol.PlayerReadyPayload{
			SessionID: st.Model.ID, UserID: conn.UserID(), Ready: p.Ready,
		}))
	})
}

// HandleDisconnect detaches a dropped connection from its seat. Mid-game the
// seat gets a grace window to reconnect before it is vacated.
func (c *Coordinator) HandleDisconnect(conn Conn) {
	room := c.sessionOf(conn.UserID())
	if room == nil {
		return
	}
	_ = room.Do(func(st *registry.State) {
		seat, ok := st.Seats[conn.UserID()]
		if !ok || seat.Conn != conn {
			return // a newer connection owns the seat
		}
		seat.Conn = nil

		if st.Model.Status == model.StatusLobby {
			c.removeSeat(st, conn.UserID(), "disconnected")
			return
		}

		seat.Player.Status = model.PlayerDisconnected
		ctx, cancel := opContext()
		defer cancel()
		if err := c.store.SetSeatStatus(ctx, st.Model.ID, conn.UserID(), model.PlayerDisconnected); err != nil {
			slog.Error("marking seat disconnected failed", "sessionID", st.Model.ID, "error", err)
		}
		st.Broadcast(protocol.New(protocol.TypePlayerLeft, protocol.PlayerLeftPayload{
			SessionID: st.Model.ID, UserID: conn.UserID(), Reason: "disconnected",
		}))
		slog.Info("player disconnected, grace started",
			"sessionID", st.Model.ID,
			"userID", conn.UserID(),
			"grace", c.cfg.DisconnectGrace)

		userID := conn.UserID()
		seat.GraceTimer = time.AfterFunc(c.cfg.DisconnectGrace, func() {
			_ = room.Do(func(st *registry.State) {
				seat, ok := st.Seats[userID]
				if !ok || seat.Connected() {
					return // reconnected in time
				}
				c.removeSeat(st, userID, "disconnected")
			})
		})
	})
}

// ownedCharacter loads a character and verifies ownership, replying with the
// appropriate error itself.
func (c *Coordinator) ownedCharacter(ctx context.Context, conn Conn, characterID string, seq int64) (*model.Character, error) {
	char, err := c.store.CharacterByID(ctx, characterID)
	if err != nil {
		slog.Error("loading character failed", "characterID", characterID, "error", err)
		conn.Send(protocol.NewError(protocol.CodeInternalError, "could not load character", seq))
		return nil, err
	}
	if char == nil || char.UserID != conn.UserID() {
		conn.Send(protocol.NewError(protocol.CodeCharacterNotFound, "no such character", seq))
		return nil, nil
	}
	return char, nil
}

// sessionInfo renders the lobby view of a room. Runs on the room goroutine.
func sessionInfo(st *registry.State) protocol.SessionInfo {
	info := protocol.SessionInfo{
		SessionID: st.Model.ID,
		JoinCode:  st.Model.JoinCode,
		DMUserID:  st.Model.DMUserID,
		Status:    st.Model.Status,
		Config:    st.Model.Config,
		Players:   make([]protocol.PlayerInfo, 0, len(st.Seats)),
	}
	for _, seat := range st.Seats {
		info.Players = append(info.Players, playerInfo(seat))
	}
	return info
}

func playerInfo(seat *registry.Seat) protocol.PlayerInfo {
	return protocol.PlayerInfo{
		UserID:      seat.Player.UserID,
		DisplayName: seat.DisplayName,
		CharacterID: seat.Player.CharacterID,
		UnitID:      seat.Player.UnitID,
		Status:      seat.Player.Status,
		IsReady:     seat.Player.IsReady,
	}
}

// sendSnapshot delivers a full state sync plus the recent event log.
func (c *Coordinator) sendSnapshot(st *registry.State, conn Conn, reason string) {
	if st.Game == nil {
		return
	}
	info := sessionInfo(st)
	conn.Send(protocol.New(protocol.TypeGameState, protocol.GameStatePayload{
		SessionID: st.Model.ID,
		Version:   st.Version,
		State:     st.Game,
		Session:   &info,
		Reason:    reason,
	}))
	if len(st.Events) > 0 {
		conn.Send(protocol.New(protocol.TypeEvents, protocol.EventsPayload{
			SessionID: st.Model.ID,
			Events:    st.Events,
		}))
	}
}
