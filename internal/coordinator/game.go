package coordinator

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/runeforge/server/internal/delta"
	"github.com/runeforge/server/internal/model"
	"github.com/runeforge/server/internal/protocol"
	"github.com/runeforge/server/internal/registry"
	"github.com/runeforge/server/internal/sim"
)

// vacatedTurnDelay is how long a vacated seat's turn lingers before the
// server ends it.
const vacatedTurnDelay = time.Second

func (c *Coordinator) handleAction(conn Conn, msg *protocol.Message) {
	var p protocol.ActionPayload
	if err := msg.DecodePayload(&p); err != nil {
		conn.Send(protocol.NewError(protocol.CodeInvalidAction, err.Error(), msg.Seq))
		return
	}
	room := c.sessionOf(conn.UserID())
	if room == nil {
		conn.Send(protocol.NewError(protocol.CodeGameNotFound, "not in a session", msg.Seq))
		return
	}
	err := room.Do(func(st *registry.State) {
		if st.Model.Status != model.StatusPlaying {
			conn.Send(protocol.NewError(protocol.CodeInvalidAction, "game is not running", msg.Seq))
			return
		}
		seat, ok := st.Seats[conn.UserID()]
		if !ok || seat.Player.Status == model.PlayerSpectating {
			conn.Send(protocol.NewError(protocol.CodeForbidden, "spectators cannot act", msg.Seq))
			return
		}
		if seat.Player.UnitID != p.Action.UnitID {
			conn.Send(protocol.NewError(protocol.CodeForbidden, "that unit is not yours", msg.Seq))
			return
		}
		cur := st.Game.CurrentUnit()
		if cur == nil || cur.ID != p.Action.UnitID {
			conn.Send(protocol.NewError(protocol.CodeNotYourTurn, "wait for your turn", msg.Seq))
			return
		}

		if err := c.applyStep(st, p.Action); err != nil {
			var inv *sim.InvalidActionError
			if errors.As(err, &inv) {
				e := protocol.NewResponse(protocol.TypeError, protocol.ErrorPayload{
					Code:    protocol.CodeInvalidAction,
					Message: inv.Detail,
					Reason:  inv.Reason,
				}, msg.Seq, false)
				e.Error = protocol.CodeInvalidAction
				conn.Send(e)
				return
			}
			slog.Error("applying action failed", "sessionID", st.Model.ID, "error", err)
			conn.Send(protocol.NewError(protocol.CodeInternalError, "action failed", msg.Seq))
			return
		}
		ack := protocol.NewResponse(protocol.TypeAction, p, msg.Seq, true)
		conn.Send(ack)
	})
	if err != nil {
		conn.Send(protocol.NewError(protocol.CodeInternalError, "game is busy", msg.Seq))
	}
}

// applyStep runs one simulation action and publishes the outcome: events
// first, then the versioned delta, then any turn or game transition. The
// step is persisted before the room state advances, so a failed write leaves
// memory at the pre-action snapshot and nothing is broadcast. Runs on the
// room goroutine.
func (c *Coordinator) applyStep(st *registry.State, action sim.Action) error {
	old := st.Game
	next, events, err := sim.ExecuteAction(action, old)
	if err != nil {
		return err
	}

	ops, err := delta.Compute(old, next)
	if err != nil {
		return err
	}
	prev := st.Version

	ctx, cancel := opContext()
	defer cancel()
	if err := c.store.SaveState(ctx, st.Model.ID, prev, next, eventDocs(events)); err != nil {
		return fmt.Errorf("persisting step for session %s: %w", st.Model.ID, err)
	}

	st.Game = next
	st.Version = prev + 1
	st.AppendEvents(events)
	st.Tally(events)

	st.Broadcast(protocol.New(protocol.TypeEvents, protocol.EventsPayload{
		SessionID: st.Model.ID,
		Events:    events,
	}))
	st.Broadcast(protocol.New(protocol.TypeStateDelta, protocol.StateDeltaPayload{
		SessionID: st.Model.ID,
		Delta: delta.Delta{
			Version:         st.Version,
			PreviousVersion: prev,
			Changes:         ops,
		},
	}))

	if st.Game.Combat.Phase == sim.PhaseVictory || st.Game.Combat.Phase == sim.PhaseDefeat {
		c.endGame(st, string(st.Game.Combat.Phase))
		return nil
	}
	for _, ev := range events {
		if ev.Type == sim.EventTurnStarted {
			c.scheduleTurn(st)
			break
		}
	}
	return nil
}

// scheduleTurn announces the new turn and arms the matching timer: the AI
// delay for monsters, the turn clock for players, a short grace for vacated
// seats. Runs on the room goroutine.
func (c *Coordinator) scheduleTurn(st *registry.State) {
	room := c.rooms.Get(st.Model.ID)
	if room == nil {
		return
	}
	if st.TurnTimer != nil {
		st.TurnTimer.Stop()
		st.TurnTimer = nil
	}
	if st.MonsterTimer != nil {
		st.MonsterTimer.Stop()
		st.MonsterTimer = nil
	}

	unit := st.Game.CurrentUnit()
	if unit == nil {
		return
	}
	change := protocol.TurnChangePayload{
		SessionID: st.Model.ID,
		UnitID:    unit.ID,
		Round:     st.Game.Combat.Round,
	}

	if unit.Type == sim.UnitMonster {
		st.Broadcast(protocol.New(protocol.TypeTurnChange, change))
		st.MonsterTimer = time.AfterFunc(c.cfg.MonsterDelay, func() {
			c.runMonsterTurn(room)
		})
		return
	}

	seat := st.SeatByUnit(unit.ID)
	if seat != nil {
		change.UserID = seat.Player.UserID
	}
	limit := st.Model.Config.TurnTimeLimit
	if seat == nil || !seat.Connected() {
		// Nobody is driving this unit; end its turn shortly.
		unitID := unit.ID
		st.TurnTimer = time.AfterFunc(vacatedTurnDelay, func() {
			c.forceEndTurn(room, unitID)
		})
	} else if limit > 0 {
		change.Deadline = time.Now().Add(time.Duration(limit) * time.Second).UnixMilli()
		unitID := unit.ID
		st.TurnTimer = time.AfterFunc(time.Duration(limit)*time.Second, func() {
			c.forceEndTurn(room, unitID)
		})
	}
	st.Broadcast(protocol.New(protocol.TypeTurnChange, change))
}

// forceEndTurn ends a unit's turn from a timer, checking the turn is still
// theirs.
func (c *Coordinator) forceEndTurn(room *registry.Session, unitID string) {
	_ = room.Do(func(st *registry.State) {
		if st.Model.Status != model.StatusPlaying || st.Game == nil {
			return
		}
		cur := st.Game.CurrentUnit()
		if cur == nil || cur.ID != unitID {
			return
		}
		slog.Info("turn timed out", "sessionID", st.Model.ID, "unitID", unitID)
		if err := c.applyStep(st, sim.Action{Type: sim.ActionEndTurn, UnitID: unitID}); err != nil {
			slog.Error("forced end turn failed", "sessionID", st.Model.ID, "unitID", unitID, "error", err)
		}
	})
}

// runMonsterTurn plans and executes the current monster's whole turn.
func (c *Coordinator) runMonsterTurn(room *registry.Session) {
	_ = room.Do(func(st *registry.State) {
		if st.Model.Status != model.StatusPlaying || st.Game == nil {
			return
		}
		unit := st.Game.CurrentUnit()
		if unit == nil || unit.Type != sim.UnitMonster {
			return
		}
		plan := sim.DecideMonsterTurn(st.Game, st.Model.Config.MapSeed)
		for _, a := range plan {
			if st.Model.Status != model.StatusPlaying {
				return // the plan ended the game
			}
			if cur := st.Game.CurrentUnit(); cur == nil || cur.ID != a.UnitID {
				return
			}
			if err := c.applyStep(st, a); err != nil {
				slog.Error("monster action failed",
					"sessionID", st.Model.ID,
					"unitID", a.UnitID,
					"action", a.Type,
					"error", err)
				// Recover by yielding the turn.
				if err := c.applyStep(st, sim.Action{Type: sim.ActionEndTurn, UnitID: a.UnitID}); err != nil {
					slog.Error("monster yield failed", "sessionID", st.Model.ID, "error", err)
				}
				return
			}
		}
	})
}

// skipIfCurrentSeatGone re-checks the current turn after a seat vacates so a
// running game does not stall. Runs on the room goroutine.
func (c *Coordinator) skipIfCurrentSeatGone(st *registry.State) {
	if st.Game == nil || st.Model.Status != model.StatusPlaying {
		return
	}
	unit := st.Game.CurrentUnit()
	if unit == nil || unit.Type != sim.UnitPlayer {
		return
	}
	seat := st.SeatByUnit(unit.ID)
	if seat != nil && seat.Connected() {
		return
	}
	room := c.rooms.Get(st.Model.ID)
	if room == nil {
		return
	}
	if st.TurnTimer != nil {
		st.TurnTimer.Stop()
	}
	unitID := unit.ID
	st.TurnTimer = time.AfterFunc(vacatedTurnDelay, func() {
		c.forceEndTurn(room, unitID)
	})
}

// startGame builds the encounter and opens combat. Runs on the room
// goroutine; the caller has already verified the DM and lobby readiness.
func (c *Coordinator) startGame(st *registry.State) error {
	ctx, cancel := opContext()
	defer cancel()

	// Seat order is deterministic: join time, then user id.
	type entry struct {
		seat *registry.Seat
		char *model.Character
	}
	entries := make([]entry, 0, len(st.Seats))
	for _, seat := range st.Seats {
		char, err := c.store.CharacterByID(ctx, seat.Player.CharacterID)
		if err != nil {
			return err
		}
		if char == nil {
			continue
		}
		entries = append(entries, entry{seat: seat, char: char})
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].seat.Player, entries[j].seat.Player
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return a.UserID < b.UserID
	})

	specs := make([]sim.PlayerSpec, 0, len(entries))
	for _, e := range entries {
		specs = append(specs, sim.PlayerSpec{
			CharacterID: e.char.ID,
			Name:        e.char.Name,
			Class:       e.char.Class,
			Level:       e.char.Level(),
			WeaponID:    e.char.Inventory.EquippedWeapon,
		})
	}

	seed := st.Model.Config.MapSeed
	m := sim.GenerateMap(sim.MapOptions{Seed: seed})
	units := sim.GenerateUnits(sim.UnitOptions{
		Seed:       seed,
		Map:        &m,
		Players:    specs,
		Difficulty: st.Model.Config.Difficulty,
	})
	base := &sim.GameState{Map: m, Units: units}
	game, events := sim.StartCombat(base, seed)

	unitByUser := make(map[string]string, len(entries))
	for i, e := range entries {
		unitID := units[i].ID
		e.seat.Player.UnitID = unitID
		unitByUser[e.seat.Player.UserID] = unitID
	}
	if err := c.store.AssignUnits(ctx, st.Model.ID, unitByUser); err != nil {
		return err
	}
	if err := c.store.UpdateSessionStatus(ctx, st.Model.ID, model.StatusPlaying); err != nil {
		return err
	}
	if err := c.store.SaveState(ctx, st.Model.ID, 0, game, eventDocs(events)); err != nil {
		return err
	}

	st.Model.Status = model.StatusPlaying
	st.Game = game
	st.Version = 1
	st.AppendEvents(events)

	info := sessionInfo(st)
	st.Broadcast(protocol.New(protocol.TypeGameState, protocol.GameStatePayload{
		SessionID: st.Model.ID,
		Version:   st.Version,
		State:     st.Game,
		Session:   &info,
		Reason:    "game_started",
	}))
	st.Broadcast(protocol.New(protocol.TypeEvents, protocol.EventsPayload{
		SessionID: st.Model.ID,
		Events:    events,
	}))
	c.scheduleTurn(st)

	slog.Info("game started",
		"sessionID", st.Model.ID,
		"players", len(specs),
		"units", len(units),
		"difficulty", st.Model.Config.Difficulty)
	return nil
}

// endGame settles rewards, archives the session, and dissolves the room.
// Runs on the room goroutine.
func (c *Coordinator) endGame(st *registry.State, reason string) {
	if st.Model.Status == model.StatusEnded {
		return
	}
	st.Model.Status = model.StatusEnded
	if st.TurnTimer != nil {
		st.TurnTimer.Stop()
	}
	if st.MonsterTimer != nil {
		st.MonsterTimer.Stop()
	}

	outcome := sim.PhaseNotStarted
	if st.Game != nil {
		outcome = st.Game.Combat.Phase
	}
	rewards, grants := c.computeRewards(st, outcome)

	ctx, cancel := opContext()
	defer cancel()
	if err := c.store.ApplyRewards(ctx, grants); err != nil {
		slog.Error("applying rewards failed", "sessionID", st.Model.ID, "error", err)
	}
	if err := c.store.ArchiveSession(ctx, st.Model.ID, st.Game, eventDocs(st.Events)); err != nil {
		slog.Error("archiving session failed", "sessionID", st.Model.ID, "error", err)
	}

	st.Broadcast(protocol.New(protocol.TypeGameEnded, protocol.GameEndedPayload{
		SessionID: st.Model.ID,
		Outcome:   outcome,
		Rewards:   rewards,
	}))
	for userID := range st.Seats {
		c.untrackUser(userID)
	}
	slog.Info("game ended",
		"sessionID", st.Model.ID,
		"reason", reason,
		"outcome", outcome,
		"rounds", roundsPlayed(st))

	c.rooms.Remove(st.Model.ID)
}

// eventDocs widens simulation events for the persistence layer.
func eventDocs(events []sim.Event) []any {
	out := make([]any, len(events))
	for i, ev := range events {
		out[i] = ev
	}
	return out
}

func roundsPlayed(st *registry.State) int {
	if st.Game == nil {
		return 0
	}
	return st.Game.Combat.Round
}
