package coordinator

import (
	"fmt"
	"log/slog"

	"github.com/runeforge/server/internal/db"
	"github.com/runeforge/server/internal/delta"
	"github.com/runeforge/server/internal/model"
	"github.com/runeforge/server/internal/protocol"
	"github.com/runeforge/server/internal/registry"
	"github.com/runeforge/server/internal/sim"
)

func (c *Coordinator) handleDMCommand(conn Conn, msg *protocol.Message) {
	var p protocol.DMCommandPayload
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
		if st.Model.DMUserID != conn.UserID() {
			conn.Send(protocol.NewError(protocol.CodeNotDM, "only the DM can do that", msg.Seq))
			return
		}

		var err error
		switch p.Command {
		case protocol.DMStartGame:
			err = c.dmStartGame(st)
		case protocol.DMPauseGame:
			err = c.dmSetPaused(st, true)
		case protocol.DMResumeGame:
			err = c.dmSetPaused(st, false)
		case protocol.DMEndGame:
			c.endGame(st, "ended_by_dm")
		case protocol.DMGrantWeapon:
			err = c.dmGrantWeapon(st, p)
		case protocol.DMGrantGold:
			err = c.dmGrant(st, p, db.RewardDelta{Gold: p.Amount})
		case protocol.DMGrantXP:
			err = c.dmGrant(st, p, db.RewardDelta{XP: p.Amount})
		case protocol.DMSpawnMonster:
			err = c.dmSpawnMonster(st, p)
		case protocol.DMRemoveMonster:
			err = c.dmRemoveMonster(st, p.UnitID)
		case protocol.DMModifyMonster:
			err = c.dmModifyMonster(st, p)
		case protocol.DMSkipTurn:
			err = c.dmSkipTurn(st)
		case protocol.DMKickPlayer:
			err = c.dmKickPlayer(st, p.TargetUserID)
		default:
			err = fmt.Errorf("unknown command %q", p.Command)
		}
		if err != nil {
			conn.Send(protocol.NewError(protocol.CodeInvalidAction, err.Error(), msg.Seq))
			return
		}
		conn.Send(protocol.NewResponse(protocol.TypeDMCommand, p, msg.Seq, true))
		slog.Info("dm command", "sessionID", st.Model.ID, "command", p.Command)
	})
	if err != nil {
		conn.Send(protocol.NewError(protocol.CodeInternalError, "game is busy", msg.Seq))
	}
}

func (c *Coordinator) dmStartGame(st *registry.State) error {
	if st.Model.Status != model.StatusLobby {
		return fmt.Errorf("game already started")
	}
	// maxPlayers bounds player seats; the DM holds one seat on top.
	players := 0
	for _, seat := range st.Seats {
		if seat.Player.UserID == st.Model.DMUserID {
			continue
		}
		if !seat.Player.IsReady {
			return fmt.Errorf("player %s is not ready", seat.DisplayName)
		}
		players++
	}
	if players == 0 {
		return fmt.Errorf("no players have joined")
	}
	return c.startGame(st)
}

func (c *Coordinator) dmSetPaused(st *registry.State, paused bool) error {
	next := model.StatusPlaying
	reason := "resumed"
	if paused {
		next = model.StatusPaused
		reason = "paused"
	}
	if !st.Model.Status.CanTransitionTo(next) {
		return fmt.Errorf("cannot %s a %s game", reason[:len(reason)-1], st.Model.Status)
	}

	ctx, cancel := opContext()
	defer cancel()
	if err := c.store.UpdateSessionStatus(ctx, st.Model.ID, next); err != nil {
		return err
	}
	st.Model.Status = next

	if paused {
		if st.TurnTimer != nil {
			st.TurnTimer.Stop()
			st.TurnTimer = nil
		}
		if st.MonsterTimer != nil {
			st.MonsterTimer.Stop()
			st.MonsterTimer = nil
		}
	}

	info := sessionInfo(st)
	st.Broadcast(protocol.New(protocol.TypeGameState, protocol.GameStatePayload{
		SessionID: st.Model.ID,
		Version:   st.Version,
		State:     st.Game,
		Session:   &info,
		Reason:    reason,
	}))
	if !paused {
		c.scheduleTurn(st)
	}
	return nil
}

func (c *Coordinator) dmGrantWeapon(st *registry.State, p protocol.DMCommandPayload) error {
	spec := sim.WeaponByID(p.WeaponID)
	if spec == nil {
		return fmt.Errorf("unknown weapon %q", p.WeaponID)
	}
	seat, ok := st.Seats[p.TargetUserID]
	if !ok {
		return fmt.Errorf("no player %q in this game", p.TargetUserID)
	}

	ctx, cancel := opContext()
	defer cancel()
	err := c.store.GrantWeapon(ctx, seat.Player.CharacterID, model.Weapon{
		ID:     spec.ID,
		Name:   spec.Name,
		Range_: spec.Range,
		Damage: spec.Damage,
	})
	if err != nil {
		return err
	}

	// Mid-game the unit picks the weapon up immediately.
	if st.Game != nil && seat.Player.UnitID != "" {
		return c.mutateState(st, func(g *sim.GameState) {
			u := g.Unit(seat.Player.UnitID)
			if u == nil {
				return
			}
			u.WeaponDamage = spec.Damage
			if spec.Range > u.Stats.Range_ {
				u.Stats.Range_ = spec.Range
			}
		})
	}
	return nil
}

func (c *Coordinator) dmGrant(st *registry.State, p protocol.DMCommandPayload, d db.RewardDelta) error {
	if p.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	seat, ok := st.Seats[p.TargetUserID]
	if !ok {
		return fmt.Errorf("no player %q in this game", p.TargetUserID)
	}
	ctx, cancel := opContext()
	defer cancel()
	return c.store.ApplyRewards(ctx, []db.RewardGrant{
		{CharacterID: seat.Player.CharacterID, Delta: d},
	})
}

func (c *Coordinator) dmSpawnMonster(st *registry.State, p protocol.DMCommandPayload) error {
	if st.Game == nil || st.Model.Status != model.StatusPlaying {
		return fmt.Errorf("no running game")
	}
	if p.Position == nil {
		return fmt.Errorf("spawn position required")
	}
	tmpl := sim.MonsterTemplateByName(p.Monster)
	if tmpl == nil {
		return fmt.Errorf("unknown monster %q", p.Monster)
	}
	pos := *p.Position
	if !st.Game.Map.Walkable(pos) {
		return fmt.Errorf("(%d,%d) is not walkable", pos.X, pos.Y)
	}
	if st.Game.UnitAt(pos) != nil {
		return fmt.Errorf("(%d,%d) is occupied", pos.X, pos.Y)
	}

	return c.mutateState(st, func(g *sim.GameState) {
		id := nextMonsterID(g)
		stats := tmpl.Stats
		hp := stats.MaxHP
		if p.HP > 0 {
			hp = p.HP
			stats.MaxHP = p.HP
		}
		g.Units = append(g.Units, sim.Unit{
			ID:       id,
			Type:     sim.UnitMonster,
			Name:     tmpl.Name,
			Position: pos,
			HP:       hp,
			Stats:    stats,
		})
		// The newcomer acts last in the current order.
		g.Combat.InitiativeOrder = append(g.Combat.InitiativeOrder, id)
	})
}

func (c *Coordinator) dmRemoveMonster(st *registry.State, unitID string) error {
	if st.Game == nil || st.Model.Status != model.StatusPlaying {
		return fmt.Errorf("no running game")
	}
	u := st.Game.Unit(unitID)
	if u == nil || u.Type != sim.UnitMonster {
		return fmt.Errorf("no monster %q", unitID)
	}
	return c.mutateState(st, func(g *sim.GameState) {
		unit := g.Unit(unitID)
		unit.HP = 0
		for i, id := range g.Combat.InitiativeOrder {
			if id != unitID {
				continue
			}
			g.Combat.InitiativeOrder = append(g.Combat.InitiativeOrder[:i], g.Combat.InitiativeOrder[i+1:]...)
			if i < g.Combat.CurrentTurnIndex {
				g.Combat.CurrentTurnIndex--
			} else if g.Combat.CurrentTurnIndex >= len(g.Combat.InitiativeOrder) {
				g.Combat.CurrentTurnIndex = 0
			}
			break
		}
		// Removing the last monster clears the dungeon.
		aliveMonsters := 0
		for i := range g.Units {
			if g.Units[i].Type == sim.UnitMonster && g.Units[i].Alive() {
				aliveMonsters++
			}
		}
		if aliveMonsters == 0 {
			g.Combat.Phase = sim.PhaseVictory
		}
	})
}

func (c *Coordinator) dmModifyMonster(st *registry.State, p protocol.DMCommandPayload) error {
	if st.Game == nil || st.Model.Status != model.StatusPlaying {
		return fmt.Errorf("no running game")
	}
	u := st.Game.Unit(p.UnitID)
	if u == nil || u.Type != sim.UnitMonster {
		return fmt.Errorf("no monster %q", p.UnitID)
	}
	if p.HP < 0 || p.Attack < 0 {
		return fmt.Errorf("hp and attack must be non-negative")
	}
	return c.mutateState(st, func(g *sim.GameState) {
		unit := g.Unit(p.UnitID)
		if p.HP > 0 {
			unit.HP = p.HP
			if p.HP > unit.Stats.MaxHP {
				unit.Stats.MaxHP = p.HP
			}
		}
		if p.Attack > 0 {
			unit.Stats.Attack = p.Attack
		}
	})
}

func (c *Coordinator) dmSkipTurn(st *registry.State) error {
	if st.Game == nil || st.Model.Status != model.StatusPlaying {
		return fmt.Errorf("no running game")
	}
	cur := st.Game.CurrentUnit()
	if cur == nil {
		return fmt.Errorf("no current turn")
	}
	return c.applyStep(st, sim.Action{Type: sim.ActionEndTurn, UnitID: cur.ID})
}

func (c *Coordinator) dmKickPlayer(st *registry.State, targetUserID string) error {
	if targetUserID == st.Model.DMUserID {
		return fmt.Errorf("the DM cannot kick themselves")
	}
	seat, ok := st.Seats[targetUserID]
	if !ok {
		return fmt.Errorf("no player %q in this game", targetUserID)
	}
	conn := seat.Conn
	c.removeSeat(st, targetUserID, "kicked")
	if conn != nil {
		conn.Close(4003, "kicked by the DM")
	}
	return nil
}

// mutateState applies a DM-authored change outside the rules engine and
// publishes it through the same versioned delta pipeline as actions. Runs on
// the room goroutine.
func (c *Coordinator) mutateState(st *registry.State, fn func(*sim.GameState)) error {
	old := st.Game
	next := old.Clone()
	fn(next)

	ops, err := delta.Compute(old, next)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}
	prev := st.Version

	// Same discipline as the action pipeline: nothing is visible until the
	// write lands.
	ctx, cancel := opContext()
	defer cancel()
	if err := c.store.SaveState(ctx, st.Model.ID, prev, next, nil); err != nil {
		return fmt.Errorf("persisting change for session %s: %w", st.Model.ID, err)
	}
	st.Game = next
	st.Version = prev + 1

	st.Broadcast(protocol.New(protocol.TypeStateDelta, protocol.StateDeltaPayload{
		SessionID: st.Model.ID,
		Delta: delta.Delta{
			Version:         st.Version,
			PreviousVersion: prev,
			Changes:         ops,
		},
	}))

	if st.Game.Combat.Phase == sim.PhaseVictory || st.Game.Combat.Phase == sim.PhaseDefeat {
		c.endGame(st, "dm_intervention")
	}
	return nil
}

// nextMonsterID returns the first unused monster id.
func nextMonsterID(g *sim.GameState) string {
	for n := 1; ; n++ {
		id := fmt.Sprintf("M%d", n)
		if g.Unit(id) == nil {
			return id
		}
	}
}
