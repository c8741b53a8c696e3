package sim

// StartCombat rolls initiative and opens the encounter. The returned state is
// a new snapshot; the input is not mutated.
func StartCombat(s *GameState, seed int64) (*GameState, []Event) {
	out := s.Clone()
	out.RngState = uint64(seed)

	out.Combat.Phase = PhaseActive
	out.Combat.Round = 1
	out.Combat.InitiativeOrder = rollInitiative(out.Units, seed)
	out.Combat.CurrentTurnIndex = 0

	em := newEmitter(out)
	if first := out.CurrentUnit(); first != nil {
		out.Combat.TurnState = TurnState{MovementRemaining: first.Stats.Movement}
		em.emit(Event{Type: EventTurnStarted, UnitID: first.ID, Round: out.Combat.Round})
	}
	return out, em.events
}

// ExecuteAction validates and applies one action for the unit whose turn it
// is. On validation failure the returned error is an *InvalidActionError and
// the input state is untouched. On success the returned state is a new
// snapshot and the events describe every observable change in order.
func ExecuteAction(a Action, s *GameState) (*GameState, []Event, error) {
	if s.Combat.Phase != PhaseActive {
		return nil, nil, invalid(ReasonCombatNotActive, "combat phase is %s", s.Combat.Phase)
	}
	current := s.CurrentUnit()
	if current == nil {
		return nil, nil, invalid(ReasonCombatNotActive, "no current unit")
	}
	if a.UnitID != current.ID {
		return nil, nil, invalid(ReasonNotUnitsTurn, "current turn belongs to %s", current.ID)
	}

	out := s.Clone()
	em := newEmitter(out)
	unit := out.Unit(a.UnitID)

	var err error
	switch a.Type {
	case ActionMove:
		err = applyMove(out, em, unit, a.Path)
	case ActionAttack:
		err = applyAttack(out, em, unit, a.TargetID)
	case ActionCollectLoot:
		err = applyCollectLoot(out, em, unit, a.DropID)
	case ActionEndTurn:
		applyEndTurn(out, em, unit)
	default:
		err = invalid(ReasonUnknownAction, "type %q", a.Type)
	}
	if err != nil {
		return nil, nil, err
	}
	return out, em.events, nil
}

func applyMove(s *GameState, em *emitter, u *Unit, path []Position) error {
	if err := validatePath(s, u, path, s.Combat.TurnState.MovementRemaining); err != nil {
		return err
	}
	from := u.Position
	u.Position = path[len(path)-1]
	s.Combat.TurnState.MovementRemaining -= len(path)
	em.emit(Event{
		Type:   EventUnitMoved,
		UnitID: u.ID,
		From:   &from,
		To:     &u.Position,
		Path:   path,
	})
	return nil
}

func applyAttack(s *GameState, em *emitter, u *Unit, targetID string) error {
	if s.Combat.TurnState.ActionUsed {
		return invalid(ReasonActionAlreadyUsed, "unit %s already acted this turn", u.ID)
	}
	target := s.Unit(targetID)
	if target == nil {
		return invalid(ReasonTargetNotFound, "no unit %q", targetID)
	}
	if !target.Alive() {
		return invalid(ReasonTargetDead, "unit %s is already defeated", targetID)
	}
	dist := chebyshev(u.Position, target.Position)
	if dist > u.AttackRange() {
		return invalid(ReasonOutOfRange, "distance %d exceeds range %d", dist, u.AttackRange())
	}
	if u.AttackRange() > 1 && !lineOfSight(&s.Map, u.Position, target.Position) {
		return invalid(ReasonNoLineOfSight, "wall between %s and %s", u.ID, targetID)
	}

	r := stateRng(s)
	damage := u.Stats.Attack + u.WeaponDamage - target.Stats.Defense + r.offset()
	if damage < 1 {
		damage = 1
	}
	target.HP -= damage
	if target.HP < 0 {
		target.HP = 0
	}
	s.Combat.TurnState.ActionUsed = true
	em.emit(Event{Type: EventUnitAttacked, UnitID: u.ID, TargetID: targetID, Damage: damage})

	if !target.Alive() {
		defeatUnit(s, em, target, u.ID)
	}
	return nil
}

// defeatUnit removes the target from initiative, rolls its loot, and checks
// the end-of-encounter condition.
func defeatUnit(s *GameState, em *emitter, target *Unit, attackerID string) {
	em.emit(Event{Type: EventUnitDefeated, UnitID: target.ID, AttackerID: attackerID})

	for i, id := range s.Combat.InitiativeOrder {
		if id != target.ID {
			continue
		}
		s.Combat.InitiativeOrder = append(s.Combat.InitiativeOrder[:i], s.Combat.InitiativeOrder[i+1:]...)
		if i < s.Combat.CurrentTurnIndex {
			s.Combat.CurrentTurnIndex--
		} else if s.Combat.CurrentTurnIndex >= len(s.Combat.InitiativeOrder) {
			s.Combat.CurrentTurnIndex = 0
		}
		break
	}

	if target.Type == UnitMonster {
		rollLoot(s, em, target)
	}

	alivePlayers, aliveMonsters := 0, 0
	for i := range s.Units {
		if !s.Units[i].Alive() {
			continue
		}
		if s.Units[i].Type == UnitPlayer {
			alivePlayers++
		} else {
			aliveMonsters++
		}
	}
	switch {
	case aliveMonsters == 0:
		s.Combat.Phase = PhaseVictory
		em.emit(Event{Type: EventGameOver, Phase: PhaseVictory})
	case alivePlayers == 0:
		s.Combat.Phase = PhaseDefeat
		em.emit(Event{Type: EventGameOver, Phase: PhaseDefeat})
	}
}

func applyCollectLoot(s *GameState, em *emitter, u *Unit, dropID string) error {
	if s.Combat.TurnState.ActionUsed {
		return invalid(ReasonActionAlreadyUsed, "unit %s already acted this turn", u.ID)
	}
	drop := s.Drop(dropID)
	if drop == nil {
		return invalid(ReasonDropNotFound, "no drop %q", dropID)
	}
	if drop.Position != u.Position {
		return invalid(ReasonDropNotHere, "drop %s is at (%d,%d)", dropID, drop.Position.X, drop.Position.Y)
	}

	collected := *drop
	s.PlayerInventory.Gold += collected.Gold
	s.PlayerInventory.Silver += collected.Silver
	if collected.WeaponID != "" {
		s.PlayerInventory.Weapons = append(s.PlayerInventory.Weapons, collected.WeaponID)
	}
	for i := range s.LootDrops {
		if s.LootDrops[i].ID == dropID {
			s.LootDrops = append(s.LootDrops[:i], s.LootDrops[i+1:]...)
			break
		}
	}
	s.Combat.TurnState.ActionUsed = true
	em.emit(Event{
		Type:     EventLootCollected,
		UnitID:   u.ID,
		DropID:   dropID,
		Gold:     collected.Gold,
		Silver:   collected.Silver,
		WeaponID: collected.WeaponID,
	})
	return nil
}

func applyEndTurn(s *GameState, em *emitter, u *Unit) {
	em.emit(Event{Type: EventTurnEnded, UnitID: u.ID})
	s.TurnHistory = append(s.TurnHistory, TurnRecord{Round: s.Combat.Round, UnitID: u.ID})
	advanceTurn(s, em)
}

// advanceTurn moves to the next living unit in initiative, wrapping into a
// new round, and resets the turn budget.
func advanceTurn(s *GameState, em *emitter) {
	if len(s.Combat.InitiativeOrder) == 0 || s.Combat.Phase != PhaseActive {
		return
	}
	next := s.Combat.CurrentTurnIndex + 1
	if next >= len(s.Combat.InitiativeOrder) {
		next = 0
		s.Combat.Round++
	}
	s.Combat.CurrentTurnIndex = next
	unit := s.CurrentUnit()
	if unit == nil {
		return
	}
	s.Combat.TurnState = TurnState{MovementRemaining: unit.Stats.Movement}
	em.emit(Event{Type: EventTurnStarted, UnitID: unit.ID, Round: s.Combat.Round})
}
