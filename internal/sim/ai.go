package sim

import "sort"

// DecideMonsterTurn plans the current monster's turn: approach the nearest
// living player, attack when in range, then yield. The plan is a sequence of
// actions the caller runs through ExecuteAction one at a time; the last entry
// is always end_turn.
//
// Decisions are deterministic: target selection breaks distance ties by unit
// id, and the only random choice (step-axis preference) draws from a sequence
// seeded with mapSeed + round so replays reproduce the same turns.
func DecideMonsterTurn(s *GameState, mapSeed int64) []Action {
	unit := s.CurrentUnit()
	if unit == nil || unit.Type != UnitMonster {
		return nil
	}
	plan := []Action{}

	target := nearestPlayer(s, unit)
	if target == nil {
		return append(plan, Action{Type: ActionEndTurn, UnitID: unit.ID})
	}

	r := newRng(uint64(mapSeed) + uint64(s.Combat.Round))
	pos := unit.Position
	var path []Position
	budget := s.Combat.TurnState.MovementRemaining
	for len(path) < budget && chebyshev(pos, target.Position) > unit.AttackRange() {
		step, ok := stepToward(s, unit, pos, target.Position, r)
		if !ok {
			break
		}
		path = append(path, step)
		pos = step
	}
	if len(path) > 0 {
		plan = append(plan, Action{Type: ActionMove, UnitID: unit.ID, Path: path})
	}
	if chebyshev(pos, target.Position) <= unit.AttackRange() {
		if unit.AttackRange() == 1 || lineOfSight(&s.Map, pos, target.Position) {
			plan = append(plan, Action{Type: ActionAttack, UnitID: unit.ID, TargetID: target.ID})
		}
	}
	return append(plan, Action{Type: ActionEndTurn, UnitID: unit.ID})
}

// nearestPlayer picks the closest living player unit; ties break by unit id
// ascending.
func nearestPlayer(s *GameState, from *Unit) *Unit {
	type cand struct {
		idx  int
		dist int
		id   string
	}
	var cands []cand
	for i := range s.Units {
		u := &s.Units[i]
		if u.Type != UnitPlayer || !u.Alive() {
			continue
		}
		cands = append(cands, cand{idx: i, dist: chebyshev(from.Position, u.Position), id: u.ID})
	}
	if len(cands) == 0 {
		return nil
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].dist != cands[j].dist {
			return cands[i].dist < cands[j].dist
		}
		return cands[i].id < cands[j].id
	})
	return &s.Units[cands[0].idx]
}

// stepToward returns the next orthogonal step from pos toward goal that is
// walkable and unoccupied. When both axes shorten the distance, the seeded
// draw picks which to try first.
func stepToward(s *GameState, mover *Unit, pos, goal Position, r *rng) (Position, bool) {
	var candidates []Position
	dx, dy := goal.X-pos.X, goal.Y-pos.Y

	xStep := Position{X: pos.X + sign(dx), Y: pos.Y}
	yStep := Position{X: pos.X, Y: pos.Y + sign(dy)}
	switch {
	case dx != 0 && dy != 0:
		if r.intn(2) == 0 {
			candidates = []Position{xStep, yStep}
		} else {
			candidates = []Position{yStep, xStep}
		}
	case dx != 0:
		candidates = []Position{xStep}
	case dy != 0:
		candidates = []Position{yStep}
	}

	for _, c := range candidates {
		if !s.Map.Walkable(c) {
			continue
		}
		if occ := s.UnitAt(c); occ != nil && occ.ID != mover.ID {
			continue
		}
		return c, true
	}
	return Position{}, false
}

func sign(n int) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	}
	return 0
}
