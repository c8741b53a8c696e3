package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runeforge/server/internal/model"
)

// monsterTurnState puts the monster first in initiative on an open map.
func monsterTurnState(t *testing.T, monsterPos, playerPos Position) *GameState {
	t.Helper()
	m := Map{Width: 12, Height: 12, Tiles: make([][]Tile, 12)}
	for y := range m.Tiles {
		m.Tiles[y] = make([]Tile, 12)
		for x := range m.Tiles[y] {
			m.Tiles[y][x] = Tile{Walkable: true}
		}
	}
	s := &GameState{
		Map: m,
		Units: []Unit{
			{ID: "P1", Type: UnitPlayer, Position: playerPos, HP: 10,
				Stats: model.Stats{MaxHP: 10, Attack: 3, Defense: 2, Movement: 3, Initiative: 1, Range_: 1}},
			{ID: "M1", Type: UnitMonster, Position: monsterPos, HP: 6,
				Stats: model.Stats{MaxHP: 6, Attack: 3, Defense: 1, Movement: 3, Initiative: 20, Range_: 1}},
		},
	}
	started, _ := StartCombat(s, 7)
	require.Equal(t, "M1", started.CurrentUnit().ID)
	return started
}

func TestDecideMonsterTurn_AttacksAdjacent(t *testing.T) {
	s := monsterTurnState(t, Position{5, 5}, Position{5, 6})
	plan := DecideMonsterTurn(s, 42)
	require.NotEmpty(t, plan)
	assert.Equal(t, ActionAttack, plan[0].Type)
	assert.Equal(t, "P1", plan[0].TargetID)
	assert.Equal(t, ActionEndTurn, plan[len(plan)-1].Type)
}

func TestDecideMonsterTurn_ApproachesDistantPlayer(t *testing.T) {
	s := monsterTurnState(t, Position{2, 2}, Position{9, 2})
	plan := DecideMonsterTurn(s, 42)
	require.GreaterOrEqual(t, len(plan), 2)
	assert.Equal(t, ActionMove, plan[0].Type)
	assert.Len(t, plan[0].Path, 3, "spends the full movement budget closing distance")
	assert.Equal(t, ActionEndTurn, plan[len(plan)-1].Type)

	// The plan must execute cleanly through the engine.
	var err error
	for _, a := range plan {
		s, _, err = ExecuteAction(a, s)
		require.NoError(t, err)
	}
	assert.Equal(t, "P1", s.CurrentUnit().ID)
}

func TestDecideMonsterTurn_MoveThenAttack(t *testing.T) {
	s := monsterTurnState(t, Position{5, 5}, Position{5, 8})
	plan := DecideMonsterTurn(s, 42)
	require.Len(t, plan, 3)
	assert.Equal(t, ActionMove, plan[0].Type)
	assert.Equal(t, ActionAttack, plan[1].Type)
	assert.Equal(t, ActionEndTurn, plan[2].Type)
}

func TestDecideMonsterTurn_Deterministic(t *testing.T) {
	a := DecideMonsterTurn(monsterTurnState(t, Position{2, 2}, Position{9, 9}), 42)
	b := DecideMonsterTurn(monsterTurnState(t, Position{2, 2}, Position{9, 9}), 42)
	assert.Equal(t, a, b)
}
