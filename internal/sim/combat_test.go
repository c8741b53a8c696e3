package sim

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runeforge/server/internal/model"
)

// openState builds a small open arena with one player and one monster for
// focused rule tests.
func openState(t *testing.T) *GameState {
	t.Helper()
	m := Map{Width: 10, Height: 10, Tiles: make([][]Tile, 10)}
	for y := range m.Tiles {
		m.Tiles[y] = make([]Tile, 10)
		for x := range m.Tiles[y] {
			m.Tiles[y][x] = Tile{Walkable: true}
		}
	}
	s := &GameState{
		Map: m,
		Units: []Unit{
			{
				ID: "P1", Type: UnitPlayer, Name: "Hero", Position: Position{2, 2},
				HP: 12, Stats: model.Stats{MaxHP: 12, Attack: 4, Defense: 2, Movement: 3, Initiative: 10, Range_: 1},
			},
			{
				ID: "M1", Type: UnitMonster, Name: "Goblin", Position: Position{3, 3},
				HP: 4, Stats: model.Stats{MaxHP: 4, Attack: 2, Defense: 1, Movement: 4, Initiative: 1, Range_: 1},
			},
		},
	}
	started, events := StartCombat(s, 42)
	require.Equal(t, PhaseActive, started.Combat.Phase)
	require.NotEmpty(t, events)
	require.Equal(t, "P1", started.CurrentUnit().ID, "initiative 10 beats 1 regardless of the d6")
	return started
}

func TestStartCombat_InitiativeDeterministic(t *testing.T) {
	a := openState(t)
	b := openState(t)
	assert.Equal(t, a.Combat.InitiativeOrder, b.Combat.InitiativeOrder)
	assert.Equal(t, 1, a.Combat.Round)
}

func TestExecuteAction_MoveConsumesBudget(t *testing.T) {
	s := openState(t)
	next, events, err := ExecuteAction(Action{
		Type: ActionMove, UnitID: "P1",
		Path: []Position{{2, 3}, {2, 4}},
	}, s)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventUnitMoved, events[0].Type)
	assert.Equal(t, Position{2, 4}, next.Unit("P1").Position)
	assert.Equal(t, 1, next.Combat.TurnState.MovementRemaining)
	// Input snapshot untouched.
	assert.Equal(t, Position{2, 2}, s.Unit("P1").Position)
}

func TestExecuteAction_MoveValidation(t *testing.T) {
	s := openState(t)
	tests := []struct {
		name   string
		path   []Position
		reason string
	}{
		{"empty_path", nil, ReasonEmptyPath},
		{"diagonal_step", []Position{{3, 3}}, ReasonPathNotContiguous},
		{"non_contiguous", []Position{{2, 4}}, ReasonPathNotContiguous},
		{"too_long", []Position{{2, 3}, {2, 4}, {2, 5}, {2, 6}}, ReasonNotEnoughMovement},
		{"occupied_tile", []Position{{2, 3}, {3, 3}}, ReasonTileOccupied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ExecuteAction(Action{Type: ActionMove, UnitID: "P1", Path: tt.path}, s)
			var iae *InvalidActionError
			require.ErrorAs(t, err, &iae)
			assert.Equal(t, tt.reason, iae.Reason)
		})
	}
}

func TestExecuteAction_MovePathThroughWall(t *testing.T) {
	s := openState(t)
	s.Map.Tiles[3][2] = Tile{Wall: true}
	_, _, err := ExecuteAction(Action{Type: ActionMove, UnitID: "P1", Path: []Position{{2, 3}}}, s)
	var iae *InvalidActionError
	require.ErrorAs(t, err, &iae)
	assert.Equal(t, ReasonPathBlocked, iae.Reason)
}

func TestExecuteAction_NotUnitsTurn(t *testing.T) {
	s := openState(t)
	_, _, err := ExecuteAction(Action{Type: ActionEndTurn, UnitID: "M1"}, s)
	var iae *InvalidActionError
	require.ErrorAs(t, err, &iae)
	assert.Equal(t, ReasonNotUnitsTurn, iae.Reason)
}

func TestExecuteAction_AttackDamageBounds(t *testing.T) {
	s := openState(t)
	next, events, err := ExecuteAction(Action{Type: ActionAttack, UnitID: "P1", TargetID: "M1"}, s)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(events), 1)
	assert.Equal(t, EventUnitAttacked, events[0].Type)
	// damage = max(1, 4-1+[-1..1]) ∈ [2,4]
	assert.GreaterOrEqual(t, events[0].Damage, 2)
	assert.LessOrEqual(t, events[0].Damage, 4)
	assert.Equal(t, 4-events[0].Damage, next.Unit("M1").HP)
	assert.True(t, next.Combat.TurnState.ActionUsed)
}

func TestExecuteAction_SecondAttackRejected(t *testing.T) {
	s := openState(t)
	next, _, err := ExecuteAction(Action{Type: ActionAttack, UnitID: "P1", TargetID: "M1"}, s)
	require.NoError(t, err)
	if next.Combat.Phase != PhaseActive {
		t.Skip("first attack already ended the encounter")
	}
	_, _, err = ExecuteAction(Action{Type: ActionAttack, UnitID: "P1", TargetID: "M1"}, next)
	var iae *InvalidActionError
	require.ErrorAs(t, err, &iae)
	assert.Equal(t, ReasonActionAlreadyUsed, iae.Reason)
}

func TestExecuteAction_AttackOutOfRange(t *testing.T) {
	s := openState(t)
	s.Unit("M1").Position = Position{8, 8}
	_, _, err := ExecuteAction(Action{Type: ActionAttack, UnitID: "P1", TargetID: "M1"}, s)
	var iae *InvalidActionError
	require.ErrorAs(t, err, &iae)
	assert.Equal(t, ReasonOutOfRange, iae.Reason)
}

func TestExecuteAction_RangedAttackNeedsLineOfSight(t *testing.T) {
	s := openState(t)
	p1 := s.Unit("P1")
	p1.Stats.Range_ = 5
	s.Unit("M1").Position = Position{6, 2}
	s.Map.Tiles[2][4] = Tile{Wall: true}

	_, _, err := ExecuteAction(Action{Type: ActionAttack, UnitID: "P1", TargetID: "M1"}, s)
	var iae *InvalidActionError
	require.ErrorAs(t, err, &iae)
	assert.Equal(t, ReasonNoLineOfSight, iae.Reason)

	// Clear the wall: the same shot lands.
	s.Map.Tiles[2][4] = Tile{Walkable: true}
	_, events, err := ExecuteAction(Action{Type: ActionAttack, UnitID: "P1", TargetID: "M1"}, s)
	require.NoError(t, err)
	assert.Equal(t, EventUnitAttacked, events[0].Type)
}

func TestExecuteAction_DefeatRemovesFromInitiative(t *testing.T) {
	s := openState(t)
	s.Unit("M1").HP = 1
	next, events, err := ExecuteAction(Action{Type: ActionAttack, UnitID: "P1", TargetID: "M1"}, s)
	require.NoError(t, err)

	var defeated, gameOver bool
	for _, ev := range events {
		switch ev.Type {
		case EventUnitDefeated:
			defeated = true
			assert.Equal(t, "M1", ev.UnitID)
			assert.Equal(t, "P1", ev.AttackerID)
		case EventGameOver:
			gameOver = true
			assert.Equal(t, PhaseVictory, ev.Phase)
		}
	}
	assert.True(t, defeated)
	assert.True(t, gameOver, "last monster death ends the encounter")
	assert.Equal(t, PhaseVictory, next.Combat.Phase)
	assert.NotContains(t, next.Combat.InitiativeOrder, "M1")
	// Unit stays in the array at 0 HP.
	require.NotNil(t, next.Unit("M1"))
	assert.Equal(t, 0, next.Unit("M1").HP)
}

func TestExecuteAction_EndTurnAdvancesAndWraps(t *testing.T) {
	s := openState(t)
	next, events, err := ExecuteAction(Action{Type: ActionEndTurn, UnitID: "P1"}, s)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventTurnEnded, events[0].Type)
	assert.Equal(t, EventTurnStarted, events[1].Type)
	assert.Equal(t, "M1", next.CurrentUnit().ID)
	assert.Equal(t, 1, next.Combat.Round)
	assert.Equal(t, 4, next.Combat.TurnState.MovementRemaining, "budget resets to the new unit's movement")

	// Wrapping back to the first unit increments the round.
	wrapped, _, err := ExecuteAction(Action{Type: ActionEndTurn, UnitID: "M1"}, next)
	require.NoError(t, err)
	assert.Equal(t, "P1", wrapped.CurrentUnit().ID)
	assert.Equal(t, 2, wrapped.Combat.Round)
}

func TestExecuteAction_CollectLoot(t *testing.T) {
	s := openState(t)
	s.LootDrops = []LootDrop{{ID: "drop-1", Position: Position{2, 2}, Gold: 7, Silver: 11, WeaponID: "dagger"}}
	next, events, err := ExecuteAction(Action{Type: ActionCollectLoot, UnitID: "P1", DropID: "drop-1"}, s)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventLootCollected, events[0].Type)
	assert.Equal(t, 7, next.PlayerInventory.Gold)
	assert.Equal(t, 11, next.PlayerInventory.Silver)
	assert.Contains(t, next.PlayerInventory.Weapons, "dagger")
	assert.Empty(t, next.LootDrops)

	// Collecting from the wrong tile fails.
	s.LootDrops[0].Position = Position{5, 5}
	_, _, err = ExecuteAction(Action{Type: ActionCollectLoot, UnitID: "P1", DropID: "drop-1"}, s)
	var iae *InvalidActionError
	require.ErrorAs(t, err, &iae)
	assert.Equal(t, ReasonDropNotHere, iae.Reason)
}

func TestDeterminism_SameInputsSameOutputs(t *testing.T) {
	actions := []Action{
		{Type: ActionMove, UnitID: "P1", Path: []Position{{2, 3}}},
		{Type: ActionAttack, UnitID: "P1", TargetID: "M1"},
		{Type: ActionEndTurn, UnitID: "P1"},
	}

	runOnce := func() ([]byte, []Event) {
		s := openState(t)
		var all []Event
		for _, a := range actions {
			next, events, err := ExecuteAction(a, s)
			require.NoError(t, err)
			s = next
			all = append(all, events...)
			if s.Combat.Phase != PhaseActive {
				break
			}
		}
		raw, err := json.Marshal(s)
		require.NoError(t, err)
		return raw, all
	}

	stateA, eventsA := runOnce()
	stateB, eventsB := runOnce()
	assert.Equal(t, string(stateA), string(stateB))
	assert.Equal(t, eventsA, eventsB)
}

func TestEventIDsMonotonic(t *testing.T) {
	s := openState(t)
	var last int
	for _, a := range []Action{
		{Type: ActionMove, UnitID: "P1", Path: []Position{{2, 3}}},
		{Type: ActionEndTurn, UnitID: "P1"},
	} {
		next, events, err := ExecuteAction(a, s)
		require.NoError(t, err)
		for _, ev := range events {
			assert.Greater(t, ev.ID, last)
			last = ev.ID
		}
		s = next
	}
}
