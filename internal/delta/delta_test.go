package delta

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runeforge/server/internal/model"
	"github.com/runeforge/server/internal/sim"
)

// roundTrip asserts that applying Compute(old,new) to old yields new.
func roundTrip(t *testing.T, oldState, newState any) []Op {
	t.Helper()
	ops, err := Compute(oldState, newState)
	require.NoError(t, err)

	base, err := Normalize(oldState)
	require.NoError(t, err)
	want, err := Normalize(newState)
	require.NoError(t, err)

	got, err := Apply(base, ops)
	require.NoError(t, err)
	require.True(t, reflect.DeepEqual(want, got),
		"apply mismatch:\nops:  %#v\nwant: %#v\ngot:  %#v", ops, want, got)
	return ops
}

func TestCompute_NoChanges(t *testing.T) {
	s := map[string]any{"a": 1, "b": []int{1, 2}}
	ops, err := Compute(s, s)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestCompute_ScalarSet(t *testing.T) {
	ops := roundTrip(t,
		map[string]any{"round": 1, "phase": "active"},
		map[string]any{"round": 2, "phase": "active"},
	)
	require.Len(t, ops, 1)
	assert.Equal(t, OpSet, ops[0].Op)
	assert.Equal(t, "round", ops[0].Path)
}

func TestCompute_NestedPath(t *testing.T) {
	type pos struct {
		X int `json:"x"`
		Y int `json:"y"`
	}
	type unit struct {
		ID  string `json:"id"`
		Pos pos    `json:"position"`
	}
	type state struct {
		Units []unit `json:"units"`
	}
	oldS := state{Units: []unit{{ID: "P1", Pos: pos{2, 2}}, {ID: "M1", Pos: pos{5, 5}}}}
	newS := state{Units: []unit{{ID: "P1", Pos: pos{3, 3}}, {ID: "M1", Pos: pos{5, 5}}}}

	ops := roundTrip(t, oldS, newS)
	require.Len(t, ops, 2)
	assert.Equal(t, "units.0.position.x", ops[0].Path)
	assert.Equal(t, "units.0.position.y", ops[1].Path)
}

func TestCompute_ArrayAppendBecomesPush(t *testing.T) {
	ops := roundTrip(t,
		map[string]any{"log": []string{"a"}},
		map[string]any{"log": []string{"a", "b", "c"}},
	)
	require.Len(t, ops, 2)
	assert.Equal(t, OpPush, ops[0].Op)
	assert.Equal(t, "log", ops[0].Path)
	assert.Equal(t, "b", ops[0].Value)
	assert.Equal(t, "c", ops[1].Value)
}

func TestCompute_ArrayRemovalBecomesSplice(t *testing.T) {
	ops := roundTrip(t,
		map[string]any{"order": []string{"P1", "M1", "P2"}},
		map[string]any{"order": []string{"P1", "P2"}},
	)
	require.Len(t, ops, 1)
	assert.Equal(t, OpSplice, ops[0].Op)
	assert.Equal(t, 1, ops[0].Index)
	assert.Equal(t, 1, ops[0].DeleteCount)
}

func TestCompute_KeyDelete(t *testing.T) {
	ops := roundTrip(t,
		map[string]any{"a": 1, "b": 2},
		map[string]any{"a": 1},
	)
	require.Len(t, ops, 1)
	assert.Equal(t, OpDelete, ops[0].Op)
	assert.Equal(t, "b", ops[0].Path)
}

func TestApply_VersionGateScenario(t *testing.T) {
	// Splice with replacement items.
	base := []any{"a", "b", "c"}
	out, err := Apply(base, []Op{{Op: OpSplice, Path: "", Index: 1, DeleteCount: 1, Items: []any{"x", "y"}}})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "x", "y", "c"}, out)
}

func TestApply_Errors(t *testing.T) {
	_, err := Apply(map[string]any{"a": []any{1}}, []Op{{Op: OpSet, Path: "a.5"}})
	assert.Error(t, err)
	_, err = Apply(map[string]any{"a": 1}, []Op{{Op: OpSplice, Path: "a", Index: 0}})
	assert.Error(t, err)
	_, err = Apply(map[string]any{}, []Op{{Op: "rename", Path: "a"}})
	assert.Error(t, err)
}

// The property the protocol depends on: for any engine transition, the delta
// applied to the old snapshot reproduces the new snapshot exactly.
func TestCompute_SimulationParity(t *testing.T) {
	m := sim.GenerateMap(sim.MapOptions{Seed: 42})
	units := sim.GenerateUnits(sim.UnitOptions{
		Seed: 42,
		Map:  &m,
		Players: []sim.PlayerSpec{
			{CharacterID: "c1", Name: "Aria", Class: model.ClassRanger, Level: 1},
			{CharacterID: "c2", Name: "Borin", Class: model.ClassWarrior, Level: 1},
		},
		Difficulty: model.DifficultyNormal,
	})
	state := &sim.GameState{Map: m, Units: units}
	state, _ = sim.StartCombat(state, 42)

	// Walk a few turns through the engine, checking parity at each step.
	for i := 0; i < 6 && state.Combat.Phase == sim.PhaseActive; i++ {
		cur := state.CurrentUnit()
		require.NotNil(t, cur)

		var next *sim.GameState
		var err error
		if cur.Type == sim.UnitMonster {
			for _, a := range sim.DecideMonsterTurn(state, 42) {
				stepped, _, aerr := sim.ExecuteAction(a, state)
				require.NoError(t, aerr)
				roundTrip(t, state, stepped)
				state = stepped
				if state.Combat.Phase != sim.PhaseActive {
					break
				}
			}
			continue
		}
		next, _, err = sim.ExecuteAction(sim.Action{Type: sim.ActionEndTurn, UnitID: cur.ID}, state)
		require.NoError(t, err)
		roundTrip(t, state, next)
		state = next
	}
}
