// Package sim is the deterministic rules engine for Rune Forge combat.
// It is a pure library: every entry point takes a state, returns a new state
// plus the events describing what changed, and never touches the clock, the
// network, or any global. All randomness flows through the seeded sequence
// stored inside the state, so identical inputs always produce identical
// outputs.
package sim

import "github.com/runeforge/server/internal/model"

// CombatPhase is the encounter lifecycle.
type CombatPhase string

const (
	PhaseNotStarted CombatPhase = "not_started"
	PhaseActive     CombatPhase = "active"
	PhaseVictory    CombatPhase = "victory"
	PhaseDefeat     CombatPhase = "defeat"
)

// UnitType distinguishes player-controlled units from monsters.
type UnitType string

const (
	UnitPlayer  UnitType = "player"
	UnitMonster UnitType = "monster"
)

// Position is a tile coordinate.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Tile is one map cell.
type Tile struct {
	Walkable bool `json:"walkable"`
	Wall     bool `json:"wall"`
}

// Map is the encounter grid. Tiles are addressed [y][x].
type Map struct {
	Width  int      `json:"width"`
	Height int      `json:"height"`
	Tiles  [][]Tile `json:"tiles"`
}

// InBounds reports whether p lies on the map.
func (m *Map) InBounds(p Position) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < m.Width && p.Y < m.Height
}

// Walkable reports whether p is on the map and walkable.
func (m *Map) Walkable(p Position) bool {
	return m.InBounds(p) && m.Tiles[p.Y][p.X].Walkable
}

// Unit is one combatant. Defeated units stay in the array with HP 0 but are
// removed from the initiative order.
type Unit struct {
	ID          string      `json:"id"`
	Type        UnitType    `json:"type"`
	Name        string      `json:"name"`
	CharacterID string      `json:"characterId,omitempty"`
	Position    Position    `json:"position"`
	HP          int         `json:"hp"`
	Stats       model.Stats `json:"stats"`
	WeaponDamage int        `json:"weaponDamage,omitempty"`
}

// Alive reports whether the unit still has hit points.
func (u *Unit) Alive() bool { return u.HP > 0 }

// AttackRange is the unit's effective range: stat range, at minimum melee.
func (u *Unit) AttackRange() int {
	if u.Stats.Range_ < 1 {
		return 1
	}
	return u.Stats.Range_
}

// TurnState is the per-turn budget of the unit whose turn it is.
type TurnState struct {
	MovementRemaining int  `json:"movementRemaining"`
	ActionUsed        bool `json:"actionUsed"`
}

// Combat is the encounter block: phase, round, and the fixed initiative order.
type Combat struct {
	Phase            CombatPhase `json:"phase"`
	Round            int         `json:"round"`
	InitiativeOrder  []string    `json:"initiativeOrder"`
	CurrentTurnIndex int         `json:"currentTurnIndex"`
	TurnState        TurnState   `json:"turnState"`
}

// LootDrop is a collectible left on a tile by a defeated monster.
type LootDrop struct {
	ID       string   `json:"id"`
	Position Position `json:"position"`
	Gold     int      `json:"gold"`
	Silver   int      `json:"silver"`
	WeaponID string   `json:"weaponId,omitempty"`
}

// PlayerInventory aggregates the party's collected spoils for the session.
type PlayerInventory struct {
	Gold    int      `json:"gold"`
	Silver  int      `json:"silver"`
	Weapons []string `json:"weapons"`
}

// TurnRecord is one entry of the turn history.
type TurnRecord struct {
	Round  int    `json:"round"`
	UnitID string `json:"unitId"`
}

// GameState is the authoritative simulation snapshot. It serializes to JSON
// both for persistence and for full-state sync; delta paths address the JSON
// field names below (e.g. "units.0.position", "combat.turnState").
type GameState struct {
	Map             Map             `json:"map"`
	Units           []Unit          `json:"units"`
	Combat          Combat          `json:"combat"`
	TurnHistory     []TurnRecord    `json:"turnHistory"`
	LootDrops       []LootDrop      `json:"lootDrops"`
	PlayerInventory PlayerInventory `json:"playerInventory"`

	// RngState is the seeded random sequence cursor; every draw advances it.
	RngState uint64 `json:"rngState"`
	// NextEventID keeps event ids monotonic within the session.
	NextEventID int `json:"nextEventId"`
	// NextDropID keeps loot drop ids unique and deterministic.
	NextDropID int `json:"nextDropId"`
}

// Unit returns the unit with the given id, or nil.
func (s *GameState) Unit(id string) *Unit {
	for i := range s.Units {
		if s.Units[i].ID == id {
			return &s.Units[i]
		}
	}
	return nil
}

// UnitAt returns the living unit occupying p, or nil.
func (s *GameState) UnitAt(p Position) *Unit {
	for i := range s.Units {
		u := &s.Units[i]
		if u.Alive() && u.Position == p {
			return u
		}
	}
	return nil
}

// CurrentUnit returns the unit whose turn it is, or nil outside active combat.
func (s *GameState) CurrentUnit() *Unit {
	if s.Combat.Phase != PhaseActive {
		return nil
	}
	if s.Combat.CurrentTurnIndex < 0 || s.Combat.CurrentTurnIndex >= len(s.Combat.InitiativeOrder) {
		return nil
	}
	return s.Unit(s.Combat.InitiativeOrder[s.Combat.CurrentTurnIndex])
}

// DropAt returns the loot drop at p, or nil.
func (s *GameState) DropAt(p Position) *LootDrop {
	for i := range s.LootDrops {
		if s.LootDrops[i].Position == p {
			return &s.LootDrops[i]
		}
	}
	return nil
}

// Drop returns the loot drop with the given id, or nil.
func (s *GameState) Drop(id string) *LootDrop {
	for i := range s.LootDrops {
		if s.LootDrops[i].ID == id {
			return &s.LootDrops[i]
		}
	}
	return nil
}

// Clone deep-copies the state. ExecuteAction clones before mutating so a
// rejected action leaves the caller's snapshot untouched.
func (s *GameState) Clone() *GameState {
	out := *s
	out.Map.Tiles = make([][]Tile, len(s.Map.Tiles))
	for y := range s.Map.Tiles {
		out.Map.Tiles[y] = append([]Tile(nil), s.Map.Tiles[y]...)
	}
	out.Units = append([]Unit(nil), s.Units...)
	out.Combat.InitiativeOrder = append([]string(nil), s.Combat.InitiativeOrder...)
	out.TurnHistory = append([]TurnRecord(nil), s.TurnHistory...)
	out.LootDrops = append([]LootDrop(nil), s.LootDrops...)
	out.PlayerInventory.Weapons = append([]string(nil), s.PlayerInventory.Weapons...)
	return &out
}
