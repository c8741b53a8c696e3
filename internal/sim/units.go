package sim

import (
	"fmt"
	"sort"

	"github.com/runeforge/server/internal/model"
)

// PlayerSpec describes one participating character for unit generation.
type PlayerSpec struct {
	CharacterID string
	Name        string
	Class       model.CharacterClass
	Level       int
	WeaponID    string // equipped weapon id, empty = unarmed
}

// UnitOptions parameterizes GenerateUnits.
type UnitOptions struct {
	Seed       int64
	Map        *Map
	Players    []PlayerSpec
	Difficulty model.Difficulty
}

// monsterTemplate is a scaling base for generated monsters.
type monsterTemplate struct {
	name string
	stats model.Stats
}

var monsterTemplates = []monsterTemplate{
	{name: "Goblin", stats: model.Stats{MaxHP: 4, Attack: 2, Defense: 1, Movement: 4, Initiative: 3, Range_: 1}},
	{name: "Skeleton", stats: model.Stats{MaxHP: 6, Attack: 3, Defense: 1, Movement: 3, Initiative: 2, Range_: 1}},
	{name: "Orc", stats: model.Stats{MaxHP: 8, Attack: 4, Defense: 2, Movement: 3, Initiative: 2, Range_: 1}},
	{name: "Dark Archer", stats: model.Stats{MaxHP: 5, Attack: 3, Defense: 1, Movement: 3, Initiative: 4, Range_: 4}},
}

// MonsterTemplate is a spawnable monster archetype, exposed for DM spawns.
type MonsterTemplate struct {
	Name  string
	Stats model.Stats
}

// MonsterTemplateByName returns the archetype with the given name, or nil.
func MonsterTemplateByName(name string) *MonsterTemplate {
	for _, t := range monsterTemplates {
		if t.name == name {
			return &MonsterTemplate{Name: t.name, Stats: t.stats}
		}
	}
	return nil
}

// difficultyMonsterCount returns how many monsters spawn per player.
func difficultyMonsterCount(d model.Difficulty, players int) int {
	switch d {
	case model.DifficultyEasy:
		return players
	case model.DifficultyHard:
		return players * 2
	default:
		return players + players/2 + 1
	}
}

// difficultyStatBonus is added to monster attack/hp on hard.
func difficultyStatBonus(d model.Difficulty) int {
	if d == model.DifficultyHard {
		return 1
	}
	return 0
}

// GenerateUnits places player units in the first carved room and distributes
// monsters across the remaining walkable area, far from the party. Unit ids
// are "P1..Pn" for players and "M1..Mn" for monsters, assigned in input
// order, which also breaks initiative ties deterministically.
func GenerateUnits(opts UnitOptions) []Unit {
	tiles := walkableTiles(opts.Map)
	if len(tiles) == 0 {
		return nil
	}

	r := newRng(uint64(opts.Seed) ^ 0xda3e39cb94b95bdb)
	units := make([]Unit, 0, len(opts.Players)+8)

	// Party spawns on the first walkable tiles in scan order (the first room).
	for i, p := range opts.Players {
		stats := model.DeriveStats(p.Class, p.Level)
		weaponDamage := 0
		if w := WeaponByID(p.WeaponID); w != nil {
			if w.Range > stats.Range_ {
				stats.Range_ = w.Range
			}
			weaponDamage = w.Damage
		}
		pos := tiles[i%len(tiles)]
		units = append(units, Unit{
			ID:           fmt.Sprintf("P%d", i+1),
			Type:         UnitPlayer,
			Name:         p.Name,
			CharacterID:  p.CharacterID,
			Position:     pos,
			HP:           stats.MaxHP,
			Stats:        stats,
			WeaponDamage: weaponDamage,
		})
	}

	// Monsters spawn on the far half of the walkable tiles.
	count := difficultyMonsterCount(opts.Difficulty, len(opts.Players))
	bonus := difficultyStatBonus(opts.Difficulty)
	occupied := make(map[Position]bool, len(units))
	for _, u := range units {
		occupied[u.Position] = true
	}
	farTiles := tiles[len(tiles)/2:]
	for i := 0; i < count; i++ {
		tmpl := monsterTemplates[r.intn(len(monsterTemplates))]
		stats := tmpl.stats
		stats.MaxHP += bonus
		stats.Attack += bonus

		var pos Position
		found := false
		for tries := 0; tries < 50; tries++ {
			cand := farTiles[r.intn(len(farTiles))]
			if !occupied[cand] {
				pos = cand
				found = true
				break
			}
		}
		if !found {
			continue
		}
		occupied[pos] = true
		units = append(units, Unit{
			ID:       fmt.Sprintf("M%d", i+1),
			Type:     UnitMonster,
			Name:     tmpl.name,
			Position: pos,
			HP:       stats.MaxHP,
			Stats:    stats,
		})
	}

	return units
}

// rollInitiative fixes the encounter turn order: initiativeStat + d6 per
// unit, seeded from the map seed. Ties break by unit id ascending.
func rollInitiative(units []Unit, seed int64) []string {
	r := newRng(uint64(seed) ^ 0x2545f4914f6cdd1d)
	type roll struct {
		id    string
		total int
	}
	rolls := make([]roll, 0, len(units))
	for i := range units {
		rolls = append(rolls, roll{id: units[i].ID, total: units[i].Stats.Initiative + r.d6()})
	}
	sort.SliceStable(rolls, func(i, j int) bool {
		if rolls[i].total != rolls[j].total {
			return rolls[i].total > rolls[j].total
		}
		return rolls[i].id < rolls[j].id
	})
	order := make([]string, len(rolls))
	for i, rl := range rolls {
		order[i] = rl.id
	}
	return order
}
