package sim

import "fmt"

// Loot roll tuning. Rolls draw from the state-bound sequence so drops replay
// identically for a given seed and action history.
const (
	lootDropChance   = 60 // percent
	weaponDropChance = 20 // percent, rolled only when loot drops
	lootGoldMin      = 5
	lootGoldMax      = 20
	lootSilverMin    = 10
	lootSilverMax    = 30
)

// rollLoot decides whether a defeated monster leaves a drop on its tile.
func rollLoot(s *GameState, em *emitter, monster *Unit) {
	r := stateRng(s)
	if r.intn(100) >= lootDropChance {
		return
	}

	s.NextDropID++
	drop := LootDrop{
		ID:       fmt.Sprintf("drop-%d", s.NextDropID),
		Position: monster.Position,
		Gold:     r.rangeInclusive(lootGoldMin, lootGoldMax),
		Silver:   r.rangeInclusive(lootSilverMin, lootSilverMax),
	}
	if r.intn(100) < weaponDropChance {
		drop.WeaponID = weaponCatalog[r.intn(len(weaponCatalog))].ID
	}
	s.LootDrops = append(s.LootDrops, drop)
	em.emit(Event{
		Type:     EventLootDropped,
		UnitID:   monster.ID,
		DropID:   drop.ID,
		Gold:     drop.Gold,
		Silver:   drop.Silver,
		WeaponID: drop.WeaponID,
		To:       &drop.Position,
	})
}
