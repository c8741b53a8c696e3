package sim

import "github.com/runeforge/server/internal/model"

// WeaponSpec is a catalog entry. The catalog is static data; granted weapons
// are copied into character inventories by id.
type WeaponSpec struct {
	ID     string
	Name   string
	Class  model.CharacterClass // empty = usable by any class
	Range  int
	Damage int
}

var weaponCatalog = []WeaponSpec{
	{ID: "shortsword", Name: "Shortsword", Range: 1, Damage: 1},
	{ID: "longsword", Name: "Longsword", Class: model.ClassWarrior, Range: 1, Damage: 2},
	{ID: "greataxe", Name: "Greataxe", Class: model.ClassWarrior, Range: 1, Damage: 3},
	{ID: "dagger", Name: "Dagger", Class: model.ClassRogue, Range: 1, Damage: 2},
	{ID: "shortbow", Name: "Shortbow", Class: model.ClassRanger, Range: 4, Damage: 1},
	{ID: "longbow", Name: "Longbow", Class: model.ClassRanger, Range: 5, Damage: 2},
	{ID: "firestaff", Name: "Fire Staff", Class: model.ClassMage, Range: 3, Damage: 2},
	{ID: "runeblade", Name: "Runeblade", Range: 1, Damage: 3},
}

// WeaponByID looks up a catalog entry. Returns nil for unknown ids.
func WeaponByID(id string) *WeaponSpec {
	for i := range weaponCatalog {
		if weaponCatalog[i].ID == id {
			return &weaponCatalog[i]
		}
	}
	return nil
}

// Weapons returns the full catalog.
func Weapons() []WeaponSpec {
	return weaponCatalog
}

// UsableBy reports whether the weapon may be equipped by the given class.
func (w *WeaponSpec) UsableBy(class model.CharacterClass) bool {
	return w.Class == "" || w.Class == class
}
