package model

import (
	"fmt"
	"regexp"
	"time"
)

// CharacterClass is one of the four playable classes.
type CharacterClass string

const (
	ClassWarrior CharacterClass = "warrior"
	ClassRanger  CharacterClass = "ranger"
	ClassMage    CharacterClass = "mage"
	ClassRogue   CharacterClass = "rogue"
)

// IsValid reports whether the class is one of the playable classes.
func (c CharacterClass) IsValid() bool {
	switch c {
	case ClassWarrior, ClassRanger, ClassMage, ClassRogue:
		return true
	}
	return false
}

// XPPerLevel is the amount of XP that advances a character one level.
const XPPerLevel = 1000

// Appearance holds the client-chosen cosmetic fields. The server stores the
// record opaquely and only bounds its size.
type Appearance struct {
	SkinTone  string `json:"skinTone,omitempty"`
	HairStyle string `json:"hairStyle,omitempty"`
	HairColor string `json:"hairColor,omitempty"`
	Portrait  string `json:"portrait,omitempty"`
}

// Weapon is an inventory entry. The catalog of known weapons lives in the
// simulation package; persistence keeps whatever the server granted.
type Weapon struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Range_ int    `json:"range"`
	Damage int    `json:"damage"`
}

// Inventory is the character's owned weapons plus at most one equipped id.
type Inventory struct {
	Weapons        []Weapon `json:"weapons"`
	EquippedWeapon string   `json:"equippedWeapon,omitempty"`
}

// Character is a player-owned persona plus server-owned progression.
// Persona fields are mutated by the owner, progression only by the server.
type Character struct {
	ID        string
	UserID    string
	Name      string
	Class     CharacterClass
	Appearance Appearance
	Backstory string

	// Progression, server-owned.
	XP     int
	Gold   int
	Silver int
	Inventory Inventory

	// Lifetime counters.
	GamesPlayed    int
	MonstersKilled int
	DamageDealt    int
	DamageTaken    int
	Deaths         int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Level derives the character level from XP: floor(xp/1000)+1.
func (c *Character) Level() int {
	return c.XP/XPPerLevel + 1
}

// Stats are the combat statistics derived from (class, level).
type Stats struct {
	MaxHP      int `json:"maxHp"`
	Attack     int `json:"attack"`
	Defense    int `json:"defense"`
	Movement   int `json:"movement"`
	Initiative int `json:"initiative"`
	Range_     int `json:"range"`
}

// classBase holds the level-1 statline and per-level growth for a class.
type classBase struct {
	hp, atk, def, move, init, rng int
	hpGrow, atkGrow               int
}

var classTable = map[CharacterClass]classBase{
	ClassWarrior: {hp: 14, atk: 4, def: 3, move: 3, init: 2, rng: 1, hpGrow: 3, atkGrow: 1},
	ClassRanger:  {hp: 10, atk: 3, def: 2, move: 4, init: 4, rng: 4, hpGrow: 2, atkGrow: 1},
	ClassMage:    {hp: 8, atk: 5, def: 1, move: 3, init: 3, rng: 3, hpGrow: 2, atkGrow: 1},
	ClassRogue:   {hp: 10, atk: 4, def: 2, move: 5, init: 5, rng: 1, hpGrow: 2, atkGrow: 1},
}

// DeriveStats computes the statline for a class at a given level.
// Unknown classes fall back to the warrior line.
func DeriveStats(class CharacterClass, level int) Stats {
	base, ok := classTable[class]
	if !ok {
		base = classTable[ClassWarrior]
	}
	if level < 1 {
		level = 1
	}
	grow := level - 1
	return Stats{
		MaxHP:      base.hp + grow*base.hpGrow,
		Attack:     base.atk + grow*base.atkGrow/2,
		Defense:    base.def + grow/3,
		Movement:   base.move,
		Initiative: base.init + grow/4,
		Range_:     base.rng,
	}
}

// Stats returns the derived statline for the character's class and level.
func (c *Character) Stats() Stats {
	return DeriveStats(c.Class, c.Level())
}

var characterNameRe = regexp.MustCompile(`^[a-zA-Z0-9 '\-]+$`)

// ValidatePersona checks the owner-mutable fields against the persona schema:
// name 3-30 chars from the allowed alphabet, a known class, bounded backstory.
func (c *Character) ValidatePersona() error {
	if len(c.Name) < 3 || len(c.Name) > 30 {
		return fmt.Errorf("character name must be 3-30 characters, got %d", len(c.Name))
	}
	if !characterNameRe.MatchString(c.Name) {
		return fmt.Errorf("character name %q contains invalid characters", c.Name)
	}
	if !c.Class.IsValid() {
		return fmt.Errorf("unknown character class %q", c.Class)
	}
	if len(c.Backstory) > 2000 {
		return fmt.Errorf("backstory exceeds 2000 characters")
	}
	return nil
}

// EquippedWeapon returns the equipped weapon, or nil when nothing is equipped.
func (c *Character) EquippedWeapon() *Weapon {
	if c.Inventory.EquippedWeapon == "" {
		return nil
	}
	for i := range c.Inventory.Weapons {
		if c.Inventory.Weapons[i].ID == c.Inventory.EquippedWeapon {
			return &c.Inventory.Weapons[i]
		}
	}
	return nil
}
