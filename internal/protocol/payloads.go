package protocol

import (
	"github.com/runeforge/server/internal/delta"
	"github.com/runeforge/server/internal/model"
	"github.com/runeforge/server/internal/sim"
)

// --- Inbound payloads ---

// AuthPayload is the first frame on every connection.
type AuthPayload struct {
	Token string `json:"token"`
}

// CreateGamePayload opens a new session; the caller becomes DM.
type CreateGamePayload struct {
	CharacterID string              `json:"characterId"`
	Config      model.SessionConfig `json:"config"`
}

// JoinGamePayload joins an existing session by code.
type JoinGamePayload struct {
	JoinCode    string `json:"joinCode"`
	CharacterID string `json:"characterId"`
}

// ReadyPayload toggles lobby readiness.
type ReadyPayload struct {
	Ready bool `json:"ready"`
}

// ActionPayload wraps a simulation action.
type ActionPayload struct {
	Action sim.Action `json:"action"`
}

// DM command names.
const (
	DMStartGame     = "start_game"
	DMPauseGame     = "pause_game"
	DMResumeGame    = "resume_game"
	DMEndGame       = "end_game"
	DMGrantWeapon   = "grant_weapon"
	DMGrantGold     = "grant_gold"
	DMGrantXP       = "grant_xp"
	DMSpawnMonster  = "spawn_monster"
	DMRemoveMonster = "remove_monster"
	DMModifyMonster = "modify_monster"
	DMSkipTurn      = "skip_turn"
	DMKickPlayer    = "kick_player"
)

// DMCommandPayload is the tagged union of DM commands. Fields beyond Command
// are read per command.
type DMCommandPayload struct {
	Command string `json:"command"`

	TargetUserID string `json:"targetUserId,omitempty"`
	CharacterID  string `json:"characterId,omitempty"`
	WeaponID     string `json:"weaponId,omitempty"`
	Amount       int    `json:"amount,omitempty"`

	UnitID   string        `json:"unitId,omitempty"`
	Monster  string        `json:"monster,omitempty"`
	Position *sim.Position `json:"position,omitempty"`
	HP       int           `json:"hp,omitempty"`
	Attack   int           `json:"attack,omitempty"`
}

// ChatPayload is a session-scoped chat line, optionally whispered.
type ChatPayload struct {
	Message string `json:"message"`
	Target  string `json:"target,omitempty"` // user id for whispers
}

// CharacterSyncPayload updates the caller's persona fields.
type CharacterSyncPayload struct {
	Character CharacterDoc `json:"character"`
}

// CharacterDoc is the wire form of a character.
type CharacterDoc struct {
	ID         string               `json:"id,omitempty"`
	Name       string               `json:"name"`
	Class      model.CharacterClass `json:"class"`
	Appearance model.Appearance     `json:"appearance"`
	Backstory  string               `json:"backstory,omitempty"`

	XP        int             `json:"xp,omitempty"`
	Gold      int             `json:"gold,omitempty"`
	Silver    int             `json:"silver,omitempty"`
	Level     int             `json:"level,omitempty"`
	Inventory model.Inventory `json:"inventory,omitzero"`
}

// CharacterDocFrom renders a stored character for the wire.
func CharacterDocFrom(c *model.Character) CharacterDoc {
	return CharacterDoc{
		ID:         c.ID,
		Name:       c.Name,
		Class:      c.Class,
		Appearance: c.Appearance,
		Backstory:  c.Backstory,
		XP:         c.XP,
		Gold:       c.Gold,
		Silver:     c.Silver,
		Level:      c.Level(),
		Inventory:  c.Inventory,
	}
}

// --- Outbound payloads ---

// AuthResultPayload confirms the handshake.
type AuthResultPayload struct {
	UserID      string         `json:"userId"`
	DisplayName string         `json:"displayName"`
	Characters  []CharacterDoc `json:"characters"`
}

// SessionInfo describes a session for lobby payloads.
type SessionInfo struct {
	SessionID string              `json:"sessionId"`
	JoinCode  string              `json:"joinCode"`
	DMUserID  string              `json:"dmUserId"`
	Status    model.SessionStatus `json:"status"`
	Config    model.SessionConfig `json:"config"`
	Players   []PlayerInfo        `json:"players"`
}

// PlayerInfo is one roster entry.
type PlayerInfo struct {
	UserID      string             `json:"userId"`
	DisplayName string             `json:"displayName"`
	CharacterID string             `json:"characterId"`
	UnitID      string             `json:"unitId,omitempty"`
	Status      model.PlayerStatus `json:"status"`
	IsReady     bool               `json:"isReady"`
}

// GameStatePayload is a full snapshot sync.
type GameStatePayload struct {
	SessionID string         `json:"sessionId"`
	Version   int            `json:"version"`
	State     *sim.GameState `json:"state"`
	Session   *SessionInfo   `json:"session,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

// StateDeltaPayload is a versioned incremental update.
type StateDeltaPayload struct {
	SessionID string      `json:"sessionId"`
	Delta     delta.Delta `json:"delta"`
}

// EventsPayload carries simulation events in production order.
type EventsPayload struct {
	SessionID string      `json:"sessionId"`
	Events    []sim.Event `json:"events"`
}

// TurnChangePayload announces the new turn owner.
type TurnChangePayload struct {
	SessionID string `json:"sessionId"`
	UnitID    string `json:"unitId"`
	UserID    string `json:"userId,omitempty"` // empty for monster turns
	Round     int    `json:"round"`
	Deadline  int64  `json:"deadline,omitempty"` // unix ms, 0 = unlimited
}

// PlayerJoinedPayload / PlayerLeftPayload / PlayerReadyPayload are roster
// updates.
type PlayerJoinedPayload struct {
	SessionID string     `json:"sessionId"`
	Player    PlayerInfo `json:"player"`
}

type PlayerLeftPayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	Reason    string `json:"reason"` // "left", "kicked", "disconnected"
}

type PlayerReadyPayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	Ready     bool   `json:"ready"`
}

// PlayerReward is one entry of the end-of-game rewards array.
type PlayerReward struct {
	UserID      string `json:"userId"`
	CharacterID string `json:"characterId"`
	XP          int    `json:"xp"`
	Gold        int    `json:"gold"`
	Silver      int    `json:"silver"`
	Kills       int    `json:"kills"`
}

// GameEndedPayload closes out a session.
type GameEndedPayload struct {
	SessionID string          `json:"sessionId"`
	Outcome   sim.CombatPhase `json:"outcome"`
	Rewards   []PlayerReward  `json:"rewards"`
}

// ChatOutPayload is a delivered chat line.
type ChatOutPayload struct {
	SessionID string `json:"sessionId"`
	FromUser  string `json:"fromUser"`
	Message   string `json:"message"`
	Whisper   bool   `json:"whisper,omitempty"`
}
