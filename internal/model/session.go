package model

import (
	"fmt"
	"time"
)

// SessionStatus is the lifecycle state of a game session.
type SessionStatus string

const (
	StatusLobby   SessionStatus = "lobby"
	StatusPlaying SessionStatus = "playing"
	StatusPaused  SessionStatus = "paused"
	StatusEnded   SessionStatus = "ended"
)

// IsValid reports whether the status is a known lifecycle state.
func (s SessionStatus) IsValid() bool {
	switch s {
	case StatusLobby, StatusPlaying, StatusPaused, StatusEnded:
		return true
	}
	return false
}

// CanTransitionTo reports whether the status machine permits moving from s to
// next. Ended is terminal; any state may end.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	if s == next {
		return false
	}
	switch next {
	case StatusPlaying:
		return s == StatusLobby || s == StatusPaused
	case StatusPaused:
		return s == StatusPlaying
	case StatusEnded:
		return s != StatusEnded
	}
	return false
}

// Difficulty scales the monster roster.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyNormal Difficulty = "normal"
	DifficultyHard   Difficulty = "hard"
)

// IsValid reports whether the difficulty is known.
func (d Difficulty) IsValid() bool {
	switch d {
	case DifficultyEasy, DifficultyNormal, DifficultyHard:
		return true
	}
	return false
}

// SessionConfig is the DM-chosen configuration fixed at session creation.
type SessionConfig struct {
	MaxPlayers    int        `json:"maxPlayers"`
	MapSeed       int64      `json:"mapSeed"`
	Difficulty    Difficulty `json:"difficulty"`
	TurnTimeLimit int        `json:"turnTimeLimit"` // seconds, 0 = unlimited
	AllowLateJoin bool       `json:"allowLateJoin"`
}

// Validate checks config bounds: 2-8 players, known difficulty, non-negative
// turn limit.
func (c SessionConfig) Validate() error {
	if c.MaxPlayers < 2 || c.MaxPlayers > 8 {
		return fmt.Errorf("maxPlayers must be in [2,8], got %d", c.MaxPlayers)
	}
	if !c.Difficulty.IsValid() {
		return fmt.Errorf("unknown difficulty %q", c.Difficulty)
	}
	if c.TurnTimeLimit < 0 {
		return fmt.Errorf("turnTimeLimit must be >= 0, got %d", c.TurnTimeLimit)
	}
	return nil
}

// Session is one game instance: a lobby, its players, and the game state.
type Session struct {
	ID        string
	JoinCode  string
	DMUserID  string
	Status    SessionStatus
	Config    SessionConfig
	CreatedAt time.Time
	StartedAt *time.Time
	EndedAt   *time.Time
}

// PlayerStatus is the per-seat connection state within a session.
type PlayerStatus string

const (
	PlayerConnected    PlayerStatus = "connected"
	PlayerDisconnected PlayerStatus = "disconnected"
	PlayerSpectating   PlayerStatus = "spectating"
)

// SessionPlayer is the (session, user) junction row.
type SessionPlayer struct {
	SessionID   string
	UserID      string
	CharacterID string
	UnitID      string // empty before game start
	Status      PlayerStatus
	IsReady     bool
	JoinedAt    time.Time
	LastSeenAt  time.Time
}
