package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from SessionStatus
		to   SessionStatus
		ok   bool
	}{
		{"lobby_to_playing", StatusLobby, StatusPlaying, true},
		{"playing_to_paused", StatusPlaying, StatusPaused, true},
		{"paused_to_playing", StatusPaused, StatusPlaying, true},
		{"lobby_to_ended", StatusLobby, StatusEnded, true},
		{"playing_to_ended", StatusPlaying, StatusEnded, true},
		{"paused_to_ended", StatusPaused, StatusEnded, true},
		{"ended_is_terminal", StatusEnded, StatusPlaying, false},
		{"ended_to_ended", StatusEnded, StatusEnded, false},
		{"lobby_to_paused", StatusLobby, StatusPaused, false},
		{"self_transition", StatusPlaying, StatusPlaying, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.ok {
				t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.ok)
			}
		})
	}
}

func TestCharacter_Level(t *testing.T) {
	tests := []struct {
		xp    int
		level int
	}{
		{0, 1},
		{999, 1},
		{1000, 2},
		{2500, 3},
		{10000, 11},
	}
	for _, tt := range tests {
		c := Character{XP: tt.xp}
		if got := c.Level(); got != tt.level {
			t.Errorf("Level(xp=%d) = %d, want %d", tt.xp, got, tt.level)
		}
	}
}

func TestCharacter_ValidatePersona(t *testing.T) {
	valid := Character{Name: "Aria D'ath-Mor", Class: ClassRanger}
	require.NoError(t, valid.ValidatePersona())

	tests := []struct {
		name string
		c    Character
	}{
		{"too_short", Character{Name: "Ab", Class: ClassMage}},
		{"too_long", Character{Name: strings.Repeat("a", 31), Class: ClassMage}},
		{"bad_chars", Character{Name: "Eve<script>", Class: ClassMage}},
		{"bad_class", Character{Name: "Evelyn", Class: CharacterClass("bard")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.c.ValidatePersona())
		})
	}
}

func TestDeriveStats_GrowsWithLevel(t *testing.T) {
	for _, class := range []CharacterClass{ClassWarrior, ClassRanger, ClassMage, ClassRogue} {
		l1 := DeriveStats(class, 1)
		l5 := DeriveStats(class, 5)
		assert.Greater(t, l5.MaxHP, l1.MaxHP, "class %s hp should grow", class)
		assert.GreaterOrEqual(t, l5.Attack, l1.Attack, "class %s attack should not shrink", class)
	}
}

func TestSessionConfig_Validate(t *testing.T) {
	ok := SessionConfig{MaxPlayers: 4, Difficulty: DifficultyNormal}
	require.NoError(t, ok.Validate())

	assert.Error(t, SessionConfig{MaxPlayers: 1, Difficulty: DifficultyNormal}.Validate())
	assert.Error(t, SessionConfig{MaxPlayers: 9, Difficulty: DifficultyNormal}.Validate())
	assert.Error(t, SessionConfig{MaxPlayers: 4, Difficulty: "brutal"}.Validate())
	assert.Error(t, SessionConfig{MaxPlayers: 4, Difficulty: DifficultyEasy, TurnTimeLimit: -1}.Validate())

	// Boundary values admit.
	assert.NoError(t, SessionConfig{MaxPlayers: 2, Difficulty: DifficultyEasy}.Validate())
	assert.NoError(t, SessionConfig{MaxPlayers: 8, Difficulty: DifficultyHard}.Validate())
}

func TestNewJoinCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code := NewJoinCode()
		require.True(t, ValidJoinCode(code), "generated code %q must validate", code)
		for _, r := range code {
			assert.NotContains(t, "IO01", string(r))
		}
		seen[code] = true
	}
	// 200 draws from a 32^6 space should not collide.
	assert.Greater(t, len(seen), 195)
}

func TestValidJoinCode(t *testing.T) {
	assert.True(t, ValidJoinCode("ABC234"))
	assert.False(t, ValidJoinCode("ABC23"))   // short
	assert.False(t, ValidJoinCode("ABC2345")) // long
	assert.False(t, ValidJoinCode("ABC10O"))  // ambiguous glyphs
	assert.False(t, ValidJoinCode("abc234"))  // lower case
}
