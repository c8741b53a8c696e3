package model

import (
	"crypto/rand"
	"strings"
)

// JoinCodeAlphabet excludes the ambiguous glyphs I, O, 0 and 1.
const JoinCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// JoinCodeLength is the fixed join-code length.
const JoinCodeLength = 6

// NewJoinCode draws a random 6-character code from the unambiguous alphabet.
// Uniqueness across non-ended sessions is enforced by the store.
func NewJoinCode() string {
	buf := make([]byte, JoinCodeLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand does not fail on supported platforms
		panic("joincode: " + err.Error())
	}
	var b strings.Builder
	b.Grow(JoinCodeLength)
	for _, c := range buf {
		b.WriteByte(JoinCodeAlphabet[int(c)%len(JoinCodeAlphabet)])
	}
	return b.String()
}

// ValidJoinCode reports whether code has the right length and alphabet.
func ValidJoinCode(code string) bool {
	if len(code) != JoinCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(JoinCodeAlphabet, rune(code[i])) {
			return false
		}
	}
	return true
}
