package protocol

import (
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxChatLen caps a chat line after sanitization.
const MaxChatLen = 500

var chatPolicy = bluemonday.StrictPolicy()

// SanitizeChat strips markup from a chat line and truncates it. Returns the
// empty string when nothing survives.
func SanitizeChat(raw string) string {
	clean := chatPolicy.Sanitize(raw)
	clean = strings.TrimSpace(clean)
	if len(clean) > MaxChatLen {
		clean = clean[:MaxChatLen]
		// Back off a rune split by the cut, lead byte included.
		for len(clean) > 0 {
			r, size := utf8.DecodeLastRuneInString(clean)
			if r != utf8.RuneError || size > 1 {
				break
			}
			clean = clean[:len(clean)-1]
		}
	}
	return clean
}
