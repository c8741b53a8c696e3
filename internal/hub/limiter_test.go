package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/runeforge/server/internal/config"
	"github.com/runeforge/server/internal/protocol"
)

func TestLimiterBuckets(t *testing.T) {
	l := newLimiter(config.LimitConfig{
		ActionsPerMinute:  2,
		ChatPerMinute:     1,
		DMPerMinute:       1,
		ViolationWindow:   10,
		ViolationsToClose: 5,
	})

	require.True(t, l.allow(protocol.TypeAction))
	require.True(t, l.allow(protocol.TypeAction))
	require.False(t, l.allow(protocol.TypeAction))

	// Separate buckets per category.
	require.True(t, l.allow(protocol.TypeChat))
	require.False(t, l.allow(protocol.TypeChat))
	require.True(t, l.allow(protocol.TypeDMCommand))

	// Unrated types always pass.
	for i := 0; i < 10; i++ {
		require.True(t, l.allow(protocol.TypeReady))
	}
}

func TestLimiterViolationWindow(t *testing.T) {
	l := newLimiter(config.LimitConfig{
		ActionsPerMinute:  1,
		ChatPerMinute:     1,
		DMPerMinute:       1,
		ViolationWindow:   10,
		ViolationsToClose: 3,
	})
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	require.False(t, l.violate())
	now = now.Add(time.Second)
	require.False(t, l.violate())
	now = now.Add(time.Second)
	require.True(t, l.violate(), "third violation within the window closes")
}

func TestLimiterViolationsExpire(t *testing.T) {
	l := newLimiter(config.LimitConfig{
		ActionsPerMinute:  1,
		ChatPerMinute:     1,
		DMPerMinute:       1,
		ViolationWindow:   10,
		ViolationsToClose: 3,
	})
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	require.False(t, l.violate())
	require.False(t, l.violate())

	// The early violations age out of the window.
	now = now.Add(11 * time.Second)
	require.False(t, l.violate())
	require.False(t, l.violate())
	require.True(t, l.violate())
}
