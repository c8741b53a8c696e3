package hub

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/runeforge/server/internal/config"
	"github.com/runeforge/server/internal/protocol"
)

// limiter enforces the per-connection message budgets. Each rated category
// gets a token bucket refilled at its per-minute rate; repeated violations
// inside a short window escalate to a disconnect.
type limiter struct {
	buckets map[string]*rate.Limiter

	window     time.Duration
	threshold  int
	violations []time.Time
	now        func() time.Time
}

func newLimiter(cfg config.LimitConfig) *limiter {
	perMinute := func(n int) *rate.Limiter {
		return rate.NewLimiter(rate.Limit(n)/60, n)
	}
	return &limiter{
		buckets: map[string]*rate.Limiter{
			protocol.TypeAction:    perMinute(cfg.ActionsPerMinute),
			protocol.TypeChat:      perMinute(cfg.ChatPerMinute),
			protocol.TypeDMCommand: perMinute(cfg.DMPerMinute),
		},
		window:    time.Duration(cfg.ViolationWindow) * time.Second,
		threshold: cfg.ViolationsToClose,
		now:       time.Now,
	}
}

// allow consumes a token for the message type. Unrated types always pass.
func (l *limiter) allow(msgType string) bool {
	b, ok := l.buckets[msgType]
	if !ok {
		return true
	}
	return b.Allow()
}

// violate records a rejected message and reports whether the connection has
// crossed the disconnect threshold.
func (l *limiter) violate() bool {
	now := l.now()
	cutoff := now.Add(-l.window)
	kept := l.violations[:0]
	for _, v := range l.violations {
		if v.After(cutoff) {
			kept = append(kept, v)
		}
	}
	l.violations = append(kept, now)
	return len(l.violations) >= l.threshold
}
