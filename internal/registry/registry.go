package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/runeforge/server/internal/model"
)

// Registry is the concurrent index of live sessions.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*Session
	byCode map[string]*Session
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		byID:   make(map[string]*Session),
		byCode: make(map[string]*Session),
	}
}

// Create starts a live room for the session row and indexes it.
func (r *Registry) Create(m *model.Session) *Session {
	s := NewSession(m)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[s.ID] = s
	r.byCode[s.JoinCode] = s
	return s
}

// Get returns the live session by id, or nil.
func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}

// GetByCode returns the live session by join code, or nil.
func (r *Registry) GetByCode(code string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byCode[code]
}

// Remove stops a live session and drops it from the index.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.byID[id]
	if ok {
		delete(r.byID, id)
		delete(r.byCode, s.JoinCode)
	}
	r.mu.Unlock()
	if ok {
		s.Stop()
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// snapshot returns the current live sessions.
func (r *Registry) snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	return out
}

// RunJanitor evicts rooms idle longer than maxIdle with nobody connected.
// onEvict runs outside the registry lock, once per evicted session; the
// caller persists the ended transition there.
func (r *Registry) RunJanitor(ctx context.Context, maxIdle time.Duration, onEvict func(id string)) {
	ticker := time.NewTicker(maxIdle / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-maxIdle)
			for _, s := range r.snapshot() {
				var idle bool
				err := s.peek(func(st *State) {
					idle = st.IdleSince().Before(cutoff) && st.ConnectedCount() == 0
				})
				if err != nil || !idle {
					continue
				}
				slog.Info("evicting idle session", "sessionID", s.ID, "joinCode", s.JoinCode)
				r.Remove(s.ID)
				if onEvict != nil {
					onEvict(s.ID)
				}
			}
		}
	}
}
