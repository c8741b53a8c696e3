package auth

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"
)

// nonceTTL bounds how long a login attempt may sit between redirect and
// callback.
const nonceTTL = 10 * time.Minute

// NonceStore issues single-use state values for the OIDC redirect dance.
type NonceStore struct {
	mu     sync.Mutex
	issued map[string]time.Time
	now    func() time.Time
}

// NewNonceStore creates an empty store.
func NewNonceStore() *NonceStore {
	return &NonceStore{
		issued: make(map[string]time.Time),
		now:    time.Now,
	}
}

// Issue mints a fresh state value and remembers it.
func (n *NonceStore) Issue() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		panic("nonce: " + err.Error())
	}
	state := base64.RawURLEncoding.EncodeToString(buf)

	n.mu.Lock()
	defer n.mu.Unlock()
	n.prune()
	n.issued[state] = n.now().Add(nonceTTL)
	return state
}

// Consume validates and burns a state value. A value is good exactly once.
func (n *NonceStore) Consume(state string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	deadline, ok := n.issued[state]
	if !ok {
		return false
	}
	delete(n.issued, state)
	return n.now().Before(deadline)
}

// prune drops expired entries. Caller holds the lock.
func (n *NonceStore) prune() {
	now := n.now()
	for state, deadline := range n.issued {
		if !now.Before(deadline) {
			delete(n.issued, state)
		}
	}
}
