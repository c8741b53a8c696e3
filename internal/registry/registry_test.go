package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runeforge/server/internal/model"
	"github.com/runeforge/server/internal/protocol"
	"github.com/runeforge/server/internal/sim"
)

// fakeConn records sent messages for assertions.
type fakeConn struct {
	mu     sync.Mutex
	userID string
	sent   []*protocol.Message
	closed bool
}

func (f *fakeConn) UserID() string { return f.userID }

func (f *fakeConn) Send(msg *protocol.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
}

func (f *fakeConn) Close(code int, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestModel(id, code string) *model.Session {
	return &model.Session{
		ID:       id,
		JoinCode: code,
		DMUserID: "dm",
		Status:   model.StatusLobby,
		Config:   model.SessionConfig{MaxPlayers: 4, Difficulty: model.DifficultyNormal},
	}
}

func TestRegistry_Index(t *testing.T) {
	r := New()
	s := r.Create(newTestModel("s1", "ABCDEF"))
	defer s.Stop()

	assert.Same(t, s, r.Get("s1"))
	assert.Same(t, s, r.GetByCode("ABCDEF"))
	assert.Nil(t, r.Get("absent"))
	assert.Equal(t, 1, r.Len())

	r.Remove("s1")
	assert.Nil(t, r.Get("s1"))
	assert.Nil(t, r.GetByCode("ABCDEF"))
	assert.True(t, s.Stopped())
}

func TestSession_DoWaitSerializes(t *testing.T) {
	r := New()
	s := r.Create(newTestModel("s1", "ABCDEF"))
	defer r.Remove("s1")

	// Concurrent increments through the actor must not race.
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.DoWait(func(st *State) { counter++ })
		}()
	}
	wg.Wait()
	require.NoError(t, s.DoWait(func(st *State) {
		assert.Equal(t, 50, counter)
	}))
}

func TestSession_DoAfterStop(t *testing.T) {
	s := NewSession(newTestModel("s1", "ABCDEF"))
	s.Stop()
	err := s.Do(func(st *State) {})
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestState_BroadcastTargets(t *testing.T) {
	s := NewSession(newTestModel("s1", "ABCDEF"))
	defer s.Stop()

	a := &fakeConn{userID: "a"}
	b := &fakeConn{userID: "b"}
	require.NoError(t, s.DoWait(func(st *State) {
		st.Seats["a"] = &Seat{Player: model.SessionPlayer{UserID: "a", UnitID: "P1"}, Conn: a}
		st.Seats["b"] = &Seat{Player: model.SessionPlayer{UserID: "b", UnitID: "P2"}, Conn: b}
		st.Seats["c"] = &Seat{Player: model.SessionPlayer{UserID: "c"}} // disconnected

		msg := protocol.New(protocol.TypePong, struct{}{})
		st.Broadcast(msg)
		st.BroadcastExcept("a", msg)
		assert.True(t, st.SendTo("b", msg))
		assert.False(t, st.SendTo("c", msg), "disconnected seat receives nothing")
		assert.False(t, st.SendTo("absent", msg))

		assert.Equal(t, 2, st.ConnectedCount())
		require.NotNil(t, st.SeatByUnit("P2"))
		assert.Equal(t, "b", st.SeatByUnit("P2").Player.UserID)
		assert.Nil(t, st.SeatByUnit("M1"))
	}))

	assert.Equal(t, 1, a.sentCount())
	assert.Equal(t, 3, b.sentCount())
}

func TestState_AppendEventsCapped(t *testing.T) {
	s := NewSession(newTestModel("s1", "ABCDEF"))
	defer s.Stop()

	require.NoError(t, s.DoWait(func(st *State) {
		batch := make([]sim.Event, 100)
		for i := 0; i < 7; i++ {
			st.AppendEvents(batch)
		}
		assert.Len(t, st.Events, eventLogLimit)
	}))
}

func TestSession_QueueOverflow(t *testing.T) {
	s := NewSession(newTestModel("s1", "ABCDEF"))
	defer s.Stop()

	// Block the loop, then overfill the queue.
	release := make(chan struct{})
	require.NoError(t, s.Do(func(st *State) { <-release }))

	var sawBusy bool
	for i := 0; i < commandQueueSize+8; i++ {
		if err := s.Do(func(st *State) {}); err != nil {
			assert.ErrorIs(t, err, ErrSessionBusy)
			sawBusy = true
			break
		}
	}
	close(release)
	assert.True(t, sawBusy)
}

func TestSession_PeekDoesNotRefreshActivity(t *testing.T) {
	s := NewSession(newTestModel("s1", "ABCDEF"))
	defer s.Stop()

	require.NoError(t, s.peek(func(st *State) {
		st.LastActivity = time.Now().Add(-time.Hour)
	}))

	var last time.Time
	require.NoError(t, s.peek(func(st *State) { last = st.LastActivity }))
	assert.True(t, last.Before(time.Now().Add(-30*time.Minute)))

	// A real command moves the clock forward again.
	require.NoError(t, s.DoWait(func(st *State) {}))
	require.NoError(t, s.peek(func(st *State) { last = st.LastActivity }))
	assert.WithinDuration(t, time.Now(), last, time.Second)
}

func TestRegistry_JanitorEvictsIdleEmptyRooms(t *testing.T) {
	r := New()
	idle := r.Create(newTestModel("s1", "ABCDEF"))
	busy := r.Create(newTestModel("s2", "GHJKLM"))
	defer r.Remove("s2")

	conn := &fakeConn{userID: "a"}
	require.NoError(t, busy.DoWait(func(st *State) {
		st.Seats["a"] = &Seat{Player: model.SessionPlayer{UserID: "a"}, Conn: conn}
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var mu sync.Mutex
	var evicted []string
	go r.RunJanitor(ctx, 40*time.Millisecond, func(id string) {
		mu.Lock()
		evicted = append(evicted, id)
		mu.Unlock()
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(evicted) > 0
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"s1"}, evicted)
	mu.Unlock()
	assert.Nil(t, r.Get("s1"))
	assert.True(t, idle.Stopped())

	// The room with a live connection stays, however stale its clock.
	assert.NotNil(t, r.Get("s2"))
}
