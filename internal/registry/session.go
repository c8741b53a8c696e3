// Package registry tracks live game sessions. Each live session is a small
// actor: all mutations run as queued closures on a single goroutine, so the
// room state needs no locks. The registry itself is the concurrent index
// mapping session ids and join codes to live sessions.
package registry

import (
	"errors"
	"time"

	"github.com/runeforge/server/internal/model"
	"github.com/runeforge/server/internal/protocol"
	"github.com/runeforge/server/internal/sim"
)

// commandQueueSize bounds the per-session command queue. A full queue means
// the room is overloaded and the caller gets an error instead of blocking.
const commandQueueSize = 64

// eventLogLimit caps the in-memory event log kept for late joiners.
const eventLogLimit = 500

// ErrSessionClosed is returned when dispatching to a stopped session.
var ErrSessionClosed = errors.New("session closed")

// ErrSessionBusy is returned when the command queue is full.
var ErrSessionBusy = errors.New("session command queue full")

// Conn is the transport-side handle the room uses to reach a player.
type Conn interface {
	UserID() string
	Send(msg *protocol.Message)
	Close(code int, reason string)
}

// Seat is one player's place in a live session.
type Seat struct {
	Player      model.SessionPlayer
	DisplayName string
	Conn        Conn // nil while disconnected

	// GraceTimer runs while the player is disconnected mid-game.
	GraceTimer *time.Timer
}

// Connected reports whether the seat has a live connection.
func (s *Seat) Connected() bool { return s.Conn != nil }

// State is the room state owned by the session goroutine. Only closures
// dispatched through Do may touch it.
type State struct {
	Model *model.Session
	Seats map[string]*Seat // keyed by user id

	Game    *sim.GameState
	Version int
	Events  []sim.Event

	// Per-unit tallies accumulated from simulation events, consumed by the
	// reward calculation when the game ends.
	Kills       map[string]int
	DamageDealt map[string]int
	DamageTaken map[string]int

	// TurnTimer enforces the per-turn time limit; MonsterTimer paces AI
	// turns. Both are armed and disarmed by dispatched closures.
	TurnTimer    *time.Timer
	MonsterTimer *time.Timer

	LastActivity time.Time
}

// Session is a live game room.
type Session struct {
	ID       string
	JoinCode string

	cmds chan func(*State)
	done chan struct{}
}

// NewSession starts the room goroutine for a session row.
func NewSession(m *model.Session) *Session {
	s := &Session{
		ID:       m.ID,
		JoinCode: m.JoinCode,
		cmds:     make(chan func(*State), commandQueueSize),
		done:     make(chan struct{}),
	}
	st := &State{
		Model:        m,
		Seats:        make(map[string]*Seat),
		LastActivity: time.Now(),
	}
	go s.run(st)
	return s
}

func (s *Session) run(st *State) {
	defer func() {
		if st.TurnTimer != nil {
			st.TurnTimer.Stop()
		}
		if st.MonsterTimer != nil {
			st.MonsterTimer.Stop()
		}
	}()
	for {
		select {
		case fn := <-s.cmds:
			fn(st)
		case <-s.done:
			return
		}
	}
}

func (s *Session) dispatch(cmd func(*State)) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.cmds <- cmd:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		return ErrSessionBusy
	}
}

// Do queues fn onto the room goroutine and refreshes the activity clock.
// Returns without waiting for fn to run.
func (s *Session) Do(fn func(*State)) error {
	return s.dispatch(func(st *State) {
		fn(st)
		st.LastActivity = time.Now()
	})
}

// DoWait queues fn and blocks until it has run, used where the caller needs
// the result.
func (s *Session) DoWait(fn func(*State)) error {
	ran := make(chan struct{})
	err := s.Do(func(st *State) {
		defer close(ran)
		fn(st)
	})
	if err != nil {
		return err
	}
	select {
	case <-ran:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

// peek runs fn on the room goroutine and waits for it, without counting as
// activity. The janitor inspects rooms through this so its own probes do not
// keep an idle room alive.
func (s *Session) peek(fn func(*State)) error {
	ran := make(chan struct{})
	err := s.dispatch(func(st *State) {
		defer close(ran)
		fn(st)
	})
	if err != nil {
		return err
	}
	select {
	case <-ran:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

// Stop terminates the room goroutine. Queued commands may be dropped.
func (s *Session) Stop() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// Stopped reports whether the room has been stopped.
func (s *Session) Stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// IdleSince returns the last command time. Called from the janitor via
// peek.
func (st *State) IdleSince() time.Time { return st.LastActivity }

// AppendEvents records simulation events for late joiners, keeping only the
// most recent window.
func (st *State) AppendEvents(events []sim.Event) {
	st.Events = append(st.Events, events...)
	if len(st.Events) > eventLogLimit {
		st.Events = append([]sim.Event(nil), st.Events[len(st.Events)-eventLogLimit:]...)
	}
}

// Tally folds simulation events into the per-unit counters.
func (st *State) Tally(events []sim.Event) {
	if st.Kills == nil {
		st.Kills = make(map[string]int)
		st.DamageDealt = make(map[string]int)
		st.DamageTaken = make(map[string]int)
	}
	for _, ev := range events {
		switch ev.Type {
		case sim.EventUnitAttacked:
			st.DamageDealt[ev.UnitID] += ev.Damage
			st.DamageTaken[ev.TargetID] += ev.Damage
		case sim.EventUnitDefeated:
			st.Kills[ev.AttackerID]++
		}
	}
}

// Broadcast sends a message to every connected seat.
func (st *State) Broadcast(msg *protocol.Message) {
	for _, seat := range st.Seats {
		if seat.Connected() {
			seat.Conn.Send(msg)
		}
	}
}

// BroadcastExcept sends a message to every connected seat but one.
func (st *State) BroadcastExcept(userID string, msg *protocol.Message) {
	for id, seat := range st.Seats {
		if id != userID && seat.Connected() {
			seat.Conn.Send(msg)
		}
	}
}

// SendTo delivers a message to a single seat if connected.
func (st *State) SendTo(userID string, msg *protocol.Message) bool {
	seat, ok := st.Seats[userID]
	if !ok || !seat.Connected() {
		return false
	}
	seat.Conn.Send(msg)
	return true
}

// ConnectedCount returns the number of seats with live connections.
func (st *State) ConnectedCount() int {
	n := 0
	for _, seat := range st.Seats {
		if seat.Connected() {
			n++
		}
	}
	return n
}

// SeatByUnit returns the seat controlling the given unit id, or nil.
func (st *State) SeatByUnit(unitID string) *Seat {
	for _, seat := range st.Seats {
		if seat.Player.UnitID == unitID {
			return seat
		}
	}
	return nil
}
