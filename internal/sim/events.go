package sim

// EventType names one observable change produced by the engine.
type EventType string

const (
	EventUnitMoved     EventType = "unit_moved"
	EventUnitAttacked  EventType = "unit_attacked"
	EventUnitDefeated  EventType = "unit_defeated"
	EventTurnStarted   EventType = "turn_started"
	EventTurnEnded     EventType = "turn_ended"
	EventLootDropped   EventType = "loot_dropped"
	EventLootCollected EventType = "loot_collected"
	EventGameOver      EventType = "game_over"
)

// Event is an immutable record of one observable change. IDs are monotonic
// within a session (the counter lives in GameState).
type Event struct {
	ID   int       `json:"id"`
	Type EventType `json:"type"`

	UnitID     string `json:"unitId,omitempty"`
	TargetID   string `json:"targetId,omitempty"`
	AttackerID string `json:"attackerId,omitempty"`
	DropID     string `json:"dropId,omitempty"`

	From   *Position `json:"from,omitempty"`
	To     *Position `json:"to,omitempty"`
	Path   []Position `json:"path,omitempty"`
	Damage int       `json:"damage,omitempty"`
	Round  int       `json:"round,omitempty"`

	Gold     int    `json:"gold,omitempty"`
	Silver   int    `json:"silver,omitempty"`
	WeaponID string `json:"weaponId,omitempty"`

	// Phase accompanies game_over.
	Phase CombatPhase `json:"phase,omitempty"`
}

// emitter stamps monotonic ids onto events as they are produced.
type emitter struct {
	s      *GameState
	events []Event
}

func newEmitter(s *GameState) *emitter {
	return &emitter{s: s}
}

func (e *emitter) emit(ev Event) {
	e.s.NextEventID++
	ev.ID = e.s.NextEventID
	e.events = append(e.events, ev)
}
