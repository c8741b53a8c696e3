package sim

// The engine uses a splitmix64 sequence for all random choices. The cursor
// lives in GameState.RngState, so a draw both reads and advances recorded
// state: replaying the same seed and action sequence reproduces every roll.

// splitmix64 advances the state and returns the next 64-bit value.
func splitmix64(state *uint64) uint64 {
	*state += 0x9e3779b97f4a7c15
	z := *state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// rng is a cursor over the deterministic sequence.
type rng struct {
	state uint64
}

func newRng(seed uint64) *rng {
	return &rng{state: seed}
}

// next returns the next raw 64-bit draw.
func (r *rng) next() uint64 {
	return splitmix64(&r.state)
}

// intn returns a draw in [0, n). n must be positive.
func (r *rng) intn(n int) int {
	if n <= 0 {
		panic("sim: intn with non-positive bound")
	}
	return int(r.next() % uint64(n))
}

// rangeInclusive returns a draw in [lo, hi].
func (r *rng) rangeInclusive(lo, hi int) int {
	return lo + r.intn(hi-lo+1)
}

// d6 rolls one six-sided die.
func (r *rng) d6() int {
	return r.intn(6) + 1
}

// stateRng returns a cursor bound to the game state: draws advance
// GameState.RngState in place.
func stateRng(s *GameState) *boundRng {
	return &boundRng{s: s}
}

type boundRng struct {
	s *GameState
}

func (b *boundRng) next() uint64 {
	return splitmix64(&b.s.RngState)
}

func (b *boundRng) intn(n int) int {
	if n <= 0 {
		panic("sim: intn with non-positive bound")
	}
	return int(b.next() % uint64(n))
}

// offset returns a draw in [-1, +1], the combat damage jitter.
func (b *boundRng) offset() int {
	return b.intn(3) - 1
}

// rangeInclusive returns a draw in [lo, hi].
func (b *boundRng) rangeInclusive(lo, hi int) int {
	return lo + b.intn(hi-lo+1)
}
