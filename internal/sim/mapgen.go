package sim

// MapOptions parameterizes dungeon generation. Zero values fall back to the
// defaults below.
type MapOptions struct {
	Seed   int64
	Width  int
	Height int
	Rooms  int
}

const (
	defaultMapWidth  = 24
	defaultMapHeight = 18
	defaultRooms     = 5
	minRoomSize      = 3
	maxRoomSize      = 6
)

type room struct {
	x, y, w, h int
}

func (r room) center() Position {
	return Position{X: r.x + r.w/2, Y: r.y + r.h/2}
}

func (r room) overlaps(o room) bool {
	return r.x <= o.x+o.w && o.x <= r.x+r.w && r.y <= o.y+o.h && o.y <= r.y+r.h
}

// GenerateMap carves a rooms-and-corridors dungeon from the seed. The border
// is always wall, every room is connected to its predecessor by an L-shaped
// corridor, so all walkable tiles are mutually reachable.
func GenerateMap(opts MapOptions) Map {
	w, h, rooms := opts.Width, opts.Height, opts.Rooms
	if w <= 0 {
		w = defaultMapWidth
	}
	if h <= 0 {
		h = defaultMapHeight
	}
	if rooms <= 0 {
		rooms = defaultRooms
	}

	m := Map{Width: w, Height: h, Tiles: make([][]Tile, h)}
	for y := range m.Tiles {
		m.Tiles[y] = make([]Tile, w)
		for x := range m.Tiles[y] {
			m.Tiles[y][x] = Tile{Wall: true}
		}
	}

	r := newRng(uint64(opts.Seed))
	var placed []room
	// Bounded attempts: rejected overlaps still consume draws, keeping the
	// sequence aligned for a given seed.
	for attempts := 0; len(placed) < rooms && attempts < rooms*10; attempts++ {
		rw := r.rangeInclusive(minRoomSize, maxRoomSize)
		rh := r.rangeInclusive(minRoomSize, maxRoomSize)
		rx := r.rangeInclusive(1, w-rw-2)
		ry := r.rangeInclusive(1, h-rh-2)
		cand := room{x: rx, y: ry, w: rw, h: rh}

		collides := false
		for _, p := range placed {
			if cand.overlaps(p) {
				collides = true
				break
			}
		}
		if collides {
			continue
		}

		for y := cand.y; y < cand.y+cand.h; y++ {
			for x := cand.x; x < cand.x+cand.w; x++ {
				m.Tiles[y][x] = Tile{Walkable: true}
			}
		}
		placed = append(placed, cand)
	}

	// Corridors between successive room centers; horizontal leg then vertical.
	for i := 1; i < len(placed); i++ {
		a := placed[i-1].center()
		b := placed[i].center()
		carveCorridor(&m, a, b)
	}

	return m
}

func carveCorridor(m *Map, a, b Position) {
	x, y := a.X, a.Y
	for x != b.X {
		m.Tiles[y][x] = Tile{Walkable: true}
		if b.X > x {
			x++
		} else {
			x--
		}
	}
	for y != b.Y {
		m.Tiles[y][x] = Tile{Walkable: true}
		if b.Y > y {
			y++
		} else {
			y--
		}
	}
	m.Tiles[y][x] = Tile{Walkable: true}
}

// walkableTiles lists all walkable positions in scan order. Used by unit
// placement and tests.
func walkableTiles(m *Map) []Position {
	var out []Position
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			if m.Tiles[y][x].Walkable {
				out = append(out, Position{X: x, Y: y})
			}
		}
	}
	return out
}
