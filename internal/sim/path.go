package sim

// abs is integer absolute value.
func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// chebyshev is the board distance used for attack range checks: diagonal
// adjacency counts as distance 1.
func chebyshev(a, b Position) int {
	dx := abs(a.X - b.X)
	dy := abs(a.Y - b.Y)
	if dy > dx {
		return dy
	}
	return dx
}

// orthogonalStep reports whether b is exactly one orthogonal step from a.
func orthogonalStep(a, b Position) bool {
	return abs(a.X-b.X)+abs(a.Y-b.Y) == 1
}

// validatePath checks the movement rules for a unit walking path from its
// current position: contiguous orthogonal steps, every tile walkable, no tile
// occupied by another living unit, and total length within budget.
func validatePath(s *GameState, u *Unit, path []Position, budget int) error {
	if len(path) == 0 {
		return invalid(ReasonEmptyPath, "move requires at least one step")
	}
	if len(path) > budget {
		return invalid(ReasonNotEnoughMovement, "path length %d exceeds remaining movement %d", len(path), budget)
	}
	prev := u.Position
	for i, p := range path {
		if !orthogonalStep(prev, p) {
			return invalid(ReasonPathNotContiguous, "step %d from (%d,%d) to (%d,%d)", i, prev.X, prev.Y, p.X, p.Y)
		}
		if !s.Map.Walkable(p) {
			return invalid(ReasonPathBlocked, "tile (%d,%d) is not walkable", p.X, p.Y)
		}
		if occ := s.UnitAt(p); occ != nil && occ.ID != u.ID {
			return invalid(ReasonTileOccupied, "tile (%d,%d) occupied by %s", p.X, p.Y, occ.ID)
		}
		prev = p
	}
	return nil
}

// lineOfSight walks a Bresenham line from a to b and reports whether no wall
// blocks it. Endpoints themselves do not block.
func lineOfSight(m *Map, a, b Position) bool {
	x0, y0 := a.X, a.Y
	x1, y1 := b.X, b.Y
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx := 1
	if x0 > x1 {
		sx = -1
	}
	sy := 1
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy
	for {
		if x0 == x1 && y0 == y1 {
			return true
		}
		if !(x0 == a.X && y0 == a.Y) {
			if m.InBounds(Position{x0, y0}) && m.Tiles[y0][x0].Wall {
				return false
			}
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}
