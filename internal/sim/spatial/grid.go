// Package spatial implements the uniform-grid interest index.
//
// The grid is owned by the simulation loop goroutine and is not safe for
// concurrent use.
package spatial

import (
	"math"
	"sort"
)

const (
	DefaultCellSize  = 10.0
	DefaultAOIRadius = 40.0
)

type cellKey struct {
	cx, cz int32
}

type entry struct {
	x, z float64
	cell cellKey
}

// Grid buckets ids by cell; a query gathers candidates from the cells covering
// the radius and then filters by exact distance.
type Grid struct {
	cellSize float64
	cells    map[cellKey]map[string]struct{}
	entries  map[string]entry
}

func NewGrid(cellSize float64) *Grid {
	if cellSize <= 0 {
		cellSize = DefaultCellSize
	}
	return &Grid{
		cellSize: cellSize,
		cells:    make(map[cellKey]map[string]struct{}),
		entries:  make(map[string]entry),
	}
}

func (g *Grid) CellSize() float64 { return g.cellSize }

// cellIndex floors v to a cell index saturated to the int32 range. NaN maps
// to cell 0.
func (g *Grid) cellIndex(v float64) int64 {
	f := math.Floor(v / g.cellSize)
	switch {
	case math.IsNaN(f):
		return 0
	case f <= math.MinInt32:
		return math.MinInt32
	case f >= math.MaxInt32:
		return math.MaxInt32
	}
	return int64(f)
}

func (g *Grid) coord(v float64) int32 { return int32(g.cellIndex(v)) }

func (g *Grid) key(x, z float64) cellKey {
	return cellKey{cx: g.coord(x), cz: g.coord(z)}
}

func (g *Grid) add(id string, k cellKey) {
	cell := g.cells[k]
	if cell == nil {
		cell = make(map[string]struct{})
		g.cells[k] = cell
	}
	cell[id] = struct{}{}
}

func (g *Grid) drop(id string, k cellKey) {
	cell := g.cells[k]
	if cell == nil {
		return
	}
	delete(cell, id)
	if len(cell) == 0 {
		delete(g.cells, k)
	}
}

// Update inserts id or moves it. Cell membership changes only when the
// position crosses a cell boundary.
func (g *Grid) Update(id string, x, z float64) {
	k := g.key(x, z)
	old, ok := g.entries[id]
	if ok && old.cell != k {
		g.drop(id, old.cell)
		g.add(id, k)
	} else if !ok {
		g.add(id, k)
	}
	g.entries[id] = entry{x: x, z: z, cell: k}
}

func (g *Grid) Remove(id string) {
	old, ok := g.entries[id]
	if !ok {
		return
	}
	g.drop(id, old.cell)
	delete(g.entries, id)
}

func (g *Grid) Position(id string) (x, z float64, ok bool) {
	e, ok := g.entries[id]
	return e.x, e.z, ok
}

func (g *Grid) Len() int { return len(g.entries) }

// Query returns the ids within radius of (x,z), inclusive, in sorted order.
// Non-finite inputs match nothing.
func (g *Grid) Query(x, z, radius float64) []string {
	if radius < 0 || len(g.entries) == 0 || !finite(x) || !finite(z) || !finite(radius) {
		return nil
	}
	minX, maxX := g.cellIndex(x-radius), g.cellIndex(x+radius)
	minZ, maxZ := g.cellIndex(z-radius), g.cellIndex(z+radius)
	r2 := radius * radius

	var out []string
	collect := func(cell map[string]struct{}) {
		for id := range cell {
			e := g.entries[id]
			dx, dz := e.x-x, e.z-z
			if dx*dx+dz*dz <= r2 {
				out = append(out, id)
			}
		}
	}

	occupied := int64(len(g.cells))
	w, h := maxX-minX+1, maxZ-minZ+1
	if w > occupied || h > occupied || w*h > occupied {
		// Fewer occupied cells than cells in range: scan the occupied ones.
		for k, cell := range g.cells {
			cx, cz := int64(k.cx), int64(k.cz)
			if cx >= minX && cx <= maxX && cz >= minZ && cz <= maxZ {
				collect(cell)
			}
		}
	} else {
		for cx := minX; cx <= maxX; cx++ {
			for cz := minZ; cz <= maxZ; cz++ {
				collect(g.cells[cellKey{cx: int32(cx), cz: int32(cz)}])
			}
		}
	}
	sort.Strings(out)
	return out
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
