package spatial

import (
	"fmt"
	"math"
	"math/rand"
	"reflect"
	"sort"
	"testing"
	"time"
)

func TestGrid_QueryExactDistance(t *testing.T) {
	g := NewGrid(10)
	g.Update("inside", DefaultAOIRadius-1, 0)
	g.Update("outside", DefaultAOIRadius+1, 0)
	g.Update("diag", 20, 20)
	g.Update("far-diag", 30, 30)

	got := g.Query(0, 0, DefaultAOIRadius)
	want := []string{"diag", "inside"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("query = %v, want %v", got, want)
	}
}

func TestGrid_BoundaryIsInclusive(t *testing.T) {
	g := NewGrid(10)
	g.Update("edge", 0, -40)
	if got := g.Query(0, 0, 40); len(got) != 1 {
		t.Fatalf("query = %v, want edge included", got)
	}
}

func TestGrid_MoveAcrossCells(t *testing.T) {
	g := NewGrid(10)
	g.Update("a", 1, 1)
	g.Update("a", 4, 4)
	if len(g.cells) != 1 {
		t.Fatalf("cells = %d, want 1 after intra-cell move", len(g.cells))
	}
	g.Update("a", -15, 25)
	if len(g.cells) != 1 {
		t.Fatalf("cells = %d, want old cell released", len(g.cells))
	}
	if got := g.Query(0, 0, 5); len(got) != 0 {
		t.Fatalf("stale hit at origin: %v", got)
	}
	if got := g.Query(-15, 25, 1); !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("query at new pos = %v", got)
	}
}

func TestGrid_Remove(t *testing.T) {
	g := NewGrid(10)
	g.Update("a", 0, 0)
	g.Remove("a")
	g.Remove("a")
	if g.Len() != 0 || len(g.cells) != 0 {
		t.Fatalf("grid not empty: len=%d cells=%d", g.Len(), len(g.cells))
	}
	if got := g.Query(0, 0, 100); len(got) != 0 {
		t.Fatalf("query after remove = %v", got)
	}
}

func TestGrid_MatchesBruteForce(t *testing.T) {
	g := NewGrid(10)
	rng := rand.New(rand.NewSource(42))
	pos := map[string][2]float64{}
	for i := 0; i < 400; i++ {
		id := fmt.Sprintf("e%03d", i)
		x, z := rng.Float64()*100-50, rng.Float64()*100-50
		g.Update(id, x, z)
		pos[id] = [2]float64{x, z}
	}
	for q := 0; q < 50; q++ {
		qx, qz := rng.Float64()*100-50, rng.Float64()*100-50
		var want []string
		for id, p := range pos {
			dx, dz := p[0]-qx, p[1]-qz
			if dx*dx+dz*dz <= 40*40 {
				want = append(want, id)
			}
		}
		sort.Strings(want)
		got := g.Query(qx, qz, 40)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("query %d: got %d ids, want %d", q, len(got), len(want))
		}
	}
}

func TestGrid_QueryFarOutsideInt32Cells(t *testing.T) {
	g := NewGrid(10)
	g.Update("a", 0, 0)
	g.Update("edge", math.MaxFloat64, 0)

	done := make(chan []string, 1)
	go func() {
		out := g.Query(21474836435, 0, DefaultAOIRadius)
		out = append(out, g.Query(-21474836435, 1e300, DefaultAOIRadius)...)
		done <- out
	}()
	select {
	case got := <-done:
		if len(got) != 0 {
			t.Fatalf("far query = %v, want nothing", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("query at huge coordinates did not return")
	}
}

func TestGrid_NonFiniteQuery(t *testing.T) {
	g := NewGrid(10)
	g.Update("a", 0, 0)
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if got := g.Query(v, 0, DefaultAOIRadius); got != nil {
			t.Fatalf("Query(%v) = %v, want nil", v, got)
		}
		if got := g.Query(0, 0, v); got != nil {
			t.Fatalf("Query radius %v = %v, want nil", v, got)
		}
	}
}
