package world

import (
	"testing"

	"github.com/Sunplus99/AGV-Scheduler/internal/protocol"
)

func TestAStarFindsShortestPathOnDefaultMap(t *testing.T) {
	m := DefaultMap()
	p := NewAStarPlanner()
	start := protocol.Point{X: 1, Y: 1}
	end := protocol.Point{X: 8, Y: 8}

	path := p.FindPath(m, start, end)
	if len(path) == 0 {
		t.Fatal("FindPath returned no path on an open interior")
	}
	if path[len(path)-1] != end {
		t.Fatalf("path end = %v, want %v", path[len(path)-1], end)
	}
	if path[0] == start {
		t.Fatalf("path = %v, want start %v excluded", path, start)
	}
	wantLen := manhattan(start, end)
	if len(path) != wantLen {
		t.Fatalf("path length = %d, want %d (manhattan-optimal, start excluded)", len(path), wantLen)
	}
	prev := start
	for i := 0; i < len(path); i++ {
		dx := absInt(path[i].X - prev.X)
		dy := absInt(path[i].Y - prev.Y)
		if dx+dy != 1 {
			t.Fatalf("step %d is not a single 4-connected move: %v -> %v", i, prev, path[i])
		}
		prev = path[i]
	}
}

func TestAStarIsDeterministicAcrossRepeatedCalls(t *testing.T) {
	m := DefaultMap()
	p := NewAStarPlanner()
	start := protocol.Point{X: 1, Y: 1}
	end := protocol.Point{X: 8, Y: 1}

	first := p.FindPath(m, start, end)
	for i := 0; i < 20; i++ {
		got := p.FindPath(m, start, end)
		if len(got) != len(first) {
			t.Fatalf("run %d: path length changed: %d vs %d", i, len(got), len(first))
		}
		for j := range got {
			if got[j] != first[j] {
				t.Fatalf("run %d: path diverged at step %d: %v vs %v", i, j, got[j], first[j])
			}
		}
	}
}

func TestAStarReturnsNilWhenStartEqualsEnd(t *testing.T) {
	m := DefaultMap()
	p := NewAStarPlanner()
	pt := protocol.Point{X: 1, Y: 1}
	if path := p.FindPath(m, pt, pt); path != nil {
		t.Fatalf("path = %v, want nil", path)
	}
}

func TestAStarReturnsNilWhenEndpointIsObstacle(t *testing.T) {
	m := DefaultMap()
	p := NewAStarPlanner()
	start := protocol.Point{X: 1, Y: 1}
	wall := protocol.Point{X: 0, Y: 0}
	if path := p.FindPath(m, start, wall); path != nil {
		t.Fatalf("path = %v, want nil", path)
	}
}

func TestAStarReturnsNilWhenUnreachable(t *testing.T) {
	m := DefaultMap()
	// Wall off (1,1) completely so it cannot reach anything.
	m.set(2, 1, true)
	m.set(1, 2, true)
	p := NewAStarPlanner()
	path := p.FindPath(m, protocol.Point{X: 1, Y: 1}, protocol.Point{X: 8, Y: 8})
	if path != nil {
		t.Fatalf("path = %v, want nil (boxed in)", path)
	}
}
