package world

import (
	"testing"

	"github.com/Sunplus99/AGV-Scheduler/internal/protocol"
)

func TestDefaultMapHasBorderWalls(t *testing.T) {
	m := DefaultMap()
	if m.Width() != 10 || m.Height() != 10 {
		t.Fatalf("dims = %dx%d, want 10x10", m.Width(), m.Height())
	}
	for i := 0; i < 10; i++ {
		if !m.IsObstacle(i, 0) || !m.IsObstacle(i, 9) || !m.IsObstacle(0, i) || !m.IsObstacle(9, i) {
			t.Fatalf("border cell (%d) not walled", i)
		}
	}
	if m.IsObstacle(5, 5) {
		t.Fatal("interior cell unexpectedly walled")
	}
}

func TestIsObstacleOutOfBoundsIsTrue(t *testing.T) {
	m := DefaultMap()
	if !m.IsObstacle(-1, 0) || !m.IsObstacle(0, -1) || !m.IsObstacle(100, 0) {
		t.Fatal("out-of-bounds cells must be treated as obstacles")
	}
}

func TestRandomMapKeepsSafePointsWalkable(t *testing.T) {
	safe := []protocol.Point{{X: 1, Y: 1}, {X: 8, Y: 1}, {X: 5, Y: 5}}
	m := RandomMap(10, 10, 0.9, safe)
	for _, p := range safe {
		if m.IsObstacle(p.X, p.Y) {
			t.Fatalf("safe point %v was walled despite high obstacle ratio", p)
		}
	}
}

func TestRandomWalkablePointIsNeverAnObstacle(t *testing.T) {
	m := DefaultMap()
	for i := 0; i < 50; i++ {
		p := m.RandomWalkablePoint()
		if m.IsObstacle(p.X, p.Y) {
			t.Fatalf("RandomWalkablePoint returned an obstacle: %v", p)
		}
	}
}
