package world

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"strconv"

	"github.com/Sunplus99/AGV-Scheduler/internal/protocol"
)

// GridMap is a fixed-size occupancy grid: cell value 0 is walkable, 1 is
// an obstacle. Rows are stored flat (index = y*width+x) rather than as a
// slice of slices, so a large map stays in one contiguous allocation.
type GridMap struct {
	width, height int
	cells         []uint8
}

func NewGridMap(width, height int) *GridMap {
	return &GridMap{width: width, height: height, cells: make([]uint8, width*height)}
}

func (g *GridMap) Width() int  { return g.width }
func (g *GridMap) Height() int { return g.height }

func (g *GridMap) idx(x, y int) int { return y*g.width + x }

// IsObstacle reports whether (x, y) cannot be entered, including every
// point outside the map bounds.
func (g *GridMap) IsObstacle(x, y int) bool {
	if x < 0 || x >= g.width || y < 0 || y >= g.height {
		return true
	}
	return g.cells[g.idx(x, y)] != 0
}

func (g *GridMap) IsObstaclePoint(p protocol.Point) bool { return g.IsObstacle(p.X, p.Y) }

func (g *GridMap) set(x, y int, obstacle bool) {
	if obstacle {
		g.cells[g.idx(x, y)] = 1
	} else {
		g.cells[g.idx(x, y)] = 0
	}
}

// DefaultMap is the 10x10 bordered fallback used whenever a configured
// map source is missing or invalid: walls along all four edges, open in
// the middle.
func DefaultMap() *GridMap {
	g := NewGridMap(10, 10)
	for i := 0; i < 10; i++ {
		g.set(i, 0, true)
		g.set(i, 9, true)
		g.set(0, i, true)
		g.set(9, i, true)
	}
	return g
}

// RandomMap builds a width x height map with cells independently walled
// off at obstacleRatio probability, a border wall on all four edges, and
// a handful of safe points guaranteed walkable for initial vehicle
// placement.
func RandomMap(width, height int, obstacleRatio float64, safePoints []protocol.Point) *GridMap {
	g := NewGridMap(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if rand.Float64() < obstacleRatio {
				g.set(x, y, true)
			}
		}
	}
	for _, p := range safePoints {
		if p.X >= 0 && p.X < width && p.Y >= 0 && p.Y < height {
			g.set(p.X, p.Y, false)
		}
	}
	for x := 0; x < width; x++ {
		g.set(x, 0, true)
		g.set(x, height-1, true)
	}
	for y := 0; y < height; y++ {
		g.set(0, y, true)
		g.set(width-1, y, true)
	}
	return g
}

// LoadMapFile reads a whitespace-separated map file: the first two
// tokens are width and height, followed by width*height cell values in
// row-major order. On any read or format error it logs nothing itself
// (the caller decides whether to fall back to DefaultMap) and returns
// an error describing what went wrong.
func LoadMapFile(path string) (*GridMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("world: open map file %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	sc.Split(bufio.ScanWords)

	nextInt := func() (int, error) {
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return 0, err
			}
			return 0, fmt.Errorf("unexpected end of map file")
		}
		return strconv.Atoi(sc.Text())
	}

	width, err := nextInt()
	if err != nil {
		return nil, fmt.Errorf("world: map file %s: header width: %w", path, err)
	}
	height, err := nextInt()
	if err != nil {
		return nil, fmt.Errorf("world: map file %s: header height: %w", path, err)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("world: map file %s: invalid dimensions %dx%d", path, width, height)
	}

	g := NewGridMap(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v, err := nextInt()
			if err != nil {
				return nil, fmt.Errorf("world: map file %s: cell (%d,%d): %w", path, x, y, err)
			}
			g.set(x, y, v != 0)
		}
	}
	return g, nil
}

// RandomWalkablePoint samples an interior, non-obstacle cell. It gives
// up after 1000 attempts and falls back to (1, 1), so it never blocks
// forever on a bad map.
func (g *GridMap) RandomWalkablePoint() protocol.Point {
	if g.width <= 2 || g.height <= 2 {
		return protocol.Point{X: 1, Y: 1}
	}
	for attempt := 0; attempt < 1000; attempt++ {
		x := 1 + rand.Intn(g.width-2)
		y := 1 + rand.Intn(g.height-2)
		if !g.IsObstacle(x, y) {
			return protocol.Point{X: x, Y: y}
		}
	}
	return protocol.Point{X: 1, Y: 1}
}
