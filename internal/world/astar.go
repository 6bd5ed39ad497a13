package world

import (
	"container/heap"
	"sync"

	"github.com/Sunplus99/AGV-Scheduler/internal/protocol"
)

// Planner computes a path between two cells of a map. It is held behind
// a pointer the World manager can swap under lock, so an alternate
// strategy (a different heuristic, a precomputed flow field) can replace
// the default A* planner without touching call sites.
type Planner interface {
	FindPath(m *GridMap, start, end protocol.Point) []protocol.Point
}

// dirs walks neighbors clockwise starting up: up, right, down, left.
// Expanding in a fixed order is what makes AStarPlanner's output
// reproducible for a given map and query, not an incidental detail.
var dirs = [4][2]int{{0, -1}, {1, 0}, {0, 1}, {-1, 0}}

func manhattan(a, b protocol.Point) int {
	return absInt(a.X-b.X) + absInt(a.Y-b.Y)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

type aStarNode struct {
	x, y   int
	g, h   int
	f      int
	parent int // index into the arena's nodes slice, -1 for the start node
}

// arena holds the reusable per-search state: the node pool and a
// tag/epoch visited array, so a fresh search costs one epoch increment
// instead of re-zeroing a width*height array. AStarPlanner keeps a pool
// of these behind a sync.Pool, which gives each concurrently-running
// search (one per worker goroutine) an arena nothing else touches at
// the same time, without needing actual goroutine-local storage.
type arena struct {
	width, height int
	tags          []int32
	epoch         int32
	nodes         []aStarNode
	nodeCount     int
}

func (a *arena) reset(width, height int) {
	if a.width != width || a.height != height {
		a.width, a.height = width, height
		a.tags = make([]int32, width*height)
		a.epoch = 0
	}
	if a.epoch == 1<<31-1 {
		for i := range a.tags {
			a.tags[i] = 0
		}
		a.epoch = 0
	}
	a.epoch++
	a.nodeCount = 0
}

func (a *arena) visited(x, y int) bool {
	return a.tags[y*a.width+x] == a.epoch
}

func (a *arena) markVisited(x, y int) {
	a.tags[y*a.width+x] = a.epoch
}

func (a *arena) alloc(x, y, g, h, parent int) int {
	n := aStarNode{x: x, y: y, g: g, h: h, f: g + h, parent: parent}
	if a.nodeCount < len(a.nodes) {
		a.nodes[a.nodeCount] = n
	} else {
		a.nodes = append(a.nodes, n)
	}
	idx := a.nodeCount
	a.nodeCount++
	return idx
}

// pqItem is one entry in the open set's min-heap, ordered by f and
// tie-broken by insertion sequence so two nodes with equal f always
// expand in the same relative order, making search output deterministic.
type pqItem struct {
	nodeIdx int
	f       int
	seq     int64
}

type nodeHeap []pqItem

func (h nodeHeap) Len() int { return len(h) }
func (h nodeHeap) Less(i, j int) bool {
	if h[i].f != h[j].f {
		return h[i].f < h[j].f
	}
	return h[i].seq < h[j].seq
}
func (h nodeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *nodeHeap) Push(x any)        { *h = append(*h, x.(pqItem)) }
func (h *nodeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// AStarPlanner is the default Planner: an unweighted grid search (every
// step costs 1) using the Manhattan distance heuristic, which is both
// admissible and consistent on a 4-connected grid so the first time the
// goal is popped off the open set, its path is shortest.
type AStarPlanner struct {
	pool sync.Pool
}

func NewAStarPlanner() *AStarPlanner {
	return &AStarPlanner{
		pool: sync.Pool{New: func() any { return &arena{} }},
	}
}

// FindPath returns the sequence of points from start (exclusive) to end
// (inclusive), or nil if no path exists, start/end is an obstacle, or
// start == end.
func (p *AStarPlanner) FindPath(m *GridMap, start, end protocol.Point) []protocol.Point {
	if m.IsObstaclePoint(start) || m.IsObstaclePoint(end) {
		return nil
	}
	if start == end {
		return nil
	}

	a := p.pool.Get().(*arena)
	defer p.pool.Put(a)
	a.reset(m.Width(), m.Height())

	pq := &nodeHeap{}
	var seq int64

	startIdx := a.alloc(start.X, start.Y, 0, manhattan(start, end), -1)
	a.markVisited(start.X, start.Y)
	heap.Push(pq, pqItem{nodeIdx: startIdx, f: a.nodes[startIdx].f, seq: seq})
	seq++

	targetIdx := -1
	for pq.Len() > 0 {
		item := heap.Pop(pq).(pqItem)
		cur := a.nodes[item.nodeIdx]

		if cur.x == end.X && cur.y == end.Y {
			targetIdx = item.nodeIdx
			break
		}

		for _, d := range dirs {
			nx, ny := cur.x+d[0], cur.y+d[1]
			if m.IsObstacle(nx, ny) || a.visited(nx, ny) {
				continue
			}
			h := manhattan(protocol.Point{X: nx, Y: ny}, end)
			idx := a.alloc(nx, ny, cur.g+1, h, item.nodeIdx)
			a.markVisited(nx, ny)
			heap.Push(pq, pqItem{nodeIdx: idx, f: a.nodes[idx].f, seq: seq})
			seq++
		}
	}

	if targetIdx == -1 {
		return nil
	}

	var path []protocol.Point
	for idx := targetIdx; idx != startIdx; idx = a.nodes[idx].parent {
		n := a.nodes[idx]
		path = append(path, protocol.Point{X: n.x, Y: n.y})
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
