package task

import (
	"github.com/Sunplus99/AGV-Scheduler/internal/protocol"
	"github.com/Sunplus99/AGV-Scheduler/internal/world"
)

// Decision is one task-to-vehicle pairing chosen by a Scheduler, plus the
// distance the pairing was chosen on — carried along purely for logging,
// never re-derived by the caller.
type Decision struct {
	Task    *Context
	AgvId   int
	Distance int
}

// Scheduler maps a batch of pending tasks onto a batch of candidate
// vehicles in one call, rather than one task at a time: computing the
// whole batch off the I/O loop is what makes the worker-pool offload in
// Manager.TryDispatch worthwhile, and a batch contract is what lets a
// future strategy (load balancing, reservation-aware routing) see the
// whole picture instead of greedily exhausting vehicles task-by-task. An
// implementation must never return the same AgvId twice in one batch,
// and every AgvId it returns must come from candidates.
type Scheduler interface {
	Dispatch(tasks []*Context, candidates []world.AgvState) []Decision
}

// NearestGreedyScheduler walks tasks in input order and, for each, picks
// the candidate with the smallest Manhattan distance to the task's
// target that hasn't already been claimed earlier in this same batch.
// Ties break on the lowest AgvId — candidates arrive pre-sorted by
// World.AllAgvs, but the tie-break is repeated here so the result stays
// deterministic even if a caller passes an unsorted slice.
type NearestGreedyScheduler struct{}

func (NearestGreedyScheduler) Dispatch(tasks []*Context, candidates []world.AgvState) []Decision {
	claimed := make(map[int]bool, len(candidates))
	decisions := make([]Decision, 0, len(tasks))

	for _, t := range tasks {
		best := -1
		bestDist := 0
		for _, c := range candidates {
			if claimed[c.AgvId] {
				continue
			}
			dist := manhattan(c.Pos, t.Request.TargetPos)
			if best == -1 || dist < bestDist || (dist == bestDist && c.AgvId < best) {
				best = c.AgvId
				bestDist = dist
			}
		}
		if best == -1 {
			continue
		}
		claimed[best] = true
		decisions = append(decisions, Decision{Task: t, AgvId: best, Distance: bestDist})
	}
	return decisions
}

func manhattan(a, b protocol.Point) int {
	return absInt(a.X-b.X) + absInt(a.Y-b.Y)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
