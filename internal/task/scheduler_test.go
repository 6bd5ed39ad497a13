package task

import (
	"io"
	"log/slog"
	"testing"

	"github.com/Sunplus99/AGV-Scheduler/internal/protocol"
	"github.com/Sunplus99/AGV-Scheduler/internal/world"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNearestGreedySchedulerPicksClosestPerTask(t *testing.T) {
	candidates := []world.AgvState{
		{AgvId: 1, Status: protocol.StatusIdle, Pos: protocol.Point{X: 0, Y: 0}},
		{AgvId: 2, Status: protocol.StatusIdle, Pos: protocol.Point{X: 5, Y: 5}},
	}
	tk := NewContext(protocol.Point{X: 1, Y: 1}, protocol.ActionNone, 0)

	decisions := NearestGreedyScheduler{}.Dispatch([]*Context{tk}, candidates)
	if len(decisions) != 1 || decisions[0].AgvId != 1 {
		t.Fatalf("decisions = %+v, want single decision assigning AgvId 1", decisions)
	}
}

func TestNearestGreedySchedulerNeverRepeatsAnAgvIdInOneBatch(t *testing.T) {
	candidates := []world.AgvState{
		{AgvId: 1, Status: protocol.StatusIdle, Pos: protocol.Point{X: 0, Y: 0}},
	}
	tasks := []*Context{
		NewContext(protocol.Point{X: 1, Y: 1}, protocol.ActionNone, 0),
		NewContext(protocol.Point{X: 2, Y: 2}, protocol.ActionNone, 0),
	}

	decisions := NearestGreedyScheduler{}.Dispatch(tasks, candidates)
	if len(decisions) != 1 {
		t.Fatalf("decisions = %+v, want exactly one decision (only one candidate available)", decisions)
	}
	if decisions[0].Task != tasks[0] {
		t.Fatalf("the first task in input order should win the only candidate")
	}
}

func TestNearestGreedySchedulerBreaksTiesByLowestAgvId(t *testing.T) {
	candidates := []world.AgvState{
		{AgvId: 5, Status: protocol.StatusIdle, Pos: protocol.Point{X: 0, Y: 0}},
		{AgvId: 2, Status: protocol.StatusIdle, Pos: protocol.Point{X: 0, Y: 0}},
	}
	tk := NewContext(protocol.Point{X: 3, Y: 0}, protocol.ActionNone, 0)

	decisions := NearestGreedyScheduler{}.Dispatch([]*Context{tk}, candidates)
	if len(decisions) != 1 || decisions[0].AgvId != 2 {
		t.Fatalf("decisions = %+v, want AgvId 2 (lowest id on tie)", decisions)
	}
}

func TestNearestGreedySchedulerSkipsTaskWithNoCandidatesLeft(t *testing.T) {
	candidates := []world.AgvState{}
	tk := NewContext(protocol.Point{X: 1, Y: 1}, protocol.ActionNone, 0)

	decisions := NearestGreedyScheduler{}.Dispatch([]*Context{tk}, candidates)
	if len(decisions) != 0 {
		t.Fatalf("decisions = %+v, want none when there are no candidates", decisions)
	}
}
