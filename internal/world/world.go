// Package world holds the server's view of the physical layer: the
// static map and the live vehicle registry derived from login,
// heartbeat and task-report traffic.
package world

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Sunplus99/AGV-Scheduler/internal/protocol"
)

// AgvState is a point-in-time snapshot of one vehicle's known state,
// returned by value from every World read so callers never hold a
// pointer into the registry's internal map past the lock.
type AgvState struct {
	AgvId         int
	Version       string
	Status        protocol.AgvStatus
	Pos           protocol.Point
	Battery       float64
	LastSeen      time.Time
	CurrentTaskId string
	TaskProgress  float64
}

// World is the RW-locked online vehicle registry plus the static map
// and the pluggable path planner. Mutations (login, heartbeat,
// task-report, logout) take the write lock; reads (getAllAgvs,
// isOccupied) take the read lock, so many sessions can query
// concurrently while only vehicle-state changes serialize.
type World struct {
	mu      sync.RWMutex
	agvs    map[int]*AgvState
	gridMap *GridMap

	plannerMu sync.RWMutex
	planner   Planner

	log *slog.Logger
}

func New(gridMap *GridMap, log *slog.Logger) *World {
	return &World{
		agvs:    make(map[int]*AgvState),
		gridMap: gridMap,
		planner: NewAStarPlanner(),
		log:     log.With("component", "world"),
	}
}

// Map returns the static grid map. The GridMap itself is immutable
// after construction, so no lock is needed to read it.
func (w *World) Map() *GridMap { return w.gridMap }

// SetPlanner hot-swaps the path planning strategy. Safe to call while
// searches driven by the previous planner are still in flight: each
// FindPath call captures its own Planner reference before running, so
// it finishes against whichever planner was current when it started.
func (w *World) SetPlanner(p Planner) {
	w.plannerMu.Lock()
	w.planner = p
	w.plannerMu.Unlock()
}

// CurrentPlanner returns the current planner, to be called once per query and
// the result used for the duration of that query rather than calling
// this repeatedly mid-search.
func (w *World) CurrentPlanner() Planner {
	w.plannerMu.RLock()
	defer w.plannerMu.RUnlock()
	return w.planner
}

// Login registers a vehicle as online, or re-registers one that
// reconnects, seeding its state from the login payload.
func (w *World) Login(agvId int, version string, pos protocol.Point) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.agvs[agvId] = &AgvState{
		AgvId:    agvId,
		Version:  version,
		Status:   protocol.StatusIdle,
		Pos:      pos,
		Battery:  100,
		LastSeen: time.Now(),
	}
}

// Logout removes a vehicle from the registry entirely, called when its
// session closes.
func (w *World) Logout(agvId int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.agvs, agvId)
}

// OnHeartbeat updates a known vehicle's position, status and battery.
// It is a no-op if the vehicle was never logged in — the session layer
// is responsible for rejecting heartbeats from unauthenticated
// connections before they ever reach World.
func (w *World) OnHeartbeat(agvId int, status protocol.AgvStatus, pos protocol.Point, battery float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.agvs[agvId]
	if !ok {
		return
	}
	s.Status = status
	s.Pos = pos
	s.Battery = battery
	s.LastSeen = time.Now()
}

// OnTaskReport updates a vehicle's state from a task-in-progress report:
// which task it currently claims to be running, how far along it is,
// its status and its position.
func (w *World) OnTaskReport(agvId int, taskId string, status protocol.AgvStatus, pos protocol.Point, progress float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.agvs[agvId]
	if !ok {
		return
	}
	s.Status = status
	s.Pos = pos
	s.CurrentTaskId = taskId
	s.TaskProgress = progress
	s.LastSeen = time.Now()
}

// Get returns a snapshot of one vehicle's state.
func (w *World) Get(agvId int) (AgvState, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, ok := w.agvs[agvId]
	if !ok {
		return AgvState{}, false
	}
	return *s, true
}

// AllAgvs returns a snapshot of every online vehicle, safe to range
// over without holding World's lock — exactly what the task scheduler
// needs before it goes off-loop to pick assignees. Sorted by AgvId: Go's
// map iteration order is randomized per-run, and the scheduler's
// lowest-uid tie-break has to mean the same thing on every call for its
// output to be reproducible.
func (w *World) AllAgvs() []AgvState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]AgvState, 0, len(w.agvs))
	for _, s := range w.agvs {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgvId < out[j].AgvId })
	return out
}

// IsOccupied reports whether some vehicle other than selfUid currently
// sits at pos. Used as a fail-fast precondition before planning: a
// vehicle whose own reported start cell is occupied by someone else
// can't be routed around that obstacle and must replan from a fresh
// position instead.
func (w *World) IsOccupied(pos protocol.Point, selfUid int) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, s := range w.agvs {
		if s.AgvId != selfUid && s.Pos == pos {
			return true
		}
	}
	return false
}

// OnlineCount reports how many vehicles are currently registered.
func (w *World) OnlineCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.agvs)
}
