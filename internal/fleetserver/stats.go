package fleetserver

import (
	"log/slog"
	"sync/atomic"
)

// stats is a small set of in-memory counters, observational only
// (Non-goals rule out persistence): how many connections were accepted,
// how many are currently active, how many were evicted for going idle,
// and how much dispatch/planning work has actually happened. Updated
// from whichever goroutine observes the event and logged periodically
// rather than read synchronously, the same loose coupling used for
// connectivity transition events elsewhere. Exported method names
// double as the task.Stats implementation the task manager notifies.
type stats struct {
	accepted        atomic.Int64
	evicted         atomic.Int64
	tasksDispatched atomic.Int64
	tasksRolledBack atomic.Int64
	pathsPlanned    atomic.Int64
}

func (s *stats) OnAccepted() { s.accepted.Add(1) }

func (s *stats) OnEvicted() { s.evicted.Add(1) }

func (s *stats) OnTaskDispatched() { s.tasksDispatched.Add(1) }

func (s *stats) OnTaskRolledBack() { s.tasksRolledBack.Add(1) }

func (s *stats) OnPathPlanned() { s.pathsPlanned.Add(1) }

// log emits a snapshot. active is supplied by the caller rather than
// tracked here, since the session manager's connection map is already
// the single source of truth for who is currently connected.
func (s *stats) log(log *slog.Logger, active int) {
	log.Info("server stats",
		"accepted", s.accepted.Load(),
		"active", active,
		"evicted", s.evicted.Load(),
		"tasksDispatched", s.tasksDispatched.Load(),
		"tasksRolledBack", s.tasksRolledBack.Load(),
		"pathsPlanned", s.pathsPlanned.Load(),
	)
}
