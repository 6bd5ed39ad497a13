package task

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"github.com/Sunplus99/AGV-Scheduler/internal/protocol"
	"github.com/Sunplus99/AGV-Scheduler/internal/world"
)

// Session is the slice of the session layer the task manager needs:
// enough to hand a task to whichever vehicle a dispatch decision names,
// and to be told asynchronously whether it arrived. Defined here rather
// than imported from the session package so the dependency points the
// other way — session imports task to report outcomes, task never
// imports session.
type Session interface {
	DispatchTask(req *Context, cb func(success bool, reason string)) bool
}

// SessionLookup resolves a logged-in vehicle's session by AgvId. It
// returns false for a vehicle World still lists as online but whose
// session already closed — a race the apply phase's double-check must
// tolerate, not assume away.
type SessionLookup func(agvId int) (Session, bool)

// WorkerSubmitter is the subset of reactor.WorkerPool the task manager
// needs: somewhere to run the scheduler's batch computation off the I/O
// loop. A nil WorkerSubmitter runs compute synchronously on the caller,
// matching config's threads_num.worker = 0.
type WorkerSubmitter interface {
	Submit(task func())
}

// syncSubmitter runs its task immediately on the calling goroutine,
// used when no worker pool is configured.
type syncSubmitter struct{}

func (syncSubmitter) Submit(task func()) { task() }

// Stats is an optional observer for the dispatch pipeline's two
// outcomes, used to feed the server's counters. A nil Stats is a no-op.
type Stats interface {
	OnTaskDispatched()
	OnTaskRolledBack()
}

// minBattery is the percentage below which a vehicle is excluded from
// dispatch even if it reports Idle — low enough that it should be
// heading for a charger, not taking on more work.
const minBattery = 20.0

// Manager owns the pending queue and the set of currently running tasks,
// keyed by the vehicle carrying them (never by TaskId, since the apply
// phase's double-check and OnDispatchResult both arrive already knowing
// the AgvId and need O(1) access from it). Dispatch runs in three
// phases: AddTask/TryDispatch snapshot state on the I/O thread, the
// scheduler's batch computation runs off-loop on the worker pool, and
// the result is applied back under the task mutex with a fresh
// double-check against whatever changed while compute was running.
type Manager struct {
	mu           sync.Mutex
	pending      *list.List // of *Context
	runningByAgv map[int]*Context

	world     *world.World
	scheduler Scheduler
	sessions  SessionLookup
	workers   WorkerSubmitter
	stats     Stats
	log       *slog.Logger
}

// SetStats wires an observer for dispatch/rollback counters. Optional;
// a Manager with no Stats set just skips the notification.
func (m *Manager) SetStats(s Stats) {
	m.mu.Lock()
	m.stats = s
	m.mu.Unlock()
}

// SetSessions wires the session lookup after construction, for callers
// that build the task manager and the session manager together and need
// to break the resulting initialization cycle: the session manager's
// constructor takes the task manager, so the lookup it provides can only
// be wired back in once both exist.
func (m *Manager) SetSessions(sessions SessionLookup) {
	m.mu.Lock()
	m.sessions = sessions
	m.mu.Unlock()
}

func NewManager(w *world.World, scheduler Scheduler, sessions SessionLookup, workers WorkerSubmitter, log *slog.Logger) *Manager {
	if scheduler == nil {
		scheduler = NearestGreedyScheduler{}
	}
	if workers == nil {
		workers = syncSubmitter{}
	}
	return &Manager{
		pending:      list.New(),
		runningByAgv: make(map[int]*Context),
		world:        w,
		scheduler:    scheduler,
		sessions:     sessions,
		workers:      workers,
		log:          log.With("component", "taskmanager"),
	}
}

// AddTask enqueues a new task and kicks off a dispatch attempt over the
// whole pending queue, not just the new arrival — a vehicle idled by an
// earlier OnTaskReport might be waiting for exactly this task.
func (m *Manager) AddTask(t *Context) {
	m.mu.Lock()
	m.pending.PushBack(t)
	m.mu.Unlock()
	m.TryDispatch()
}

// TryDispatch runs phase one of the dispatch pipeline: snapshot the
// pending queue and the fleet, then hand the actual assignment
// computation to the worker pool so it never runs on the I/O thread that
// called this. Safe to call speculatively and often — AddTask,
// OnTaskReport's two terminal branches and OnAgvOffline all call it,
// and an empty pending queue or
// an empty candidate set just means the compute phase finds nothing to
// do.
func (m *Manager) TryDispatch() {
	m.mu.Lock()
	tasks := make([]*Context, 0, m.pending.Len())
	for e := m.pending.Front(); e != nil; e = e.Next() {
		tasks = append(tasks, e.Value.(*Context))
	}
	m.mu.Unlock()

	if len(tasks) == 0 {
		return
	}
	fleet := m.world.AllAgvs()

	m.workers.Submit(func() {
		m.compute(tasks, fleet)
	})
}

// compute is phase two: runs off the I/O loop, computing candidates and
// the batch assignment against the snapshot TryDispatch captured. It
// touches no shared state except through the Scheduler, which only ever
// sees the snapshot values passed to it.
func (m *Manager) compute(tasks []*Context, fleet []world.AgvState) {
	candidates := make([]world.AgvState, 0, len(fleet))
	for _, s := range fleet {
		if s.Status == protocol.StatusIdle && s.Battery >= minBattery {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return
	}
	decisions := m.scheduler.Dispatch(tasks, candidates)
	if len(decisions) == 0 {
		return
	}
	m.apply(decisions)
}

// apply is phase three: re-acquire the task mutex and commit each
// decision after re-validating it against whatever changed since the
// snapshot was taken — the vehicle might have gone offline, started
// another task, or the task itself might already have been picked up by
// a previous TryDispatch round that raced this one. Dispatching to the
// session happens while still holding the lock, so a report or another
// TryDispatch round can't observe the task as simultaneously pending and
// unassigned; logging is deferred until after unlock.
func (m *Manager) apply(decisions []Decision) {
	type sent struct {
		agvId    int
		taskId   string
		distance int
	}
	var log []sent

	m.mu.Lock()
	for _, d := range decisions {
		t := d.Task

		agv, ok := m.world.Get(d.AgvId)
		if !ok || agv.Status != protocol.StatusIdle {
			continue
		}
		if _, busy := m.runningByAgv[d.AgvId]; busy {
			continue
		}
		if t.Request.TargetAgvId != -1 {
			continue
		}
		sess, ok := m.sessions(d.AgvId)
		if !ok {
			continue
		}

		t.Request.TargetAgvId = d.AgvId
		t.Status = StatusDispatched
		t.UpdateTime = time.Now()
		m.runningByAgv[d.AgvId] = t

		agvId, taskId := d.AgvId, t.Request.TaskId
		accepted := sess.DispatchTask(t, func(success bool, reason string) {
			m.OnDispatchResult(agvId, taskId, success, reason)
		})
		if !accepted {
			delete(m.runningByAgv, agvId)
			t.Request.TargetAgvId = -1
			t.Status = StatusPending
			continue
		}
		log = append(log, sent{agvId: agvId, taskId: taskId, distance: d.Distance})
	}

	for e := m.pending.Front(); e != nil; {
		next := e.Next()
		if e.Value.(*Context).Request.TargetAgvId != -1 {
			m.pending.Remove(e)
		}
		e = next
	}
	stats := m.stats
	m.mu.Unlock()

	for _, s := range log {
		m.log.Info("dispatched task", "taskId", s.taskId, "agvId", s.agvId, "distance", s.distance)
		if stats != nil {
			stats.OnTaskDispatched()
		}
	}
}

// OnDispatchResult reports whether a dispatched task actually reached
// its vehicle. Keyed by AgvId first since that's what the session layer
// knows when the reply (or timeout) arrives; taskId is cross-checked so
// a stale callback from a task that was already rolled back and
// reassigned elsewhere can't clobber the new assignment. A failure rolls
// the task back to the front of the pending queue, unassigned; it is not
// re-dispatched from here, but by the next TryDispatch (the next
// AddTask, terminal task report or vehicle going offline).
func (m *Manager) OnDispatchResult(agvId int, taskId string, success bool, reason string) {
	m.mu.Lock()
	t, ok := m.runningByAgv[agvId]
	if !ok || t.Request.TaskId != taskId {
		m.mu.Unlock()
		m.log.Warn("dispatch result for unknown running task, dropped", "agvId", agvId, "taskId", taskId)
		return
	}
	if success {
		t.Status = StatusInProgress
		t.UpdateTime = time.Now()
		m.mu.Unlock()
		m.log.Info("task dispatch acknowledged", "taskId", taskId, "agvId", agvId)
		return
	}

	delete(m.runningByAgv, agvId)
	t.Request.TargetAgvId = -1
	t.Status = StatusPending
	t.UpdateTime = time.Now()
	m.pending.PushFront(t)
	stats := m.stats
	m.mu.Unlock()

	m.log.Warn("task dispatch failed, requeued", "taskId", taskId, "agvId", agvId, "reason", reason)
	if stats != nil {
		stats.OnTaskRolledBack()
	}
}

// OnTaskReport folds a progress report into the task it names. Error and
// completion are distinct branches, not a merged "terminal" check: an
// Error report rolls the task back to pending the same way a dispatch
// failure does, while completion (Idle status with progress at or past
// 1.0) retires the task entirely. Both free the vehicle's slot in
// runningByAgv and retrigger dispatch.
func (m *Manager) OnTaskReport(taskId string, agvId int, status protocol.AgvStatus, progress float64) {
	m.mu.Lock()
	t, ok := m.runningByAgv[agvId]
	if !ok || t.Request.TaskId != taskId {
		m.mu.Unlock()
		m.log.Warn("task report for unknown (agvId, taskId) pair, dropped", "agvId", agvId, "taskId", taskId)
		return
	}
	t.Progress = progress
	t.UpdateTime = time.Now()

	if status == protocol.StatusError {
		delete(m.runningByAgv, agvId)
		t.Request.TargetAgvId = -1
		t.Status = StatusPending
		m.pending.PushFront(t)
		stats := m.stats
		m.mu.Unlock()
		if stats != nil {
			stats.OnTaskRolledBack()
		}
		m.TryDispatch()
		return
	}

	if status == protocol.StatusIdle && progress >= 1.0 {
		delete(m.runningByAgv, agvId)
		t.Status = StatusCompleted
		m.mu.Unlock()
		m.TryDispatch()
		return
	}

	t.Status = StatusInProgress
	m.mu.Unlock()
}

// OnAgvOffline rolls back whatever task agvId was carrying when its
// session closed, called from the session manager's close handler.
func (m *Manager) OnAgvOffline(agvId int) {
	m.mu.Lock()
	t, ok := m.runningByAgv[agvId]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.runningByAgv, agvId)
	t.Request.TargetAgvId = -1
	t.Status = StatusPending
	t.UpdateTime = time.Now()
	m.pending.PushFront(t)
	stats := m.stats
	m.mu.Unlock()

	if stats != nil {
		stats.OnTaskRolledBack()
	}
	m.TryDispatch()
}

// PendingCount and RunningCount support tests and periodic stats
// without exposing the underlying containers.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending.Len()
}

func (m *Manager) RunningCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runningByAgv)
}
