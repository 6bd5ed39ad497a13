package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Sunplus99/AGV-Scheduler/internal/reactor"
	"github.com/Sunplus99/AGV-Scheduler/internal/task"
	"github.com/Sunplus99/AGV-Scheduler/internal/world"
)

// Manager is the process-wide two-map session registry: connection ->
// session and uid -> session, both guarded by one mutex since they are
// always mutated together on login/close/preemption.
type Manager struct {
	mu      sync.Mutex
	connMap map[*reactor.Connection]*Session
	idMap   map[int]*Session

	world   *world.World
	tasks   *task.Manager
	workers *reactor.WorkerPool
	log     *slog.Logger
}

func NewManager(w *world.World, tasks *task.Manager, workers *reactor.WorkerPool, log *slog.Logger) *Manager {
	return &Manager{
		connMap: make(map[*reactor.Connection]*Session),
		idMap:   make(map[int]*Session),
		world:   w,
		tasks:   tasks,
		workers: workers,
		log:     log.With("component", "sessionmanager"),
	}
}

// OnNewConnection constructs a new anonymous session for conn, registers
// it, and wires it as the connection's opaque context so inbound frame
// routing never has to look anything up. Idempotent: calling it twice
// for the same conn (which should never happen) leaves the first
// session in place.
func (m *Manager) OnNewConnection(conn *reactor.Connection) *Session {
	m.mu.Lock()
	if existing, ok := m.connMap[conn]; ok {
		m.mu.Unlock()
		return existing
	}
	s := New(conn, m.world, m.tasks, m, m.workers, m.log)
	m.connMap[conn] = s
	m.mu.Unlock()

	conn.Context = s
	conn.SetCloseCallback(func(c *reactor.Connection) { m.onClose(c) })
	return s
}

// onClose runs once the connection's fd has actually been torn down. A
// logged-in session only triggers World.Logout and task rollback if the
// id-map entry still points to it — a preempting login may already have
// overwritten that entry with a newer session for the same uid, in which
// case this stale session's close must not log the still-active vehicle
// out.
func (m *Manager) onClose(conn *reactor.Connection) {
	m.mu.Lock()
	s, ok := m.connMap[conn]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.connMap, conn)

	loggedOut := false
	if s.State() == LoggedIn {
		if current, ok := m.idMap[s.agvId]; ok && current == s {
			delete(m.idMap, s.agvId)
			loggedOut = true
		}
	}
	m.mu.Unlock()

	s.state.Store(int32(Closed))
	if loggedOut {
		m.world.Logout(s.agvId)
		m.tasks.OnAgvOffline(s.agvId)
	}
}

// KickAgv force-closes uid's connection without touching the map
// entries — onClose performs the actual cleanup once the fd tears down,
// so there is exactly one code path that ever mutates idMap on a close.
func (m *Manager) KickAgv(agvId int) {
	m.mu.Lock()
	s, ok := m.idMap[agvId]
	m.mu.Unlock()
	if !ok {
		return
	}
	s.ForceClose()
}

// RegisterAgvId overwrites any prior session registered for agvId,
// implementing login preemption: the old session (if any) is force
// closed, and the new entry takes over the uid immediately rather than
// waiting for the old connection to actually finish closing.
func (m *Manager) RegisterAgvId(agvId int, s *Session) {
	m.mu.Lock()
	old, existed := m.idMap[agvId]
	m.idMap[agvId] = s
	m.mu.Unlock()

	if existed && old != s {
		m.log.Warn("login preempted an existing session", "agvId", agvId)
		old.ForceClose()
	}
}

// GetSession resolves a logged-in vehicle's session, used by
// task.Manager's apply phase and satisfying task.SessionLookup.
func (m *Manager) GetSession(agvId int) (task.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.idMap[agvId]
	if !ok {
		return nil, false
	}
	return s, true
}

// AllConnections returns a snapshot of every currently tracked
// connection, used by the idle-connection eviction tick.
func (m *Manager) AllConnections() []*reactor.Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*reactor.Connection, 0, len(m.connMap))
	for c := range m.connMap {
		out = append(out, c)
	}
	return out
}

// CheckAllTimeouts is called by the reactor's 1 Hz tick to fail every
// session's stale outbound RPCs. Sessions are snapshotted under the
// lock and scanned outside it, since CheckRpcTimeout runs arbitrary
// callbacks that must never be able to deadlock against Manager's
// mutex.
func (m *Manager) CheckAllTimeouts(timeout time.Duration) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.connMap))
	for _, s := range m.connMap {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.CheckRpcTimeout(timeout)
	}
}
