// Package session implements the per-connection state machine: login,
// heartbeat and task-report handling, outbound RPC correlation for
// server-initiated task dispatch, and path-request offload to the
// worker pool.
package session

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sunplus99/AGV-Scheduler/internal/protocol"
	"github.com/Sunplus99/AGV-Scheduler/internal/reactor"
	"github.com/Sunplus99/AGV-Scheduler/internal/task"
	"github.com/Sunplus99/AGV-Scheduler/internal/world"
)

// State is a session's position in its Anonymous -> LoggedIn -> Closed
// lifecycle.
type State int32

const (
	Anonymous State = iota
	LoggedIn
	Closed
)

func (s State) String() string {
	switch s {
	case Anonymous:
		return "Anonymous"
	case LoggedIn:
		return "LoggedIn"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// stubPassword is the one credential this server's auth stub accepts;
// Non-goals rule out real authentication.
const stubPassword = "123456"

// PendingRequest tracks one outstanding server-initiated RPC awaiting
// either an inbound ack (TaskReport.refSeq) or a timeout.
type PendingRequest struct {
	Seq      int32
	SendTime time.Time
	Callback func(success bool, reason string)
}

// Registrar is the slice of the session manager a Session needs back:
// registering/overwriting the uid->session entry on login. Kept as a
// local interface, the same direction-of-dependency trick as
// task.Session, so this file doesn't need to import manager.go's
// concrete type.
type Registrar interface {
	RegisterAgvId(agvId int, s *Session)
}

// Session owns one connection's login state, its view into World and
// the task manager, and the RPC bookkeeping for requests the server
// initiates on this connection. All handler methods run on the owning
// connection's loop except CheckRpcTimeout and the path-request worker
// closure, which touch only pendingMu-guarded state or call back into
// the loop via conn.SendMessage/Send.
type Session struct {
	state atomic.Int32

	conn  *reactor.Connection
	agvId int

	world   *world.World
	tasks   *task.Manager
	manager Registrar
	workers *reactor.WorkerPool

	seq atomic.Int32

	pendingMu sync.Mutex
	pending   map[int32]*PendingRequest

	log *slog.Logger
}

func New(conn *reactor.Connection, w *world.World, tasks *task.Manager, manager Registrar, workers *reactor.WorkerPool, log *slog.Logger) *Session {
	return &Session{
		conn:    conn,
		world:   w,
		tasks:   tasks,
		manager: manager,
		workers: workers,
		pending: make(map[int32]*PendingRequest),
		log:     log.With("component", "session", "conn", conn.Name()),
	}
}

func (s *Session) State() State   { return State(s.state.Load()) }
func (s *Session) AgvId() int     { return s.agvId }
func (s *Session) Connection() *reactor.Connection { return s.conn }

// ForceClose tears down the underlying connection; actual session
// cleanup (World logout, task rollback, map erasure) happens from
// SessionManager.onClose once the connection's close callback fires —
// this is deliberately the only thing ForceClose does, so there is one
// place that performs cleanup regardless of who triggered the close.
func (s *Session) ForceClose() {
	s.conn.Close()
}

// HandleLogin validates the stub password, performs preemption and
// registration, and replies. A wrong password replies failure and closes
// the connection; this server never resyncs a session past a failed
// login.
func (s *Session) HandleLogin(req protocol.LoginReq, seq int32) {
	if req.Password != stubPassword {
		s.conn.SendMessage(protocol.MsgLoginResp, seq, protocol.LoginResp{
			Success: false,
			Message: "invalid credentials",
		})
		s.state.Store(int32(Closed))
		s.conn.Close()
		return
	}

	s.agvId = req.AgvId
	s.state.Store(int32(LoggedIn))
	s.manager.RegisterAgvId(req.AgvId, s)
	s.world.Login(req.AgvId, req.Version, req.InitialPos)

	s.conn.SendMessage(protocol.MsgLoginResp, seq, protocol.LoginResp{
		Success: true,
		Token:   fmt.Sprintf("TOKEN_%d", req.AgvId),
		Message: "Login OK",
	})
}

// HandleHeartbeat forwards a periodic status update to World. A
// heartbeat claiming a different AgvId than this session logged in as
// is a client bug, logged and dropped rather than trusted.
func (s *Session) HandleHeartbeat(msg protocol.Heartbeat) {
	if s.State() != LoggedIn {
		return
	}
	if msg.AgvId != s.agvId {
		s.log.Warn("heartbeat agvId mismatch, dropped", "sessionAgvId", s.agvId, "msgAgvId", msg.AgvId)
		return
	}
	s.world.OnHeartbeat(msg.AgvId, msg.Status, msg.CurrentPos, msg.Battery)
}

// HandleTaskReport acks any outstanding RPC the report answers, then
// forwards the report to World and the task manager. Before login this
// short-circuits exactly like HandleHeartbeat: an unauthenticated
// connection gets no effect from any frame but login.
func (s *Session) HandleTaskReport(msg protocol.TaskReport) {
	if s.State() != LoggedIn {
		return
	}
	if msg.RefSeq > 0 {
		s.HandleAck(msg.RefSeq)
	}
	s.world.OnTaskReport(msg.AgvId, msg.TaskId, msg.Status, msg.CurrentPos, msg.Progress)
	s.tasks.OnTaskReport(msg.TaskId, msg.AgvId, msg.Status, msg.Progress)
}

// HandlePathRequest offloads the actual A* search to the worker pool so
// it never blocks this session's I/O loop. The closure captures conn and
// seq by value, which is what keeps the connection's send path usable
// even if the session itself is preempted mid-search — Connection.Send
// silently drops the reply for an already-closed connection instead of
// failing.
func (s *Session) HandlePathRequest(req protocol.PathReq, seq int32) {
	if s.State() != LoggedIn {
		return
	}
	conn := s.conn
	agvId := s.agvId
	gridMap := s.world.Map()
	planner := s.world.CurrentPlanner()
	w := s.world

	compute := func() {
		var path []protocol.Point
		if !w.IsOccupied(req.Start, agvId) {
			path = planner.FindPath(gridMap, req.Start, req.End)
		}
		resp := protocol.PathResp{Success: len(path) > 0, PathPoints: path}
		if !resp.Success {
			resp.FailReason = "Unreachable or already at target"
		}
		conn.SendMessage(protocol.MsgPathResp, seq, resp)
	}
	if s.workers != nil {
		s.workers.Submit(compute)
	} else {
		compute()
	}
}

// DispatchTask satisfies task.Session: it is how the task manager hands
// a decision to this vehicle. Returns false without sending anything if
// the session isn't logged in or cb is nil — the task manager treats
// that the same as any other apply-phase double-check failure.
func (s *Session) DispatchTask(t *task.Context, cb func(success bool, reason string)) bool {
	if s.State() != LoggedIn || cb == nil {
		return false
	}
	seq := s.nextSeq()

	s.pendingMu.Lock()
	s.pending[seq] = &PendingRequest{Seq: seq, SendTime: time.Now(), Callback: cb}
	s.pendingMu.Unlock()

	req := t.Request
	if err := s.conn.SendMessage(protocol.MsgTaskRequest, seq, protocol.TaskRequest{
		TaskId:      req.TaskId,
		TargetAgvId: req.TargetAgvId,
		TargetPos:   req.TargetPos,
		TargetAct:   req.TargetAct,
		Priority:    req.Priority,
	}); err != nil {
		s.pendingMu.Lock()
		delete(s.pending, seq)
		s.pendingMu.Unlock()
		return false
	}
	return true
}

// HandleAck resolves a pending outbound RPC by seq, invoking its
// callback with success. A seq with no matching pending entry (already
// timed out, or never ours) is silently ignored.
func (s *Session) HandleAck(refSeq int32) {
	s.pendingMu.Lock()
	pr, ok := s.pending[refSeq]
	if ok {
		delete(s.pending, refSeq)
	}
	s.pendingMu.Unlock()
	if ok && pr.Callback != nil {
		pr.Callback(true, "")
	}
}

// CheckRpcTimeout fails every pending RPC older than timeout, called
// once per second by the session manager's tick scan. Callbacks run
// outside pendingMu so a callback that calls back into the session
// can't deadlock against it.
func (s *Session) CheckRpcTimeout(timeout time.Duration) {
	now := time.Now()
	var expired []*PendingRequest

	s.pendingMu.Lock()
	for seq, pr := range s.pending {
		if now.Sub(pr.SendTime) > timeout {
			expired = append(expired, pr)
			delete(s.pending, seq)
		}
	}
	s.pendingMu.Unlock()

	for _, pr := range expired {
		if pr.Callback != nil {
			pr.Callback(false, "Timeout")
		}
	}
}

func (s *Session) nextSeq() int32 {
	return s.seq.Add(1)
}
