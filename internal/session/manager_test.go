package session

import (
	"testing"
	"time"

	"github.com/Sunplus99/AGV-Scheduler/internal/protocol"
	"github.com/Sunplus99/AGV-Scheduler/internal/task"
	"github.com/Sunplus99/AGV-Scheduler/internal/world"
)

func newTestManager(t *testing.T, w *world.World) *Manager {
	t.Helper()
	tasks := task.NewManager(w, nil, func(int) (task.Session, bool) { return nil, false }, nil, testLogger())
	return NewManager(w, tasks, nil, testLogger())
}

func TestOnNewConnectionWiresContextAndCloseCallback(t *testing.T) {
	pair := newTestPair(t)
	w := world.New(world.DefaultMap(), testLogger())
	m := newTestManager(t, w)

	s := m.OnNewConnection(pair.conn)
	if pair.conn.Context != s {
		t.Fatal("conn.Context was not set to the new session")
	}
}

func TestOnCloseLogsOutAVehicleThatWasLoggedIn(t *testing.T) {
	pair := newTestPair(t)
	w := world.New(world.DefaultMap(), testLogger())
	m := newTestManager(t, w)

	s := m.OnNewConnection(pair.conn)
	s.HandleLogin(protocol.LoginReq{AgvId: 101, Password: "123456", InitialPos: protocol.Point{X: 1, Y: 1}}, 1)
	pair.readFrame(t)

	if _, ok := m.GetSession(101); !ok {
		t.Fatal("session not registered under its agvId")
	}

	pair.conn.Close()
	pair.waitClosed(t)
	waitUntil(t, func() bool {
		_, ok := w.Get(101)
		return !ok
	})
	if _, ok := m.GetSession(101); ok {
		t.Fatal("idMap entry should be gone after close")
	}
}

func TestLoginPreemptionClosesTheOldSessionButKeepsTheNewOneRegistered(t *testing.T) {
	pairA := newTestPair(t)
	pairB := newTestPair(t)
	w := world.New(world.DefaultMap(), testLogger())
	m := newTestManager(t, w)

	sA := m.OnNewConnection(pairA.conn)
	sA.HandleLogin(protocol.LoginReq{AgvId: 101, Password: "123456", InitialPos: protocol.Point{X: 1, Y: 1}}, 1)
	pairA.readFrame(t)

	sB := m.OnNewConnection(pairB.conn)
	sB.HandleLogin(protocol.LoginReq{AgvId: 101, Password: "123456", InitialPos: protocol.Point{X: 2, Y: 2}}, 1)
	pairB.readFrame(t)

	pairA.waitClosed(t)

	current, ok := m.GetSession(101)
	if !ok || current != task.Session(sB) {
		t.Fatal("idMap should still point at the preempting session")
	}

	// The preempted session's close must not log vehicle 101 out, since
	// the idMap entry no longer points at it.
	agv, ok := w.Get(101)
	if !ok || agv.Pos != (protocol.Point{X: 2, Y: 2}) {
		t.Fatalf("world state = %+v ok=%v, want the new session's login position preserved", agv, ok)
	}
}

func TestKickAgvForceClosesWithoutMutatingMapsItself(t *testing.T) {
	pair := newTestPair(t)
	w := world.New(world.DefaultMap(), testLogger())
	m := newTestManager(t, w)

	s := m.OnNewConnection(pair.conn)
	s.HandleLogin(protocol.LoginReq{AgvId: 101, Password: "123456", InitialPos: protocol.Point{X: 1, Y: 1}}, 1)
	pair.readFrame(t)

	m.KickAgv(101)
	pair.waitClosed(t)
	waitUntil(t, func() bool {
		_, ok := m.GetSession(101)
		return !ok
	})
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("condition never became true")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
