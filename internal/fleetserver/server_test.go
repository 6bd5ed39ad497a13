package fleetserver

import (
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/Sunplus99/AGV-Scheduler/internal/buffer"
	"github.com/Sunplus99/AGV-Scheduler/internal/config"
	"github.com/Sunplus99/AGV-Scheduler/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(port int) *config.Config {
	cfg := config.Defaults()
	cfg.Server.IP = "127.0.0.1"
	cfg.Server.Port = port
	cfg.Server.ThreadsNum.IO = 1
	cfg.Server.ThreadsNum.Worker = 1
	cfg.Server.RpcTimeoutMs = 50
	cfg.Server.TcpTimeoutS = 60
	return cfg
}

// startTestServer boots a fleetserver.Server on a fixed loopback port and
// tears it down at test end. Tests in this file each pick a distinct port
// to run independently of execution order.
func startTestServer(t *testing.T, port int) *Server {
	t.Helper()
	srv, err := New(testConfig(port), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Stop)
	time.Sleep(20 * time.Millisecond) // let the acceptor start listening
	return srv
}

type testClient struct {
	conn net.Conn
}

func dial(t *testing.T, port int) *testClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", "127.0.0.1:"+strconv.Itoa(port), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	return &testClient{conn: conn}
}

func (c *testClient) send(t *testing.T, msgType protocol.MsgType, seq int32, v any) {
	t.Helper()
	buf := buffer.New()
	if err := protocol.EncodeFrame(buf, msgType, seq, v); err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if _, err := c.conn.Write(buf.Peek()); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func (c *testClient) recv(t *testing.T) (protocol.Head, []byte) {
	t.Helper()
	buf := buffer.New()
	tmp := make([]byte, 4096)
	for {
		result, head, body := protocol.ParseFrame(buf)
		if result == protocol.Frame {
			return head, body
		}
		if result == protocol.ErrFrame {
			t.Fatal("malformed frame from server")
		}
		n, err := c.conn.Read(tmp)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		buf.Append(tmp[:n])
	}
}

func (c *testClient) login(t *testing.T, agvId int, pos protocol.Point) protocol.LoginResp {
	t.Helper()
	c.send(t, protocol.MsgLoginReq, 1, protocol.LoginReq{
		AgvId:      agvId,
		Password:   "123456",
		Version:    "1.0.0",
		InitialPos: pos,
	})
	_, body := c.recv(t)
	resp, err := protocol.Decode[protocol.LoginResp](body)
	if err != nil {
		t.Fatalf("decode LoginResp: %v", err)
	}
	return resp
}

func TestLoginHappyPath(t *testing.T) {
	srv := startTestServer(t, 19801)
	c := dial(t, 19801)
	defer c.conn.Close()

	resp := c.login(t, 101, protocol.Point{X: 1, Y: 1})
	if !resp.Success || resp.Token != "TOKEN_101" || resp.Message != "Login OK" {
		t.Fatalf("resp = %+v, want success TOKEN_101/Login OK", resp)
	}

	agv, ok := srv.World().Get(101)
	if !ok || agv.Pos != (protocol.Point{X: 1, Y: 1}) || agv.Status != protocol.StatusIdle || agv.Battery != 100 {
		t.Fatalf("world state = %+v ok=%v, want IDLE/(1,1)/100 battery", agv, ok)
	}
}

func TestPathRequestReachable(t *testing.T) {
	startTestServer(t, 19802)
	c := dial(t, 19802)
	defer c.conn.Close()
	c.login(t, 101, protocol.Point{X: 1, Y: 1})

	c.send(t, protocol.MsgPathReq, 7, protocol.PathReq{
		MapId: 1, Start: protocol.Point{X: 1, Y: 1}, End: protocol.Point{X: 1, Y: 3}, AllowReplan: true,
	})
	head, body := c.recv(t)
	if head.Type != protocol.MsgPathResp || head.Seq != 7 {
		t.Fatalf("head = %+v, want MsgPathResp/seq 7", head)
	}
	resp, err := protocol.Decode[protocol.PathResp](body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []protocol.Point{{X: 1, Y: 2}, {X: 1, Y: 3}}
	if !resp.Success || len(resp.PathPoints) != len(want) {
		t.Fatalf("resp = %+v, want %v", resp, want)
	}
	for i := range want {
		if resp.PathPoints[i] != want[i] {
			t.Fatalf("resp.PathPoints = %v, want %v", resp.PathPoints, want)
		}
	}
}

func TestPathRequestUnreachable(t *testing.T) {
	startTestServer(t, 19803)
	c := dial(t, 19803)
	defer c.conn.Close()
	c.login(t, 101, protocol.Point{X: 1, Y: 1})

	c.send(t, protocol.MsgPathReq, 8, protocol.PathReq{
		MapId: 1, Start: protocol.Point{X: 1, Y: 1}, End: protocol.Point{X: 0, Y: 0}, AllowReplan: true,
	})
	_, body := c.recv(t)
	resp, err := protocol.Decode[protocol.PathResp](body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Success || len(resp.PathPoints) != 0 || resp.FailReason != "Unreachable or already at target" {
		t.Fatalf("resp = %+v, want failure with reason %q", resp, "Unreachable or already at target")
	}
}

func TestTaskDispatchAndAck(t *testing.T) {
	srv := startTestServer(t, 19804)
	near := dial(t, 19804)
	defer near.conn.Close()
	far := dial(t, 19804)
	defer far.conn.Close()

	near.login(t, 101, protocol.Point{X: 1, Y: 1})
	far.login(t, 102, protocol.Point{X: 8, Y: 1})

	ctx := srv.AddTask(protocol.Point{X: 2, Y: 1}, protocol.ActionLiftUp, 0)

	head, body := near.recv(t)
	if head.Type != protocol.MsgTaskRequest {
		t.Fatalf("msg type = %v, want MsgTaskRequest on the nearer AGV", head.Type)
	}
	req, err := protocol.Decode[protocol.TaskRequest](body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.TaskId != ctx.Request.TaskId {
		t.Fatalf("taskId = %s, want %s", req.TaskId, ctx.Request.TaskId)
	}

	near.send(t, protocol.MsgTaskReport, 0, protocol.TaskReport{
		TaskId: req.TaskId, AgvId: 101, Status: protocol.StatusMoving, Progress: 0, RefSeq: head.Seq,
	})

	deadline := time.After(2 * time.Second)
	for srv.tasks.RunningCount() != 1 {
		select {
		case <-deadline:
			t.Fatal("task never reached running state")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestTaskDispatchTimeoutRollsBack(t *testing.T) {
	srv := startTestServer(t, 19806)
	c := dial(t, 19806)
	defer c.conn.Close()
	c.login(t, 101, protocol.Point{X: 1, Y: 1})

	ctx := srv.AddTask(protocol.Point{X: 2, Y: 1}, protocol.ActionLiftUp, 0)

	head, body := c.recv(t)
	if head.Type != protocol.MsgTaskRequest {
		t.Fatalf("msg type = %v, want MsgTaskRequest", head.Type)
	}
	req, err := protocol.Decode[protocol.TaskRequest](body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.TaskId != ctx.Request.TaskId {
		t.Fatalf("taskId = %s, want %s", req.TaskId, ctx.Request.TaskId)
	}

	// Never ack it. The rpcTimeoutMs=50 config plus the ~1Hz maintenance
	// tick should roll it back to pending well within this deadline.
	deadline := time.After(3 * time.Second)
	for srv.tasks.RunningCount() != 0 || srv.tasks.PendingCount() != 1 {
		select {
		case <-deadline:
			t.Fatalf("task never rolled back: running=%d pending=%d",
				srv.tasks.RunningCount(), srv.tasks.PendingCount())
		case <-time.After(10 * time.Millisecond):
		}
	}
	if ctx.Request.TargetAgvId != -1 {
		t.Fatalf("TargetAgvId = %d, want -1 after rollback", ctx.Request.TargetAgvId)
	}
}

func TestLoginPreemptionClosesFirstConnection(t *testing.T) {
	startTestServer(t, 19805)
	first := dial(t, 19805)
	defer first.conn.Close()
	second := dial(t, 19805)
	defer second.conn.Close()

	first.login(t, 102, protocol.Point{X: 1, Y: 1})
	resp := second.login(t, 102, protocol.Point{X: 2, Y: 2})
	if !resp.Success {
		t.Fatalf("preempting login should still succeed, got %+v", resp)
	}

	first.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	n, err := first.conn.Read(buf)
	if err != io.EOF && n != 0 {
		t.Fatalf("expected the preempted connection to close, read n=%d err=%v", n, err)
	}
}
