// Package fleetserver wires the reactor, world, task and session layers
// into one bootable process: it owns the loop pool, the acceptor, the
// worker pool, and the inbound message dispatch table, and exposes
// AddTask as the one admission point a warehouse-management driver
// (out of scope for this repo) would call to inject an order.
package fleetserver

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Sunplus99/AGV-Scheduler/internal/config"
	"github.com/Sunplus99/AGV-Scheduler/internal/protocol"
	"github.com/Sunplus99/AGV-Scheduler/internal/reactor"
	"github.com/Sunplus99/AGV-Scheduler/internal/session"
	"github.com/Sunplus99/AGV-Scheduler/internal/task"
	"github.com/Sunplus99/AGV-Scheduler/internal/world"
)

// Server owns every long-lived component started at boot and stopped at
// shutdown, in the reverse order they were created.
type Server struct {
	cfg *config.Config
	log *slog.Logger

	baseLoop *reactor.Loop
	ioPool   *reactor.LoopPool
	acceptor *reactor.Acceptor
	workers  *reactor.WorkerPool
	cancel   context.CancelFunc

	world    *world.World
	tasks    *task.Manager
	sessions *session.Manager
	stats    *stats

	tickCount    atomic.Int64
	baseLoopDone chan struct{}
}

// New constructs every component and wires the message dispatch table,
// but does not start accepting connections — call Start for that.
func New(cfg *config.Config, log *slog.Logger) (*Server, error) {
	gridMap, err := loadMap(cfg.Map, log)
	if err != nil {
		return nil, err
	}
	w := world.New(gridMap, log)

	ctx, cancel := context.WithCancel(context.Background())
	workers := reactor.NewWorkerPool(ctx, cfg.Server.ThreadsNum.Worker, 256, log)

	baseLoop, err := reactor.NewLoop("main", log)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("fleetserver: %w", err)
	}
	ioPool, err := reactor.NewLoopPool(baseLoop, cfg.Server.ThreadsNum.IO, log)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("fleetserver: %w", err)
	}

	st := &stats{}
	tasks := task.NewManager(w, task.NearestGreedyScheduler{}, nil, workers, log)
	tasks.SetStats(st)
	sessions := session.NewManager(w, tasks, workers, log)
	tasks.SetSessions(sessions.GetSession)

	acceptor, err := reactor.NewAcceptor(baseLoop, ioPool, cfg.Server.IP, cfg.Server.Port, log)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("fleetserver: %w", err)
	}

	s := &Server{
		cfg:          cfg,
		log:          log.With("component", "fleetserver"),
		baseLoop:     baseLoop,
		ioPool:       ioPool,
		acceptor:     acceptor,
		workers:      workers,
		cancel:       cancel,
		world:        w,
		tasks:        tasks,
		sessions:     sessions,
		stats:        st,
		baseLoopDone: make(chan struct{}),
	}

	acceptor.SetNewConnectionCallback(s.onNewConnection)
	return s, nil
}

func loadMap(mc config.MapConfig, log *slog.Logger) (*world.GridMap, error) {
	switch mc.Type {
	case config.MapFile:
		m, err := world.LoadMapFile(mc.Path)
		if err != nil {
			log.Warn("map file load failed, falling back to default map", "path", mc.Path, "err", err)
			return world.DefaultMap(), nil
		}
		return m, nil
	case config.MapRandom:
		width, height := mc.Width, mc.Height
		if width <= 0 {
			width = 10
		}
		if height <= 0 {
			height = 10
		}
		return world.RandomMap(width, height, mc.Ratio, nil), nil
	default:
		return world.DefaultMap(), nil
	}
}

// onNewConnection wires a fresh accepted connection to a new session and
// builds the per-connection dispatch table that routes each decoded
// message to the right session handler. Each connection gets its own
// Dispatcher, since every handler closes over this one session.
func (s *Server) onNewConnection(conn *reactor.Connection) {
	s.stats.OnAccepted()
	sess := s.sessions.OnNewConnection(conn)

	d := reactor.NewDispatcher(s.log)
	d.Register(protocol.MsgLoginReq, func(conn *reactor.Connection, seq int32, body []byte) {
		req, err := protocol.Decode[protocol.LoginReq](body)
		if err != nil {
			s.log.Warn("malformed LoginReq, dropped", "err", err)
			return
		}
		sess.HandleLogin(req, seq)
	})
	d.Register(protocol.MsgHeartbeat, func(conn *reactor.Connection, seq int32, body []byte) {
		msg, err := protocol.Decode[protocol.Heartbeat](body)
		if err != nil {
			s.log.Warn("malformed Heartbeat, dropped", "err", err)
			return
		}
		sess.HandleHeartbeat(msg)
	})
	d.Register(protocol.MsgTaskReport, func(conn *reactor.Connection, seq int32, body []byte) {
		msg, err := protocol.Decode[protocol.TaskReport](body)
		if err != nil {
			s.log.Warn("malformed TaskReport, dropped", "err", err)
			return
		}
		sess.HandleTaskReport(msg)
	})
	d.Register(protocol.MsgPathReq, func(conn *reactor.Connection, seq int32, body []byte) {
		req, err := protocol.Decode[protocol.PathReq](body)
		if err != nil {
			s.log.Warn("malformed PathReq, dropped", "err", err)
			return
		}
		s.stats.OnPathPlanned()
		sess.HandlePathRequest(req, seq)
	})
	conn.SetMessageCallback(func(conn *reactor.Connection, msgType protocol.MsgType, seq int32, body []byte) {
		d.OnMessage(conn, msgType, seq, body)
	})
}

// Start starts the I/O loop pool, the acceptor's own base loop, and the
// 1 Hz maintenance tick (RPC timeout scanning, idle-connection eviction).
// It returns once the loops are up; it does not block for shutdown.
func (s *Server) Start() {
	s.ioPool.Start()
	s.baseLoop.OnTick(s.onTick)
	go func() {
		s.baseLoop.Run()
		close(s.baseLoopDone)
	}()
	s.acceptor.Listen()
	s.log.Info("listening", "addr", fmt.Sprintf("%s:%d", s.cfg.Server.IP, s.cfg.Server.Port))
}

func (s *Server) onTick() {
	rpcTimeout := time.Duration(s.cfg.Server.RpcTimeoutMs) * time.Millisecond
	s.sessions.CheckAllTimeouts(rpcTimeout)
	conns := s.sessions.AllConnections()
	s.evictIdleConnections(conns)

	if s.tickCount.Add(1)%30 == 0 {
		s.stats.log(s.log, len(conns))
	}
}

func (s *Server) evictIdleConnections(conns []*reactor.Connection) {
	tcpTimeout := time.Duration(s.cfg.Server.TcpTimeoutS) * time.Second
	now := time.Now()
	for _, conn := range conns {
		if now.Sub(conn.LastActivity()) > tcpTimeout {
			s.stats.OnEvicted()
			conn.Close()
		}
	}
}

// AddTask admits a new order, the one entry point an out-of-process
// warehouse-management driver would call through an embedding program.
func (s *Server) AddTask(targetPos protocol.Point, targetAct protocol.ActionType, priority int) *task.Context {
	ctx := task.NewContext(targetPos, targetAct, priority)
	s.tasks.AddTask(ctx)
	return ctx
}

// World exposes the vehicle registry for read-only inspection (status
// endpoints, tests).
func (s *Server) World() *world.World { return s.world }

// Stop stops accepting new connections, joins the I/O loops and the main
// loop, and only then drains the worker pool — joining in destruction
// order means the main loop has stopped posting new work before the
// worker pool is asked to finish what it already has.
func (s *Server) Stop() {
	s.acceptor.Close()
	s.ioPool.Quit()
	s.baseLoop.Quit()
	<-s.baseLoopDone
	s.cancel()
	if err := s.workers.Close(); err != nil {
		s.log.Warn("worker pool drain returned an error", "err", err)
	}
}
