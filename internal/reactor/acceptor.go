package reactor

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// NewConnectionCallback is invoked on the subloop a freshly accepted
// connection was assigned to, just before the connection starts reading.
type NewConnectionCallback func(conn *Connection)

// Acceptor owns the listening socket and hands every accepted
// connection to the next loop in a LoopPool, round robin. It runs on
// its own Loop (the "base" loop in the usual configuration), separate
// from the I/O loops doing the actual per-connection work.
type Acceptor struct {
	loop     *Loop
	pool     *LoopPool
	fd       int
	ch       *Channel
	log      *slog.Logger
	connSeq  atomic.Int64
	onConn   NewConnectionCallback
}

// NewAcceptor creates a listening socket bound to addr:port and wires it
// to loop. Call Listen to start accepting.
func NewAcceptor(loop *Loop, pool *LoopPool, addr string, port int, log *slog.Logger) (*Acceptor, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("reactor: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("reactor: setsockopt SO_REUSEADDR: %w", err)
	}

	var sa unix.SockaddrInet4
	sa.Port = port
	ip, err := parseIPv4(addr)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	sa.Addr = ip
	if err := unix.Bind(fd, &sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("reactor: bind %s:%d: %w", addr, port, err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("reactor: listen: %w", err)
	}

	a := &Acceptor{loop: loop, pool: pool, fd: fd, log: log.With("component", "acceptor")}
	a.ch = NewChannel(loop, fd)
	a.ch.SetReadCallback(a.handleAccept)
	return a, nil
}

func parseIPv4(addr string) ([4]byte, error) {
	var out [4]byte
	if addr == "" || addr == "0.0.0.0" {
		return out, nil
	}
	var parts [4]int
	idx := 0
	cur := 0
	started := false
	for i := 0; i < len(addr); i++ {
		c := addr[i]
		switch {
		case c >= '0' && c <= '9':
			cur = cur*10 + int(c-'0')
			started = true
		case c == '.':
			if idx >= 4 || !started {
				return out, fmt.Errorf("reactor: invalid bind address %q", addr)
			}
			parts[idx] = cur
			idx++
			cur = 0
			started = false
		default:
			return out, fmt.Errorf("reactor: invalid bind address %q", addr)
		}
	}
	if idx != 3 || !started {
		return out, fmt.Errorf("reactor: invalid bind address %q", addr)
	}
	parts[3] = cur
	for _, p := range parts {
		if p < 0 || p > 255 {
			return out, fmt.Errorf("reactor: invalid bind address %q", addr)
		}
	}
	out[0], out[1], out[2], out[3] = byte(parts[0]), byte(parts[1]), byte(parts[2]), byte(parts[3])
	return out, nil
}

// SetNewConnectionCallback registers the handler invoked for every
// accepted connection.
func (a *Acceptor) SetNewConnectionCallback(fn NewConnectionCallback) { a.onConn = fn }

// Listen starts accepting on the acceptor's loop.
func (a *Acceptor) Listen() {
	a.loop.RunInLoop(func() {
		a.ch.EnableReading()
	})
}

func (a *Acceptor) handleAccept() {
	for {
		connFd, sa, err := unix.Accept4(a.fd, unix.SOCK_NONBLOCK)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			if err == unix.EINTR || err == unix.ECONNABORTED {
				continue
			}
			a.log.Error("accept failed", "err", err)
			return
		}

		peer := "unknown"
		if in4, ok := sa.(*unix.SockaddrInet4); ok {
			peer = fmt.Sprintf("%d.%d.%d.%d:%d", in4.Addr[0], in4.Addr[1], in4.Addr[2], in4.Addr[3], in4.Port)
		}

		sub := a.pool.GetNext()
		seq := a.connSeq.Add(1)
		name := "conn-" + strconv.FormatInt(seq, 10)

		sub.RunInLoop(func() {
			conn := newConnection(sub, connFd, name, peer, a.log)
			if a.onConn != nil {
				a.onConn(conn)
			}
			conn.establish()
		})
	}
}

// Close stops accepting and closes the listening socket.
func (a *Acceptor) Close() {
	a.loop.RunInLoop(func() {
		a.ch.DisableAll()
		a.ch.RemoveFromLoop()
		unix.Close(a.fd)
	})
}
