package reactor

import (
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Sunplus99/AGV-Scheduler/internal/buffer"
	"github.com/Sunplus99/AGV-Scheduler/internal/protocol"
)

// MessageCallback is invoked once per decoded frame. msgType and seq come
// from the frame header; body is the raw JSON payload, copied out of the
// connection's input buffer so it's safe to retain past the callback.
type MessageCallback func(conn *Connection, msgType protocol.MsgType, seq int32, body []byte)

// CloseCallback is invoked exactly once, on the connection's own loop,
// after its fd has been removed from the poller and closed.
type CloseCallback func(conn *Connection)

// Connection wraps one accepted socket: its fd, its Channel, and the
// input/output Buffers that hold partially-read and not-yet-written
// bytes. Everything on Connection except Send and the closed flag is
// only ever touched from the owning Loop's goroutine, so it carries no
// internal mutex.
//
// The C++ reactor this design is drawn from breaks the
// Connection<->Channel ownership cycle with a weak_ptr so a callback
// firing after the owner let go of its last shared_ptr becomes a no-op
// instead of touching freed memory. Go's garbage collector already
// collects cycles, so Connection instead carries an explicit closed
// flag: the same "don't act past the point the owner walked away"
// contract, expressed as a guard instead of a weak reference.
type Connection struct {
	loop   *Loop
	fd     int
	name   string
	peer   string
	ch     *Channel
	closed atomic.Bool

	input  *buffer.Buffer
	output *buffer.Buffer

	lastActivity atomic.Int64 // unix nanos, updated on every read

	onMessage MessageCallback
	onClose   CloseCallback

	log *slog.Logger

	// Context is opaque application state attached by the layer above
	// the reactor (the session for this socket). The reactor never
	// reads it.
	Context any
}

// NewConnection wraps an already-connected, already-nonblocking fd as a
// Connection on loop. Exported for tests and for any future dialer-side
// connection setup; the acceptor's accept path uses the unexported
// constructor directly since it always runs on the target subloop
// already.
func NewConnection(loop *Loop, fd int, name, peer string, log *slog.Logger) *Connection {
	return newConnection(loop, fd, name, peer, log)
}

func newConnection(loop *Loop, fd int, name, peer string, log *slog.Logger) *Connection {
	c := &Connection{
		loop:   loop,
		fd:     fd,
		name:   name,
		peer:   peer,
		input:  buffer.New(),
		output: buffer.New(),
		log:    log.With("conn", name, "peer", peer),
	}
	c.lastActivity.Store(time.Now().UnixNano())
	c.ch = NewChannel(loop, fd)
	c.ch.SetReadCallback(c.handleRead)
	c.ch.SetWriteCallback(c.handleWrite)
	c.ch.SetCloseCallback(c.handleClose)
	c.ch.SetErrorCallback(c.handleError)
	return c
}

func (c *Connection) Name() string { return c.name }
func (c *Connection) Peer() string { return c.peer }
func (c *Connection) Loop() *Loop  { return c.loop }

// IsClosed reports whether the connection has already been torn down.
// Safe to call from any goroutine.
func (c *Connection) IsClosed() bool { return c.closed.Load() }

// LastActivity returns the time of the most recent successful read,
// used by idle-connection eviction.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

func (c *Connection) SetMessageCallback(fn MessageCallback) { c.onMessage = fn }
func (c *Connection) SetCloseCallback(fn CloseCallback)     { c.onClose = fn }

func (c *Connection) establish() {
	c.ch.EnableReading()
}

// Establish arms the connection for reading. Callers that construct a
// Connection via NewConnection must call this once, from the owning
// loop, before expecting any read callbacks.
func (c *Connection) Establish() { c.establish() }

// handleRead drains the fd completely on every readiness notification.
// The poller arms every fd edge-triggered (poller_linux.go), so a single
// read per event would miss whatever arrives after that read returns:
// the event that would normally tell the loop more is ready never fires
// again until the fd goes not-ready and ready again. Looping until
// EAGAIN is the same shape as Acceptor.handleAccept's accept4 loop.
func (c *Connection) handleRead() {
	for {
		n, err := c.input.ReadFd(c.fd)
		switch {
		case n > 0:
			c.lastActivity.Store(time.Now().UnixNano())
			c.extractFrames()
		case n == 0:
			c.handleClose()
			return
		default:
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN {
				return
			}
			c.log.Error("read failed", "err", err)
			c.handleClose()
			return
		}
	}
}

func (c *Connection) extractFrames() {
	for {
		result, head, body := protocol.ParseFrame(c.input)
		switch result {
		case protocol.NeedMore:
			return
		case protocol.ErrFrame:
			c.log.Warn("malformed frame, closing connection")
			c.forceClose()
			return
		case protocol.Frame:
			if c.onMessage != nil {
				c.onMessage(c, head.Type, head.Seq, body)
			}
		}
	}
}

// SendMessage frames v as msgType/seq and queues it for delivery. It is
// the layer-above-reactor entry point; Send below is for callers that
// already have raw framed bytes (retries, relays).
func (c *Connection) SendMessage(msgType protocol.MsgType, seq int32, v interface{}) error {
	tmp := buffer.New()
	if err := protocol.EncodeFrame(tmp, msgType, seq, v); err != nil {
		return err
	}
	c.Send(append([]byte(nil), tmp.Peek()...))
	return nil
}

// Send queues data for delivery. Safe to call from any goroutine: if
// called off the connection's loop, the write is handed to the loop via
// RunInLoop so output buffer access never races with handleWrite. A
// closed connection silently drops the data — this is deliberate: a
// worker finishing path planning for a session that was preempted in
// the meantime should not resurrect it.
func (c *Connection) Send(data []byte) {
	if c.IsClosed() {
		return
	}
	c.loop.RunInLoop(func() {
		c.sendInLoop(data)
	})
}

func (c *Connection) sendInLoop(data []byte) {
	if c.IsClosed() {
		return
	}
	if !c.ch.IsWriting() && c.output.ReadableBytes() == 0 {
		n, err := unix.Write(c.fd, data)
		if err != nil && err != unix.EAGAIN {
			c.log.Error("write failed", "err", err)
			c.forceClose()
			return
		}
		if n < 0 {
			n = 0
		}
		if n < len(data) {
			c.output.Append(data[n:])
			c.ch.EnableWriting()
		}
		return
	}
	c.output.Append(data)
	c.ch.EnableWriting()
}

func (c *Connection) handleWrite() {
	if !c.ch.IsWriting() {
		return
	}
	n, err := unix.Write(c.fd, c.output.Peek())
	if err != nil {
		if err == unix.EAGAIN {
			return
		}
		c.log.Error("write failed", "err", err)
		c.forceClose()
		return
	}
	c.output.Retrieve(n)
	if c.output.ReadableBytes() == 0 {
		c.ch.DisableWriting()
	}
}

func (c *Connection) handleError() {
	errno, err := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		c.log.Error("getsockopt(SO_ERROR) failed", "err", err)
		return
	}
	if errno != 0 {
		c.log.Warn("socket error", "errno", errno)
	}
}

func (c *Connection) handleClose() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.ch.DisableAll()
	c.ch.RemoveFromLoop()
	unix.Close(c.fd)
	if c.onClose != nil {
		c.onClose(c)
	}
}

// forceClose closes the connection from within a read/write callback,
// on the loop thread, without re-entering RunInLoop.
func (c *Connection) forceClose() {
	c.handleClose()
}

// Close tears the connection down from any goroutine, used to kick a
// vehicle whose session was preempted by a fresh login. A no-op if the
// connection is already closed.
func (c *Connection) Close() {
	if c.IsClosed() {
		return
	}
	c.loop.RunInLoop(c.handleClose)
}
