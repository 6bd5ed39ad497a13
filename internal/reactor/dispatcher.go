package reactor

import (
	"log/slog"

	"github.com/Sunplus99/AGV-Scheduler/internal/protocol"
)

// Handler processes one decoded frame for a connection.
type Handler func(conn *Connection, seq int32, body []byte)

// Dispatcher maps message types to handlers, the two-phase decode
// pattern a connection's onMessage callback drives: first look up the
// handler for the frame's type, then let the handler itself unmarshal
// the JSON body into its concrete payload type. Splitting lookup from
// unmarshal keeps Connection and Channel ignorant of the payload
// schemas entirely.
type Dispatcher struct {
	handlers map[protocol.MsgType]Handler
	log      *slog.Logger
}

// NewDispatcher creates an empty routing table.
func NewDispatcher(log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[protocol.MsgType]Handler),
		log:      log.With("component", "dispatcher"),
	}
}

// Register binds a handler to a message type. Registering the same type
// twice replaces the previous handler, which is only ever used in tests.
func (d *Dispatcher) Register(msgType protocol.MsgType, h Handler) {
	d.handlers[msgType] = h
}

// OnMessage is the MessageCallback wired into every Connection created
// by the server; it looks up and invokes the handler for the frame's
// type, logging and dropping anything unrecognized rather than closing
// the connection over it.
func (d *Dispatcher) OnMessage(conn *Connection, msgType protocol.MsgType, seq int32, body []byte) {
	h, ok := d.handlers[msgType]
	if !ok {
		d.log.Warn("no handler registered", "msgType", msgType, "conn", conn.Name())
		return
	}
	h(conn, seq, body)
}
