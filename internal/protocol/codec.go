package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/Sunplus99/AGV-Scheduler/internal/buffer"
)

// HeaderSize is the fixed length of a frame header: bodyLen, type and
// seq, each a big-endian int32.
const HeaderSize = 12

// MaxBodyLen bounds a single frame's body, rejecting anything that looks
// like a desynced stream or a hostile peer before it causes an
// unbounded allocation.
const MaxBodyLen = 65535

// Head is the fixed portion of a frame, decoded ahead of the body.
type Head struct {
	BodyLen int32
	Type    MsgType
	Seq     int32
}

// ParseResult reports the outcome of a single ParseFrame call.
type ParseResult int

const (
	// NeedMore means the buffer does not yet hold a complete frame;
	// the caller should wait for more bytes and try again.
	NeedMore ParseResult = iota
	// Frame means a complete frame was decoded and consumed.
	Frame
	// ErrFrame means the buffer holds a malformed frame (bad bodyLen);
	// the caller should close the connection. The offending bytes are
	// left in the buffer; ParseFrame never mutates it on this path.
	ErrFrame
)

// ParseFrame attempts to decode one frame from the front of buf. It
// never blocks and never allocates more than it needs: on NeedMore or
// ErrFrame, buf is left untouched so the caller can keep accumulating
// bytes (NeedMore) or close the connection (ErrFrame) without losing
// data it might want to log.
func ParseFrame(buf *buffer.Buffer) (ParseResult, Head, []byte) {
	if buf.ReadableBytes() < HeaderSize {
		return NeedMore, Head{}, nil
	}
	bodyLen := buf.PeekInt32()
	if bodyLen < 0 || bodyLen > MaxBodyLen {
		return ErrFrame, Head{}, nil
	}
	total := HeaderSize + int(bodyLen)
	if buf.ReadableBytes() < total {
		return NeedMore, Head{}, nil
	}
	head := Head{
		BodyLen: bodyLen,
		Type:    MsgType(buf.PeekInt32At(4)),
		Seq:     buf.PeekInt32At(8),
	}
	full := buf.Peek()[:total]
	body := make([]byte, bodyLen)
	copy(body, full[HeaderSize:total])
	buf.Retrieve(total)
	return Frame, head, body
}

// EncodeFrame marshals v to JSON and appends a complete frame (header +
// body) to the writable end of buf. Unlike a single-shot encode into a
// fresh buffer, a connection's output buffer can already hold unsent
// frames, so the header is appended in front of the body rather than
// Prepend-ed into the buffer's headroom, which would land before
// whatever was queued ahead of it.
func EncodeFrame(buf *buffer.Buffer, msgType MsgType, seq int32, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("protocol: marshal %s body: %w", msgType, err)
	}
	if len(body) > MaxBodyLen {
		return fmt.Errorf("protocol: %s body of %d bytes exceeds max %d", msgType, len(body), MaxBodyLen)
	}
	var hdr [HeaderSize]byte
	putInt32BE(hdr[0:4], int32(len(body)))
	putInt32BE(hdr[4:8], int32(msgType))
	putInt32BE(hdr[8:12], seq)
	buf.Append(hdr[:])
	buf.Append(body)
	return nil
}

func putInt32BE(dst []byte, v int32) {
	dst[0] = byte(v >> 24)
	dst[1] = byte(v >> 16)
	dst[2] = byte(v >> 8)
	dst[3] = byte(v)
}

// Decode unmarshals a frame body into a concrete payload type. Kept as a
// thin generic wrapper so handlers don't repeat the same json.Unmarshal
// error-wrapping boilerplate for every message type.
func Decode[T any](body []byte) (T, error) {
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return v, fmt.Errorf("protocol: unmarshal body: %w", err)
	}
	return v, nil
}
