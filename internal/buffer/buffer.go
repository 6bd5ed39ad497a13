// Package buffer implements the growable byte buffer used by every
// connection's input and output path and by the framed codec for
// serialization. One Buffer belongs to exactly one connection; nothing in
// this package is safe for concurrent use, matching the reactor's rule
// that connection state is confined to its owning loop goroutine.
package buffer

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// prependSize is the amount of headroom reserved at the front of the
// buffer so that a caller can cheaply prepend a fixed-size header (the
// 12-byte frame header) without a second allocation.
const prependSize = 16

const initialSize = 1024

// Buffer is a growable byte container with a read index and a write
// index, plus cheap prepend headroom. append/retrieve/peek mirror the
// names used throughout the reactor core.
type Buffer struct {
	buf      []byte
	readIdx  int
	writeIdx int
}

// New returns an empty Buffer with default capacity.
func New() *Buffer {
	return &Buffer{
		buf:      make([]byte, initialSize+prependSize),
		readIdx:  prependSize,
		writeIdx: prependSize,
	}
}

// ReadableBytes returns the number of bytes available to read.
func (b *Buffer) ReadableBytes() int { return b.writeIdx - b.readIdx }

// WritableBytes returns the number of bytes that can be appended without
// growing the underlying slice.
func (b *Buffer) WritableBytes() int { return len(b.buf) - b.writeIdx }

// PrependableBytes returns the headroom available before the read index.
func (b *Buffer) PrependableBytes() int { return b.readIdx }

// Peek returns a slice view of the readable region without consuming it.
// The slice aliases the buffer and is only valid until the next mutating
// call.
func (b *Buffer) Peek() []byte { return b.buf[b.readIdx:b.writeIdx] }

// Retrieve advances the read index by n. If that consumes all readable
// bytes, both indices are reset to the prepend boundary so future writes
// reuse the front of the buffer instead of growing it.
func (b *Buffer) Retrieve(n int) {
	if n >= b.ReadableBytes() {
		b.readIdx = prependSize
		b.writeIdx = prependSize
		return
	}
	b.readIdx += n
}

// RetrieveAllString drains and returns the entire readable region as a
// string, for tests and logging.
func (b *Buffer) RetrieveAllString() string {
	s := string(b.Peek())
	b.Retrieve(b.ReadableBytes())
	return s
}

// Append copies data into the buffer, growing or compacting as needed.
func (b *Buffer) Append(data []byte) {
	b.ensureWritable(len(data))
	b.writeIdx += copy(b.buf[b.writeIdx:], data)
}

// AppendInt32 appends a big-endian int32.
func (b *Buffer) AppendInt32(v int32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(v))
	b.Append(tmp[:])
}

// AppendInt16 appends a big-endian int16.
func (b *Buffer) AppendInt16(v int16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], uint16(v))
	b.Append(tmp[:])
}

// AppendInt64 appends a big-endian int64.
func (b *Buffer) AppendInt64(v int64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(v))
	b.Append(tmp[:])
}

// PeekInt32 reads a big-endian int32 at the read index without advancing.
func (b *Buffer) PeekInt32() int32 {
	return int32(binary.BigEndian.Uint32(b.buf[b.readIdx:]))
}

// PeekInt32At reads a big-endian int32 at an offset from the read index
// without advancing, used by the codec to read the type/seq fields that
// follow bodyLen in the 12-byte header.
func (b *Buffer) PeekInt32At(offset int) int32 {
	return int32(binary.BigEndian.Uint32(b.buf[b.readIdx+offset:]))
}

// ensureWritable grows the buffer if necessary. If the readable bytes
// plus the existing free space in front (prepend + already-consumed
// reads) can hold the new data, the buffer compacts in place instead of
// allocating.
func (b *Buffer) ensureWritable(n int) {
	if b.WritableBytes() >= n {
		return
	}
	if b.PrependableBytes()+b.WritableBytes() >= n+prependSize {
		b.compact()
		return
	}
	b.grow(n)
}

func (b *Buffer) compact() {
	readable := b.ReadableBytes()
	copy(b.buf[prependSize:], b.buf[b.readIdx:b.writeIdx])
	b.readIdx = prependSize
	b.writeIdx = prependSize + readable
}

func (b *Buffer) grow(n int) {
	readable := b.ReadableBytes()
	newCap := len(b.buf)
	need := readable + n + prependSize
	for newCap < need {
		newCap *= 2
	}
	nb := make([]byte, newCap)
	copy(nb[prependSize:], b.buf[b.readIdx:b.writeIdx])
	b.buf = nb
	b.readIdx = prependSize
	b.writeIdx = prependSize + readable
}

// readChunkSize is how much writable space ReadFd guarantees before each
// unix.Read, matching the chunk size the reactor's connection handling
// used to stage reads through before they read straight into the buffer.
const readChunkSize = 65536

// ReadFd reads once from fd straight into the buffer's writable tail,
// growing it first if needed, and advances the write index by whatever
// was read. It returns unix.Read's (n, err) unchanged, including EAGAIN,
// so a caller can loop on it until the fd is drained — the same
// single-read primitive Acceptor.handleAccept's accept4 loop and
// Connection.handleRead's read loop are each built around.
func (b *Buffer) ReadFd(fd int) (int, error) {
	b.ensureWritable(readChunkSize)
	n, err := unix.Read(fd, b.buf[b.writeIdx:])
	if n > 0 {
		b.writeIdx += n
	}
	return n, err
}

// Prepend writes data directly in front of the current readable region,
// consuming prepend headroom, e.g. to backfill a length header after the
// body has already been appended. Panics if there is
// insufficient headroom — callers must reserve it up front.
func (b *Buffer) Prepend(data []byte) {
	if len(data) > b.PrependableBytes() {
		panic("buffer: not enough prependable space")
	}
	b.readIdx -= len(data)
	copy(b.buf[b.readIdx:], data)
}
