//go:build linux

package reactor

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// newWakeupFD creates a non-blocking eventfd used to pull a Loop out of
// epoll_wait when another goroutine has queued work for it. This is the
// Go equivalent of the self-pipe/eventfd trick every reactor core in the
// pack's ecosystem relies on; the fd is registered edge-triggered like
// every other fd, and each write of a single uint64 makes it readable
// again, which is enough to wake the loop.
func newWakeupFD() (int, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return -1, fmt.Errorf("eventfd: %w", err)
	}
	return fd, nil
}

func wakeupWrite(fd int) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(fd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return fmt.Errorf("eventfd write: %w", err)
	}
	return nil
}

func wakeupDrain(fd int) error {
	var buf [8]byte
	_, err := unix.Read(fd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return fmt.Errorf("eventfd read: %w", err)
	}
	return nil
}
