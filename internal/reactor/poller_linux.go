//go:build linux

package reactor

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// poller wraps a Linux epoll instance in edge-triggered mode, the
// multiplexer a Loop polls for readiness. golang.org/x/sys/unix is the
// pack's established precedent for fd-level syscalls (see
// bureau-foundation-bureau/observe/relay.go's ioctl use); no repo in the
// pack wraps epoll directly, so this is new code grounded on that
// precedent for the style of syscall error handling, not on a borrowed
// epoll wrapper.
type poller struct {
	epfd int
}

// pollEvent mirrors the subset of unix.EpollEvent fields a Channel cares
// about, decoupling the rest of the package from unix.EpollEvent's layout.
type pollEvent struct {
	fd     int32
	events uint32
}

const (
	readEvents  = unix.EPOLLIN | unix.EPOLLPRI | unix.EPOLLRDHUP
	writeEvents = unix.EPOLLOUT
	edgeTrigger = unix.EPOLLET
)

func newPoller() (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	return &poller{epfd: epfd}, nil
}

func (p *poller) add(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events | edgeTrigger, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl(ADD, %d): %w", fd, err)
	}
	return nil
}

func (p *poller) modify(fd int, events uint32) error {
	ev := unix.EpollEvent{Events: events | edgeTrigger, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl(MOD, %d): %w", fd, err)
	}
	return nil
}

func (p *poller) remove(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll_ctl(DEL, %d): %w", fd, err)
	}
	return nil
}

// wait blocks for ready events up to timeoutMs, writing results into
// out and returning the slice actually filled.
func (p *poller) wait(out []unix.EpollEvent, timeoutMs int) ([]unix.EpollEvent, error) {
	n, err := unix.EpollWait(p.epfd, out, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return out[:0], nil
		}
		return nil, fmt.Errorf("epoll_wait: %w", err)
	}
	return out[:n], nil
}

func (p *poller) close() error {
	return unix.Close(p.epfd)
}
