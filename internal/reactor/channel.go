package reactor

import "golang.org/x/sys/unix"

// Channel binds one file descriptor to the callbacks a Loop invokes when
// that fd becomes ready. It never owns the fd's lifecycle; Connection and
// Acceptor close the underlying fd themselves and call RemoveFromLoop
// first.
type Channel struct {
	loop   *Loop
	fd     int
	events uint32

	readCallback  func()
	writeCallback func()
	closeCallback func()
	errorCallback func()

	registered bool
}

// NewChannel creates a Channel for fd on loop. The caller still must call
// EnableReading/EnableWriting to register interest with the poller.
func NewChannel(loop *Loop, fd int) *Channel {
	return &Channel{loop: loop, fd: fd}
}

func (c *Channel) Fd() int { return c.fd }

func (c *Channel) SetReadCallback(fn func())  { c.readCallback = fn }
func (c *Channel) SetWriteCallback(fn func()) { c.writeCallback = fn }
func (c *Channel) SetCloseCallback(fn func())  { c.closeCallback = fn }
func (c *Channel) SetErrorCallback(fn func())  { c.errorCallback = fn }

func (c *Channel) IsWriting() bool { return c.events&writeEvents != 0 }

// EnableReading registers (or re-registers) interest in read events.
func (c *Channel) EnableReading() {
	c.events |= readEvents
	c.update()
}

func (c *Channel) EnableWriting() {
	c.events |= writeEvents
	c.update()
}

func (c *Channel) DisableWriting() {
	c.events &^= writeEvents
	c.update()
}

// DisableAll removes all event interest but leaves the Channel registered
// with the poller's bookkeeping map until RemoveFromLoop is called.
func (c *Channel) DisableAll() {
	c.events = 0
	c.update()
}

func (c *Channel) IsNoneEvent() bool { return c.events == 0 }

func (c *Channel) update() {
	c.loop.updateChannel(c)
}

// RemoveFromLoop unregisters the Channel from its Loop entirely. Callers
// must call DisableAll (or never have enabled anything) first.
func (c *Channel) RemoveFromLoop() {
	c.loop.removeChannel(c)
}

// HandleEvent dispatches one poller notification to the registered
// callbacks. The checks are independent, not a mutually exclusive
// switch: a HUP without IN means the peer closed with nothing left to
// read, so close fires with no read attempt; when IN/PRI is set, the
// read callback runs before the RDHUP check, so whatever the peer sent
// before shutting down its write side is drained rather than dropped;
// RDHUP (the peer shut down its write side, or closed outright) then
// fires close whether or not IN was set; OUT and ERR fire independently
// of the others.
func (c *Channel) HandleEvent(revents uint32) {
	if revents&unix.EPOLLHUP != 0 && revents&unix.EPOLLIN == 0 {
		if c.closeCallback != nil {
			c.closeCallback()
		}
	}
	if revents&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		if c.readCallback != nil {
			c.readCallback()
		}
	}
	if revents&unix.EPOLLRDHUP != 0 {
		if c.closeCallback != nil {
			c.closeCallback()
		}
	}
	if revents&unix.EPOLLOUT != 0 {
		if c.writeCallback != nil {
			c.writeCallback()
		}
	}
	if revents&unix.EPOLLERR != 0 {
		if c.errorCallback != nil {
			c.errorCallback()
		}
	}
}
