// Package reactor implements the server's networking core: one poller
// per OS thread, each driving a fixed set of connections, fed new
// sockets by a round-robin Acceptor. It is deliberately written at the
// level of epoll, eventfd and raw file descriptors rather than as a
// goroutine-per-connection server, because the scheduling properties the
// rest of the system depends on (thread-pinned loops, cross-thread task
// posting with an explicit wakeup, bounded per-loop connection sets) only
// exist if the event loop owns its own OS thread.
package reactor

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// maxPollWaitMs bounds a single epoll_wait call. A Loop with tick
// callbacks registered waits no longer than until its next tick is due,
// so the 1Hz ticks run even with no fd activity.
const maxPollWaitMs = 10_000

const maxPollEvents = 256

// TickFunc is invoked roughly once per second on the loop's own thread.
// Session timeout scanning and idle-connection eviction are registered
// this way rather than on a separate timer goroutine, so they never race
// with the connections they inspect.
type TickFunc func()

// Loop is a single-threaded event loop. All Channels registered with a
// Loop are only ever touched from that Loop's own goroutine once it is
// running; cross-thread callers must go through RunInLoop/QueueInLoop.
type Loop struct {
	name   string
	log    *slog.Logger
	poller *poller

	wakeupFD      int
	wakeupChannel *Channel

	mu             sync.Mutex
	pending        []func()
	callingPending bool

	channels map[int]*Channel

	threadID       atomic.Int32
	threadIDKnown  atomic.Bool
	quit           atomic.Bool

	tickMu   sync.Mutex
	tickFns  []TickFunc
	lastTick time.Time
}

// NewLoop constructs a Loop with its own epoll instance and wakeup fd.
// The returned Loop does not yet own an OS thread; call Run to start it
// (typically in its own goroutine).
func NewLoop(name string, log *slog.Logger) (*Loop, error) {
	p, err := newPoller()
	if err != nil {
		return nil, fmt.Errorf("reactor: new loop %s: %w", name, err)
	}
	wfd, err := newWakeupFD()
	if err != nil {
		p.close()
		return nil, fmt.Errorf("reactor: new loop %s: %w", name, err)
	}
	l := &Loop{
		name:     name,
		log:      log.With("loop", name),
		poller:   p,
		wakeupFD: wfd,
		channels: make(map[int]*Channel),
	}
	l.wakeupChannel = NewChannel(l, wfd)
	l.wakeupChannel.SetReadCallback(func() {
		wakeupDrain(l.wakeupFD)
	})
	l.wakeupChannel.EnableReading()
	return l, nil
}

// Name identifies the loop in logs and metrics.
func (l *Loop) Name() string { return l.name }

// OnTick registers fn to run roughly every second on the loop thread.
func (l *Loop) OnTick(fn TickFunc) {
	l.tickMu.Lock()
	l.tickFns = append(l.tickFns, fn)
	l.tickMu.Unlock()
}

// Run pins the calling goroutine to its OS thread and runs the poll loop
// until Quit is called. It must be invoked from a freshly spawned
// goroutine, since LockOSThread is permanent for the goroutine's
// lifetime.
func (l *Loop) Run() {
	runtime.LockOSThread()
	l.threadID.Store(int32(unix.Gettid()))
	l.threadIDKnown.Store(true)
	l.lastTick = time.Now()

	events := make([]unix.EpollEvent, maxPollEvents)
	for !l.quit.Load() {
		timeoutMs := maxPollWaitMs
		l.tickMu.Lock()
		hasTicks := len(l.tickFns) > 0
		l.tickMu.Unlock()
		if hasTicks {
			untilTick := time.Second - time.Since(l.lastTick)
			if untilTick < 0 {
				untilTick = 0
			}
			if ms := int(untilTick/time.Millisecond) + 1; ms < timeoutMs {
				timeoutMs = ms
			}
		}
		ready, err := l.poller.wait(events, timeoutMs)
		if err != nil {
			l.log.Error("poll failed", "err", err)
			continue
		}
		for _, ev := range ready {
			ch, ok := l.channels[int(ev.Fd)]
			if !ok {
				continue
			}
			l.safeHandleEvent(ch, ev.Events)
		}
		l.runTicksIfDue()
		l.doPendingFunctors()
	}
	l.cleanup()
}

// safeHandleEvent recovers from a panic in a single channel's callback
// so one bad connection handler can't take down the whole loop thread
// and every other connection pinned to it. Same shape as WorkerPool's
// safeRun.
func (l *Loop) safeHandleEvent(ch *Channel, revents uint32) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("channel event handler panicked", "fd", ch.fd, "recover", r)
		}
	}()
	ch.HandleEvent(revents)
}

func (l *Loop) runTicksIfDue() {
	now := time.Now()
	if now.Sub(l.lastTick) < time.Second {
		return
	}
	l.lastTick = now
	l.tickMu.Lock()
	fns := append([]TickFunc(nil), l.tickFns...)
	l.tickMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// IsInLoopThread reports whether the calling goroutine is the one
// running this Loop's Run method.
func (l *Loop) IsInLoopThread() bool {
	return l.threadIDKnown.Load() && int32(unix.Gettid()) == l.threadID.Load()
}

// RunInLoop executes fn immediately if called from the loop's own
// thread, or queues it for the next iteration otherwise.
func (l *Loop) RunInLoop(fn func()) {
	if l.IsInLoopThread() {
		fn()
		return
	}
	l.QueueInLoop(fn)
}

// QueueInLoop always defers fn to run on the loop thread, even when
// called from that same thread — used when a callback must not run
// reentrantly inside the current event handling pass.
func (l *Loop) QueueInLoop(fn func()) {
	l.mu.Lock()
	l.pending = append(l.pending, fn)
	calling := l.callingPending
	l.mu.Unlock()
	if !l.IsInLoopThread() || calling {
		l.wakeup()
	}
}

func (l *Loop) wakeup() {
	if err := wakeupWrite(l.wakeupFD); err != nil {
		l.log.Error("wakeup write failed", "err", err)
	}
}

// doPendingFunctors swaps the pending slice out before running it, so a
// functor that itself calls QueueInLoop is picked up on the next
// iteration rather than extending the current one indefinitely.
func (l *Loop) doPendingFunctors() {
	l.mu.Lock()
	functors := l.pending
	l.pending = nil
	l.callingPending = true
	l.mu.Unlock()

	for _, fn := range functors {
		l.safeRunFunctor(fn)
	}

	l.mu.Lock()
	l.callingPending = false
	l.mu.Unlock()
}

func (l *Loop) safeRunFunctor(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("queued functor panicked", "recover", r)
		}
	}()
	fn()
}

// Quit asks the loop to stop after its current iteration. Safe to call
// from any goroutine.
func (l *Loop) Quit() {
	l.quit.Store(true)
	if !l.IsInLoopThread() {
		l.wakeup()
	}
}

func (l *Loop) updateChannel(ch *Channel) {
	if ch.IsNoneEvent() {
		if _, ok := l.channels[ch.fd]; ok {
			l.poller.modify(ch.fd, 0)
		}
		return
	}
	if _, ok := l.channels[ch.fd]; ok {
		l.poller.modify(ch.fd, ch.events)
		return
	}
	l.channels[ch.fd] = ch
	if err := l.poller.add(ch.fd, ch.events); err != nil {
		l.log.Error("poller add failed", "fd", ch.fd, "err", err)
	}
}

func (l *Loop) removeChannel(ch *Channel) {
	if _, ok := l.channels[ch.fd]; !ok {
		return
	}
	delete(l.channels, ch.fd)
	l.poller.remove(ch.fd)
}

func (l *Loop) cleanup() {
	l.poller.close()
	unix.Close(l.wakeupFD)
}
