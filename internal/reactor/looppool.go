package reactor

import (
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/sync/errgroup"
)

// LoopPool owns a fixed set of I/O loops and hands new connections to
// them round-robin. The Acceptor's own loop is never one of the pool's
// loops — with zero subloops, GetNext falls back to the base loop, so a
// single-threaded configuration (threads_num.io = 0) still works.
// golang.org/x/sync/errgroup supervises the subloop goroutines' lifecycle,
// the same tool WorkerPool uses for its own worker goroutines, so Quit
// can actually join them instead of firing and forgetting.
type LoopPool struct {
	base  *Loop
	loops []*Loop
	next  int
	group *errgroup.Group
}

// NewLoopPool creates n additional I/O loops sharing the given base
// loop's logger lineage. Call Start to launch each one on its own
// goroutine.
func NewLoopPool(base *Loop, n int, log *slog.Logger) (*LoopPool, error) {
	p := &LoopPool{base: base, group: &errgroup.Group{}}
	for i := 0; i < n; i++ {
		l, err := NewLoop("io-"+strconv.Itoa(i), log)
		if err != nil {
			return nil, fmt.Errorf("reactor: loop pool: %w", err)
		}
		p.loops = append(p.loops, l)
	}
	return p, nil
}

// Start launches every subloop on its own goroutine. It does not start
// the base loop, which the caller runs itself on a goroutine of its own.
func (p *LoopPool) Start() {
	for _, l := range p.loops {
		l := l
		p.group.Go(func() error {
			l.Run()
			return nil
		})
	}
}

// GetNext returns the next loop to hand a new connection to, round
// robin across the pool, or the base loop when the pool has none.
func (p *LoopPool) GetNext() *Loop {
	if len(p.loops) == 0 {
		return p.base
	}
	l := p.loops[p.next]
	p.next = (p.next + 1) % len(p.loops)
	return l
}

// All returns every loop in the pool, excluding the base loop, for
// callers that need to register a TickFunc on each.
func (p *LoopPool) All() []*Loop {
	return p.loops
}

// Quit signals every subloop to stop and blocks until each one has
// actually exited Run. The base loop is the caller's responsibility.
func (p *LoopPool) Quit() {
	for _, l := range p.loops {
		l.Quit()
	}
	p.group.Wait()
}
