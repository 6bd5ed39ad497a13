package reactor

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// WorkerPool runs a bounded number of goroutines pulling from a single
// shared task queue, used to offload work that must not block an I/O
// loop — path planning is the one case in this server, since an A*
// search on a large map can take long enough to stall every connection
// sharing that loop. golang.org/x/sync/errgroup supervises the worker
// goroutines' lifecycle the same way it supervises the I/O loop pool,
// rather than hand-rolling a WaitGroup plus a separate error channel.
type WorkerPool struct {
	tasks  chan func()
	group  *errgroup.Group
	synced bool
	log    *slog.Logger
}

// NewWorkerPool starts n worker goroutines draining a queue of depth
// queueDepth. n <= 0 means "run tasks synchronously on the caller",
// matching the config's threads_num.worker = 0 meaning no offload.
func NewWorkerPool(ctx context.Context, n, queueDepth int, log *slog.Logger) *WorkerPool {
	if n <= 0 {
		return &WorkerPool{synced: true, log: log.With("component", "workerpool")}
	}
	p := &WorkerPool{
		tasks: make(chan func(), queueDepth),
		log:   log.With("component", "workerpool"),
	}
	g, gctx := errgroup.WithContext(ctx)
	p.group = g
	for i := 0; i < n; i++ {
		g.Go(func() error {
			p.run(gctx)
			return nil
		})
	}
	return p
}

func (p *WorkerPool) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.safeRun(task)
		}
	}
}

func (p *WorkerPool) safeRun(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("worker task panicked", "recover", r)
		}
	}()
	task()
}

// Submit enqueues a task, blocking if the queue is full. Callers posting
// from an I/O loop should never block here for long: queueDepth is sized
// so a burst of path requests queues rather than stalls the caller's
// loop for the full duration of an A* search. With zero workers
// configured, it runs task immediately instead.
func (p *WorkerPool) Submit(task func()) {
	if p.synced {
		p.safeRun(task)
		return
	}
	p.tasks <- task
}

// Close stops accepting new tasks and waits for in-flight ones to drain.
func (p *WorkerPool) Close() error {
	if p.synced {
		return nil
	}
	close(p.tasks)
	return p.group.Wait()
}
