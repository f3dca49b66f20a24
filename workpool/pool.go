// Package workpool runs submitted tasks on a fixed set of worker goroutines.
package workpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Submit once the pool has been shut down.
var ErrClosed = errors.New("worker pool is shut down")

// Task is a unit of work. The context is cancelled when the pool shuts
// down; long running tasks should return promptly when it is.
type Task func(ctx context.Context) error

// Stats is a point in time view of a pool.
type Stats struct {
	Workers   int
	Queued    int
	Active    int
	Completed int64
	Failed    int64
}

// Pool is a fixed size worker pool with an unbounded FIFO queue.
type Pool struct {
	size int
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Task
	closed bool

	active    atomic.Int32
	completed atomic.Int64
	failed    atomic.Int64

	wg sync.WaitGroup
}

// New starts a pool with size workers. A size below one is treated as one.
func New(size int, log *slog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		size:   size,
		log:    log.With("component", "workpool"),
		ctx:    ctx,
		cancel: cancel,
	}
	p.cond = sync.NewCond(&p.mu)
	for i := range size {
		p.wg.Go(func() { p.worker(i) })
	}
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.size }

// Submit queues task for execution.
func (p *Pool) Submit(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.queue = append(p.queue, task)
	p.cond.Signal()
	return nil
}

// Shutdown stops accepting tasks and cancels the context passed to tasks.
// Tasks already queued still run, with a cancelled context. Shutdown does
// not wait; use Wait for that.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.cancel()
	p.log.Debug("worker pool shutting down")
}

// Wait blocks until every worker has exited. It only returns after
// Shutdown.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Closed reports whether Shutdown has been called.
func (p *Pool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	queued := len(p.queue)
	p.mu.Unlock()
	return Stats{
		Workers:   p.size,
		Queued:    queued,
		Active:    int(p.active.Load()),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}

// next blocks for the next task. It returns nil when the pool is shut down
// and the queue is drained.
func (p *Pool) next() Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) == 0 && !p.closed {
		p.cond.Wait()
	}
	if len(p.queue) == 0 {
		return nil
	}
	t := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	return t
}

func (p *Pool) worker(id int) {
	for {
		task := p.next()
		if task == nil {
			return
		}
		p.active.Add(1)
		err := p.run(task)
		p.active.Add(-1)
		if err != nil {
			p.failed.Add(1)
			p.log.Warn("task failed", "worker", id, "error", err)
			continue
		}
		p.completed.Add(1)
	}
}

// run executes task, converting a panic into an error.
func (p *Pool) run(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
			p.log.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	return task(p.ctx)
}
