package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrPoolClosed is returned by Submit once the pool is closed.
var ErrPoolClosed = errors.New("dispatch: worker pool closed")

const (
	DefaultWorkers = 16
	DefaultBacklog = 1024
)

// Job is one unit of work run by a pool worker.
type Job func(ctx context.Context)

// Pool is a fixed set of workers fed by a bounded backlog.
type Pool struct {
	size int
	jobs chan Job
	done chan struct{}
	once sync.Once
}

// NewPool creates a pool of size workers. Non-positive arguments use the defaults.
func NewPool(size, backlog int) *Pool {
	if size <= 0 {
		size = DefaultWorkers
	}
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	return &Pool{
		size: size,
		jobs: make(chan Job, backlog),
		done: make(chan struct{}),
	}
}

// Run starts the workers and blocks until ctx is done or Close is called.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.size; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-p.done:
					return nil
				case job := <-p.jobs:
					p.exec(gctx, job)
				}
			}
		})
	}
	return g.Wait()
}

// Submit queues job, blocking while the backlog is full.
func (p *Pool) Submit(job Job) error {
	select {
	case <-p.done:
		return ErrPoolClosed
	default:
	}
	select {
	case p.jobs <- job:
		return nil
	case <-p.done:
		return ErrPoolClosed
	}
}

// Close stops the workers. Queued jobs that were not started are dropped.
func (p *Pool) Close() {
	p.once.Do(func() { close(p.done) })
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.size }

func (p *Pool) exec(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("dispatch: worker panic", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	job(ctx)
}
