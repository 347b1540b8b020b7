package crawler

import (
	"context"
	"errors"
	"sync"
)

type job func(ctx context.Context)

// WorkerPool runs request handlers with bounded concurrency and a bounded
// queue.
type WorkerPool struct {
	ctx    context.Context
	cancel context.CancelFunc
	jobs   chan job
	wg     sync.WaitGroup
}

// NewWorkerPool creates a pool with the given concurrency and queue size.
func NewWorkerPool(parent context.Context, concurrency, queueSize int) (*WorkerPool, error) {
	if concurrency <= 0 || queueSize <= 0 {
		return nil, errors.New("worker pool requires positive concurrency and queue size")
	}
	ctx, cancel := context.WithCancel(parent)
	pool := &WorkerPool{
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(chan job, queueSize),
	}
	for i := 0; i < concurrency; i++ {
		pool.wg.Add(1)
		go pool.worker()
	}
	return pool, nil
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			// Queued jobs still run, with the cancelled context, so their
			// waiters are released. Handlers bail out on ctx.Err().
			for fn := range p.jobs {
				fn(p.ctx)
			}
			return
		case fn, ok := <-p.jobs:
			if !ok {
				return
			}
			fn(p.ctx)
		}
	}
}

// ErrQueueFull reports that the job queue has no room. Handlers submit
// follow-up requests from inside workers, so blocking on a full queue could
// deadlock the pool; callers are expected to run the overflow job inline.
var ErrQueueFull = errors.New("worker queue full")

// TrySubmit schedules a job without blocking, rejecting when the pool is
// shutting down or the queue is full.
func (p *WorkerPool) TrySubmit(fn job) error {
	if err := p.ctx.Err(); err != nil {
		return err
	}
	select {
	case p.jobs <- fn:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops all workers. Queued jobs that have not started are discarded.
func (p *WorkerPool) Close() {
	p.cancel()
	close(p.jobs)
	p.wg.Wait()
}
