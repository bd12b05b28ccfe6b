package worker

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("worker: pool closed")

// Pool runs jobs on a fixed number of goroutines fed by a bounded queue.
type Pool[J any] struct {
	jobs   chan J
	handle func(context.Context, J)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// done is closed by Shutdown and releases blocked submitters. jobs is
	// closed only after every submitter has left.
	done      chan struct{}
	senders   sync.WaitGroup
	closeJobs sync.Once

	mu     sync.RWMutex
	closed bool
}

// NewPool starts workers goroutines immediately. Each job is passed the
// pool's context, which is cancelled only when Shutdown gives up waiting.
func NewPool[J any](workers, queueSize int, handle func(context.Context, J)) *Pool[J] {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool[J]{
		jobs:   make(chan J, queueSize),
		handle: handle,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.run()
	}
	return p
}

func (p *Pool[J]) run() {
	defer p.wg.Done()
	for job := range p.jobs {
		// Abandoned: drain the queue without running anything.
		if p.ctx.Err() != nil {
			continue
		}
		p.handle(p.ctx, job)
	}
}

// Submit queues a job. It waits for queue space until ctx is done or the
// pool shuts down.
func (p *Pool[J]) Submit(ctx context.Context, job J) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrClosed
	}
	p.senders.Add(1)
	p.mu.RUnlock()
	defer p.senders.Done()

	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrClosed
	}
}

// Shutdown stops accepting jobs and waits for queued and running ones to
// finish. If ctx ends first, running jobs see their context cancelled, the
// rest of the queue is dropped and ctx.Err() is returned.
func (p *Pool[J]) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	p.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		p.senders.Wait()
		p.closeJobs.Do(func() { close(p.jobs) })
		p.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}
