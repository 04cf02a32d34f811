package worker

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrQueueFull is returned by Submit when the job queue has no free slot.
	ErrQueueFull = errors.New("worker queue full")
	// ErrPoolClosed is returned by Submit after Close or Shutdown.
	ErrPoolClosed = errors.New("worker pool closed")
)

// Job represents a unit of work to be executed
type Job interface {
	Execute(ctx context.Context) Result
}

// Result represents the result of a job execution
type Result interface {
	GetError() error
}

// Pool runs submitted jobs on a fixed set of workers in FIFO order.
// Submit never blocks; results are handed to the handler on the worker goroutine.
type Pool struct {
	workers    int
	jobQueue   chan Job
	handler    func(Result)
	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewPool creates a new worker pool with the specified number of workers
func NewPool(workers, queueSize int, handler func(Result)) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers * 2
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		workers:    workers,
		jobQueue:   make(chan Job, queueSize),
		handler:    handler,
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// Start starts the worker pool
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobQueue:
			if !ok {
				return
			}
			result := job.Execute(p.ctx)
			if p.handler != nil && result != nil {
				p.handler(result)
			}
		}
	}
}

// Submit enqueues a job without waiting for a free slot.
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.jobQueue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending reports the number of queued jobs not yet picked up by a worker.
func (p *Pool) Pending() int {
	return len(p.jobQueue)
}

// Close stops accepting jobs and waits until every queued job has run.
func (p *Pool) Close() {
	p.closeQueue()
	p.wg.Wait()
	p.cancelFunc()
}

// Shutdown stops the workers immediately; queued jobs are dropped.
func (p *Pool) Shutdown() {
	p.cancelFunc()
	p.closeQueue()
	p.wg.Wait()
}

func (p *Pool) closeQueue() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.jobQueue)
		p.mu.Unlock()
	})
}
