package regionio

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
)

// Task is one unit of region work.
type Task func(ctx context.Context)

// Queue error definitions
var (
	ErrPoolClosed = &QueueError{Code: "POOL_CLOSED", Message: "worker pool has been closed"}
	ErrQueueFull  = &QueueError{Code: "QUEUE_FULL", Message: "worker queue is full"}
)

// QueueError represents an error in queue operations.
type QueueError struct {
	Code    string
	Message string
}

func (qe *QueueError) Error() string {
	return qe.Message
}

// Pool is a fixed set of workers draining a bounded task queue. Submit
// never blocks; SubmitWait waits for queue space.
type Pool struct {
	workers int
	tasks   chan Task
	// mu orders sends against Close.
	mu     sync.RWMutex
	closed bool

	workerWg sync.WaitGroup
	cancel   context.CancelFunc

	submitted atomic.Int64
	rejected  atomic.Int64
	running   atomic.Int64
	done      atomic.Int64
}

// NewPool creates a pool. workers <= 0 uses runtime.GOMAXPROCS(0).
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if queueSize <= 0 {
		queueSize = workers * 4
	}
	return &Pool{
		workers: workers,
		tasks:   make(chan Task, queueSize),
	}
}

// Start launches the workers. Tasks receive a context derived from ctx
// that is cancelled by Stop.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.workerWg.Add(1)
		go p.worker(ctx)
	}
}

func (p *Pool) worker(ctx context.Context) {
	defer p.workerWg.Done()
	for task := range p.tasks {
		p.running.Add(1)
		task(ctx)
		p.running.Add(-1)
		p.done.Add(1)
	}
}

// Submit queues task or fails with ErrQueueFull or ErrPoolClosed.
func (p *Pool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.rejected.Add(1)
		return ErrPoolClosed
	}
	select {
	case p.tasks <- task:
		p.submitted.Add(1)
		return nil
	default:
		p.rejected.Add(1)
		return ErrQueueFull
	}
}

// SubmitWait queues task, waiting for space until ctx is done.
func (p *Pool) SubmitWait(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.rejected.Add(1)
		return ErrPoolClosed
	}
	select {
	case p.tasks <- task:
		p.submitted.Add(1)
		return nil
	case <-ctx.Done():
		p.rejected.Add(1)
		return ctx.Err()
	}
}

// Close stops accepting tasks, lets the workers finish everything already
// queued and waits for them.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()
	p.workerWg.Wait()
	if p.cancel != nil {
		p.cancel()
	}
}

// Stop cancels the task context and then closes the pool.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.Close()
}

// PoolStats provides queue health and capacity information.
type PoolStats struct {
	Workers   int   `json:"workers"`
	Queued    int   `json:"queued"`
	Capacity  int   `json:"capacity"`
	Running   int64 `json:"running"`
	Submitted int64 `json:"submitted"`
	Rejected  int64 `json:"rejected"`
	Done      int64 `json:"done"`
	Closed    bool  `json:"closed"`
}

// Stats returns current pool statistics.
func (p *Pool) Stats() PoolStats {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	return PoolStats{
		Workers:   p.workers,
		Queued:    len(p.tasks),
		Capacity:  cap(p.tasks),
		Running:   p.running.Load(),
		Submitted: p.submitted.Load(),
		Rejected:  p.rejected.Load(),
		Done:      p.done.Load(),
		Closed:    closed,
	}
}
