package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// ErrPoolClosed is returned for work submitted after Shutdown
var ErrPoolClosed = &PoolError{msg: "pool closed"}

// ErrQueueFull is returned when the task queue has no room
var ErrQueueFull = &PoolError{msg: "queue full"}

// ErrShutdownTimeout is returned when workers outlive the shutdown grace period
var ErrShutdownTimeout = &PoolError{msg: "shutdown grace period exceeded"}

// PoolError represents a pool error
type PoolError struct {
	msg string
}

func (e *PoolError) Error() string {
	return e.msg
}

// PanicError carries a panic recovered from a task
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// PoolStats tracks task counts
type PoolStats struct {
	Submitted int64
	Completed int64
	Failed    int64
	Rejected  int64
}

// Pool runs tasks on a fixed number of workers
type Pool struct {
	workers int
	tasks   chan func()
	quit    chan struct{}
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  atomic.Bool
	stats   PoolStats
}

// NewPool starts workers goroutines sharing a queue of queueSize tasks
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers * 4
	}

	p := &Pool{
		workers: workers,
		tasks:   make(chan func(), queueSize),
		quit:    make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
}

// Workers returns the fixed worker count
func (p *Pool) Workers() int {
	return p.workers
}

// Stats returns a snapshot of the task counters
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Submitted: atomic.LoadInt64(&p.stats.Submitted),
		Completed: atomic.LoadInt64(&p.stats.Completed),
		Failed:    atomic.LoadInt64(&p.stats.Failed),
		Rejected:  atomic.LoadInt64(&p.stats.Rejected),
	}
}

func (p *Pool) enqueue(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed.Load() {
		atomic.AddInt64(&p.stats.Rejected, 1)
		return ErrPoolClosed
	}
	select {
	case p.tasks <- task:
		atomic.AddInt64(&p.stats.Submitted, 1)
		return nil
	default:
		atomic.AddInt64(&p.stats.Rejected, 1)
		return ErrQueueFull
	}
}

// enqueueWait blocks until the queue has room, the pool is shut down or ctx is done
func (p *Pool) enqueueWait(ctx context.Context, task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed.Load() {
		atomic.AddInt64(&p.stats.Rejected, 1)
		return ErrPoolClosed
	}
	select {
	case p.tasks <- task:
		atomic.AddInt64(&p.stats.Submitted, 1)
		return nil
	case <-p.quit:
		atomic.AddInt64(&p.stats.Rejected, 1)
		return ErrPoolClosed
	case <-ctx.Done():
		atomic.AddInt64(&p.stats.Rejected, 1)
		return ctx.Err()
	}
}

// Shutdown stops accepting work and waits up to grace for queued and running
// tasks to finish. A non-positive grace waits indefinitely.
func (p *Pool) Shutdown(grace time.Duration) error {
	if p.closed.Swap(true) {
		return ErrPoolClosed
	}
	// wake senders blocked in enqueueWait so they release the read lock
	close(p.quit)
	p.mu.Lock()
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	if grace <= 0 {
		<-done
		return nil
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrShutdownTimeout
	}
}

// Submit runs fn on the pool and returns its future. A panic in fn resolves
// the future with a *PanicError. A full queue resolves it with ErrQueueFull.
func Submit[R any](p *Pool, fn func() (R, error)) *Future[R] {
	return submit(p, p.enqueue, fn)
}

// SubmitWait is Submit, but waits for room in the queue instead of failing
// with ErrQueueFull. It gives up when the pool shuts down or ctx is done.
func SubmitWait[R any](ctx context.Context, p *Pool, fn func() (R, error)) *Future[R] {
	return submit(p, func(task func()) error { return p.enqueueWait(ctx, task) }, fn)
}

func submit[R any](p *Pool, enqueue func(func()) error, fn func() (R, error)) *Future[R] {
	f, complete := NewPromise[R]()

	err := enqueue(func() {
		var (
			result R
			err    error
		)
		defer func() {
			if r := recover(); r != nil {
				var zero R
				result, err = zero, &PanicError{Value: r, Stack: debug.Stack()}
			}
			if err != nil {
				atomic.AddInt64(&p.stats.Failed, 1)
			}
			atomic.AddInt64(&p.stats.Completed, 1)
			complete(result, err)
		}()
		result, err = fn()
	})
	if err != nil {
		var zero R
		complete(zero, err)
	}
	return f
}

// Future represents a result that becomes available later
type Future[R any] struct {
	result R
	err    error
	done   chan struct{}
	once   sync.Once
}

// NewPromise returns an unresolved future and the function that resolves it.
// Only the first call to complete has an effect.
func NewPromise[R any]() (*Future[R], func(R, error)) {
	f := &Future[R]{done: make(chan struct{})}
	return f, func(result R, err error) {
		f.once.Do(func() {
			f.result = result
			f.err = err
			close(f.done)
		})
	}
}

// Get waits for the result or for ctx to be done
func (f *Future[R]) Get(ctx context.Context) (R, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// Done returns a channel closed once the result is available
func (f *Future[R]) Done() <-chan struct{} {
	return f.done
}

// IsReady reports whether the result is available
func (f *Future[R]) IsReady() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
