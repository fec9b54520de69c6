package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/ocrcascade/internal/engine"
)

// DefaultWorkers is the default size of the engine worker pool.
const DefaultWorkers = 3

// Pool runs engine invocations on a fixed set of worker goroutines. Work is
// awaited with explicit timeouts; a timed out task keeps running on its
// worker until it returns.
type Pool struct {
	jobs    chan func()
	quit    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	workers int
}

// NewPool starts a pool with the given number of workers (0 = DefaultWorkers).
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	p := &Pool{
		jobs:    make(chan func(), workers*4),
		quit:    make(chan struct{}),
		workers: workers,
	}
	for range workers {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int { return p.workers }

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case job := <-p.jobs:
			job()
		case <-p.quit:
			return
		}
	}
}

// Close stops the workers after their current task. Queued tasks that were
// not picked up resolve with engine.ErrSkipped.
func (p *Pool) Close() {
	p.once.Do(func() {
		close(p.quit)
		p.wg.Wait()
		for {
			select {
			case job := <-p.jobs:
				job()
			default:
				return
			}
		}
	})
}

// Future is the pending result of a task submitted to a Pool.
type Future[T any] struct {
	ctx      context.Context
	done     chan struct{}
	value    T
	err      error
	started  atomic.Bool
	runtime  time.Duration
	resolved atomic.Bool
}

func newFuture[T any](ctx context.Context) *Future[T] {
	return &Future[T]{ctx: ctx, done: make(chan struct{})}
}

func (f *Future[T]) resolve(value T, err error, runtime time.Duration) {
	if !f.resolved.CompareAndSwap(false, true) {
		return
	}
	f.value, f.err, f.runtime = value, err, runtime
	close(f.done)
}

// Done is closed once the task has finished or was skipped.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Started reports whether a worker has begun running the task.
func (f *Future[T]) Started() bool { return f.started.Load() }

// Runtime returns how long the task ran. It is zero until Done is closed.
func (f *Future[T]) Runtime() time.Duration {
	select {
	case <-f.done:
		return f.runtime
	default:
		return 0
	}
}

// Await waits up to timeout for the task. On expiry it returns
// engine.ErrEngineTimeout and leaves the task running. If the context the
// task was submitted with is cancelled first, Await returns engine.ErrSkipped
// wrapping the context error; the task is abandoned, not stopped.
func (f *Future[T]) Await(timeout time.Duration) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	default:
	}
	var zero T
	if timeout <= 0 {
		return zero, engine.ErrEngineTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-f.done:
		return f.value, f.err
	case <-timer.C:
		return zero, engine.ErrEngineTimeout
	case <-f.ctx.Done():
		return zero, fmt.Errorf("%w: %w", engine.ErrSkipped, f.ctx.Err())
	}
}

// AwaitUntil waits for the task until the given instant.
func (f *Future[T]) AwaitUntil(deadline time.Time) (T, error) {
	return f.Await(time.Until(deadline))
}

// Submit queues fn on the pool. The task resolves with engine.ErrSkipped if
// ctx is cancelled before a worker picks it up, and with
// engine.ErrEngineFailure if fn panics.
func Submit[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) *Future[T] {
	f := newFuture[T](ctx)
	var zero T
	job := func() {
		if err := ctx.Err(); err != nil {
			f.resolve(zero, fmt.Errorf("%w: %w", engine.ErrSkipped, err), 0)
			return
		}
		select {
		case <-p.quit:
			f.resolve(zero, fmt.Errorf("%w: pool closed", engine.ErrSkipped), 0)
			return
		default:
		}
		f.started.Store(true)
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("engine task panicked", "panic", r, "stack", string(debug.Stack()))
				f.resolve(zero, fmt.Errorf("%w: panic: %v", engine.ErrEngineFailure, r), time.Since(start))
			}
		}()
		value, err := fn(ctx)
		f.resolve(value, err, time.Since(start))
	}

	select {
	case <-p.quit:
		f.resolve(zero, fmt.Errorf("%w: pool closed", engine.ErrSkipped), 0)
		return f
	default:
	}
	select {
	case p.jobs <- job:
	case <-ctx.Done():
		f.resolve(zero, fmt.Errorf("%w: %w", engine.ErrSkipped, ctx.Err()), 0)
	case <-p.quit:
		f.resolve(zero, fmt.Errorf("%w: pool closed", engine.ErrSkipped), 0)
	}
	return f
}
