package engine

import (
	"context"
	"sync"
	"time"

	"github.com/gyaneshwarpardhi/quakerisk/internal/metrics"
)

// workerPool is a fixed-size goroutine pool with a bounded input queue.
type workerPool[T any] struct {
	name    string
	queue   chan T
	process func(ctx context.Context, t T) error
	timeout time.Duration
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// newWorkerPool creates and starts a pool with n goroutines and queue capacity cap.
// Each job runs under its own timeout derived from ctx.
func newWorkerPool[T any](ctx context.Context, name string, n, cap int, timeout time.Duration, fn func(context.Context, T) error) *workerPool[T] {
	p := &workerPool[T]{
		name:    name,
		queue:   make(chan T, cap),
		process: fn,
		timeout: timeout,
	}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(ctx)
		}()
	}
	return p
}

func (p *workerPool[T]) run(ctx context.Context) {
	for {
		select {
		case t, ok := <-p.queue:
			if !ok {
				return
			}
			p.runOne(ctx, t)
		case <-ctx.Done():
			return
		}
	}
}

func (p *workerPool[T]) runOne(ctx context.Context, t T) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	_ = p.process(ctx, t)
}

// Submit enqueues a job without blocking (returns false if full or drained).
func (p *workerPool[T]) Submit(t T) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		metrics.TasksDropped.WithLabelValues(p.name).Inc()
		return false
	}
	select {
	case p.queue <- t:
		return true
	default:
		metrics.TasksDropped.WithLabelValues(p.name).Inc()
		return false
	}
}

// Drain closes the queue and waits for all workers to finish. Safe to call twice.
func (p *workerPool[T]) Drain() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// QueueLen returns how many jobs are currently queued.
func (p *workerPool[T]) QueueLen() int {
	return len(p.queue)
}

// QueueCap returns the total queue capacity.
func (p *workerPool[T]) QueueCap() int {
	return cap(p.queue)
}
