package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPool_ProcessesAndDrains(t *testing.T) {
	var done atomic.Int32
	p := newWorkerPool[int](context.Background(), "test", 2, 10, time.Second, func(ctx context.Context, n int) error {
		done.Add(int32(n))
		return nil
	})
	for i := 1; i <= 4; i++ {
		if !p.Submit(i) {
			t.Fatalf("Submit(%d) rejected", i)
		}
	}
	p.Drain()
	if got := done.Load(); got != 10 {
		t.Fatalf("processed sum = %d, want 10", got)
	}
	if p.Submit(5) {
		t.Error("Submit after Drain should be rejected")
	}
	p.Drain()
}

func TestWorkerPool_FullQueueRejects(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{}, 1)
	p := newWorkerPool[int](context.Background(), "test", 1, 1, 0, func(ctx context.Context, n int) error {
		started <- struct{}{}
		<-block
		return nil
	})
	if !p.Submit(1) {
		t.Fatal("first submit rejected")
	}
	<-started
	if !p.Submit(2) {
		t.Fatal("second submit should fill the queue")
	}
	if p.Submit(3) {
		t.Error("third submit should be rejected")
	}
	if p.QueueLen() != 1 || p.QueueCap() != 1 {
		t.Errorf("queue len/cap = %d/%d", p.QueueLen(), p.QueueCap())
	}
	close(block)
	p.Drain()
}

func TestWorkerPool_TaskTimeout(t *testing.T) {
	errs := make(chan error, 1)
	p := newWorkerPool[int](context.Background(), "test", 1, 1, 10*time.Millisecond, func(ctx context.Context, n int) error {
		<-ctx.Done()
		errs <- ctx.Err()
		return ctx.Err()
	})
	p.Submit(1)
	select {
	case err := <-errs:
		if err != context.DeadlineExceeded {
			t.Errorf("err = %v, want deadline exceeded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task never timed out")
	}
	p.Drain()
}
