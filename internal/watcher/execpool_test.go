package watcher

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestExecPoolRunsSubmittedTasks(t *testing.T) {
	pool := &ExecPool{Workers: 2, Queue: 4}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ran := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		pool.Submit(func(context.Context) {
			defer wg.Done()
			mu.Lock()
			ran++
			mu.Unlock()
		})
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks did not complete")
	}
	mu.Lock()
	defer mu.Unlock()
	if ran != 8 {
		t.Fatalf("ran = %d, want 8", ran)
	}
}

func TestExecPoolOverflowStillExecutes(t *testing.T) {
	// No workers running: every submit overflows into a detached goroutine.
	pool := &ExecPool{Workers: 1, Queue: 1}

	var wg sync.WaitGroup
	wg.Add(3)
	for i := 0; i < 3; i++ {
		pool.Submit(func(context.Context) { wg.Done() })
	}
	// The first task sits in the queue; drain it by running the pool.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("overflow tasks did not run")
	}
}
