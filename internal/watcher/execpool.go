package watcher

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// ExecPool runs trade executions on a fixed set of workers so a burst of
// triggered orders cannot spawn an unbounded number of in-flight swaps.
type ExecPool struct {
	Workers int
	Queue   int
	Logger  *zap.Logger

	once  sync.Once
	tasks chan func(context.Context)
}

func (p *ExecPool) init() {
	p.once.Do(func() {
		workers := p.Workers
		if workers <= 0 {
			workers = 4
		}
		p.Workers = workers
		queue := p.Queue
		if queue <= 0 {
			queue = 16
		}
		p.tasks = make(chan func(context.Context), queue)
	})
}

// Run blocks until ctx is cancelled. Tasks still queued at shutdown are
// dropped; the orders behind them were already marked inactive and will be
// reloaded from storage on the next start.
func (p *ExecPool) Run(ctx context.Context) {
	if p == nil {
		return
	}
	p.init()
	var wg sync.WaitGroup
	for i := 0; i < p.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case task := <-p.tasks:
					task(ctx)
				}
			}
		}()
	}
	wg.Wait()
}

// Submit enqueues a task without blocking the caller. When the queue is full
// the task runs on its own goroutine instead: a triggered order must execute,
// the bound only applies to the common case.
func (p *ExecPool) Submit(task func(context.Context)) {
	if p == nil || task == nil {
		return
	}
	p.init()
	select {
	case p.tasks <- task:
	default:
		if p.Logger != nil {
			p.Logger.Warn("execution queue full, running task detached")
		}
		go task(context.Background())
	}
}
