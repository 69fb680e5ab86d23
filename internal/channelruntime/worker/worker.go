package worker

import (
	"context"
	"sync"
)

type StartOptions[J any] struct {
	Ctx context.Context
	// Workers is the number of loops reading Jobs. Values below 1 mean 1.
	Workers int
	// Sem optionally caps concurrent handlers across several pools.
	Sem    chan struct{}
	Jobs   <-chan J
	Handle func(context.Context, J)
}

// Start runs the worker loops and returns a function that blocks until they
// have all exited. Loops exit when Ctx is done or Jobs is closed.
func Start[J any](opts StartOptions[J]) (wait func()) {
	n := opts.Workers
	if n < 1 {
		n = 1
	}
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			loop(opts)
		}()
	}
	return wg.Wait
}

func loop[J any](opts StartOptions[J]) {
	for {
		select {
		case <-opts.Ctx.Done():
			return
		case job, ok := <-opts.Jobs:
			if !ok {
				return
			}
			if opts.Sem != nil {
				select {
				case opts.Sem <- struct{}{}:
				case <-opts.Ctx.Done():
					return
				}
			}
			func() {
				if opts.Sem != nil {
					defer func() { <-opts.Sem }()
				}
				opts.Handle(opts.Ctx, job)
			}()
		}
	}
}

func Enqueue[J any](ctx, workersCtx context.Context, jobs chan<- J, job J) error {
	if ctx == nil {
		ctx = workersCtx
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-workersCtx.Done():
		return workersCtx.Err()
	case jobs <- job:
		return nil
	}
}
