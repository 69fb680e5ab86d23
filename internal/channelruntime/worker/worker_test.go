package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestStartProcessesAllJobs(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	jobs := make(chan int, 16)
	var sum atomic.Int64
	wait := Start(StartOptions[int]{
		Ctx:     ctx,
		Workers: 3,
		Jobs:    jobs,
		Handle: func(_ context.Context, n int) {
			sum.Add(int64(n))
		},
	})
	for i := 1; i <= 10; i++ {
		if err := Enqueue(context.Background(), ctx, jobs, i); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	close(jobs)
	wait()
	if got := sum.Load(); got != 55 {
		t.Fatalf("sum mismatch: got %d want 55", got)
	}
}

func TestSemaphoreCapsConcurrency(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	jobs := make(chan int)
	sem := make(chan struct{}, 2)
	var running, peak atomic.Int32
	wait := Start(StartOptions[int]{
		Ctx:     ctx,
		Workers: 6,
		Sem:     sem,
		Jobs:    jobs,
		Handle: func(_ context.Context, _ int) {
			cur := running.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
		},
	})
	for i := 0; i < 12; i++ {
		jobs <- i
	}
	close(jobs)
	wait()
	if got := peak.Load(); got > 2 {
		t.Fatalf("peak concurrency mismatch: got %d want <= 2", got)
	}
}

func TestEnqueueStopsWithWorkers(t *testing.T) {
	t.Parallel()

	workersCtx, cancel := context.WithCancel(context.Background())
	cancel()
	jobs := make(chan int)
	if err := Enqueue(context.Background(), workersCtx, jobs, 1); err == nil {
		t.Fatalf("Enqueue() expected error after workers stopped")
	}
}
