package credential

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// workerPool bounds how many hash or verify calls run at once.
// Callers that give up early get ctx.Err(); the running call finishes in the background
// and its result is dropped.
type workerPool struct {
	sem *semaphore.Weighted
}

func newWorkerPool(size int) *workerPool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	return &workerPool{sem: semaphore.NewWeighted(int64(size))}
}

func (p *workerPool) do(ctx context.Context, fn func()) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		defer p.sem.Release(1)
		defer close(done)
		fn()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
