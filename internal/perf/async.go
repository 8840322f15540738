// internal/perf/async.go
package perf

import (
	"context"
	"sync"
)

// Future represents a result that becomes available later. It is settled
// exactly once; later Resolve calls are ignored.
type Future[R any] struct {
	result R
	err    error
	done   chan struct{}
	once   sync.Once
}

// NewFuture creates an unsettled future
func NewFuture[R any]() *Future[R] {
	return &Future[R]{
		done: make(chan struct{}),
	}
}

// Resolve settles the future with a value or an error
func (f *Future[R]) Resolve(result R, err error) {
	f.once.Do(func() {
		f.result = result
		f.err = err
		close(f.done)
	})
}

// Get waits for and returns the result
func (f *Future[R]) Get(ctx context.Context) (R, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// Done returns a channel that closes when result is ready
func (f *Future[R]) Done() <-chan struct{} {
	return f.done
}

// IsReady returns whether result is ready
func (f *Future[R]) IsReady() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
