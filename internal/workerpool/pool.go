// Package workerpool runs blocking calls on a bounded set of goroutines so slow backends
// cannot consume request-dispatch capacity.
package workerpool

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// ErrPanic wraps a panic raised by a pooled call; the panic does not escape the pool goroutine.
var ErrPanic = errors.New("worker panicked")

// Pool bounds the number of blocking calls in flight.
type Pool struct {
	sem  *semaphore.Weighted
	size int
	// onBusy, when set, is called with +1 when a slot is taken and -1 when released.
	onBusy func(delta int)
}

// New returns a Pool with size slots. size <= 0 means one slot.
func New(size int, onBusy func(delta int)) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		sem:    semaphore.NewWeighted(int64(size)),
		size:   size,
		onBusy: onBusy,
	}
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return p.size
}

type result[T any] struct {
	val T
	err error
}

// Do waits for a free slot, runs fn on a pool goroutine and returns its result.
// If ctx ends first, Do returns ctx.Err(); fn keeps its slot until it returns and
// is expected to observe the same ctx.
func Do[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return zero, fmt.Errorf("acquire worker: %w", err)
	}
	if p.onBusy != nil {
		p.onBusy(1)
	}

	done := make(chan result[T], 1)
	go func() {
		var r result[T]
		defer func() {
			if rec := recover(); rec != nil {
				r = result[T]{err: fmt.Errorf("%w: %v", ErrPanic, rec)}
			}
			if p.onBusy != nil {
				p.onBusy(-1)
			}
			p.sem.Release(1)
			done <- r
		}()
		r.val, r.err = fn(ctx)
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
