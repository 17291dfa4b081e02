package interception

import (
	"context"
	"reflect"
)

var futureType = reflect.TypeOf((*Future)(nil))

// Result is the boxed return slot of an invocation. It holds either a plain
// value or a Future resolving to one.
type Result struct {
	value  any
	future *Future
}

func ValueResult(v any) Result {
	return Result{value: v}
}

func FutureResult(f *Future) Result {
	return Result{future: f}
}

func (r Result) IsAsync() bool {
	return r.future != nil
}

// Future returns the pending value of an async result.
func (r Result) Future() *Future {
	return r.future
}

// Await returns the value, waiting for async results.
func (r Result) Await(ctx context.Context) (any, error) {
	if r.future == nil {
		return r.value, nil
	}
	return r.future.Await(ctx)
}

// Future is the outcome of work running in its own goroutine.
type Future struct {
	done  chan struct{}
	value any
	err   error
}

// Go runs fn in a new goroutine and returns its Future.
func Go(ctx context.Context, fn func(ctx context.Context) (any, error)) *Future {
	f := &Future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.value, f.err = fn(ctx)
	}()
	return f
}

// Completed returns a Future that is already resolved.
func Completed(v any, err error) *Future {
	f := &Future{done: make(chan struct{}), value: v, err: err}
	close(f.done)
	return f
}

// Await blocks until the future resolves or ctx is done.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Future) Done() <-chan struct{} {
	return f.done
}
