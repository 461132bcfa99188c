// Package async is the single async-result primitive behind every remote
// operation. Callers either Await the Future or register a callback with Then.
package async

import (
	"context"
	"fmt"
	"sync"

	"github.com/mahaj/chatcore/pkg/chaterr"
)

// Callback receives the outcome of a Future.
type Callback[T any] func(T, error)

type Future[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Go runs fn in a new goroutine. A panic inside fn resolves the Future with
// an Unknown error so the Future always completes.
func Go[T any](fn func() (T, error)) *Future[T] {
	f := New[T]()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				f.Resolve(zero, chaterr.E(chaterr.KindUnknown, "async", fmt.Errorf("panic: %v", r)))
			}
		}()
		f.Resolve(fn())
	}()
	return f
}

// Resolved returns an already completed Future.
func Resolved[T any](v T, err error) *Future[T] {
	f := New[T]()
	f.Resolve(v, err)
	return f
}

func Failed[T any](err error) *Future[T] {
	var zero T
	return Resolved(zero, err)
}

// Resolve completes the Future. Only the first call has any effect.
func (f *Future[T]) Resolve(v T, err error) {
	f.once.Do(func() {
		f.val, f.err = v, err
		close(f.done)
	})
}

func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Await blocks until the Future completes or ctx is done. Cancelling ctx
// stops the wait, not the underlying operation.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Then invokes cb once the Future completes, on its own goroutine.
func (f *Future[T]) Then(cb Callback[T]) {
	if cb == nil {
		return
	}
	go func() {
		<-f.done
		cb(f.val, f.err)
	}()
}
