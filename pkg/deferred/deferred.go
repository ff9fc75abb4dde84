package deferred

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrAlreadyResolved reports a second resolution attempt. This is a
	// programming defect on the resolver side, not a runtime condition.
	ErrAlreadyResolved = errors.New("deferred: already resolved")
	// ErrTimeout reports that Await gave up waiting. The underlying work is
	// not cancelled by an elapsed wait.
	ErrTimeout = errors.New("deferred: await timed out")
	// ErrCancelled reports that the deferred was cancelled before resolution.
	ErrCancelled = errors.New("deferred: cancelled")
)

// Deferred holds a value of type T that becomes available at most once.
// The zero value is not usable; construct with New, Resolved or Failed.
type Deferred[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	value     T
	err       error
	callbacks []func(T, error)
}

// New returns a pending Deferred.
func New[T any]() *Deferred[T] {
	return &Deferred[T]{done: make(chan struct{})}
}

// Resolved returns a Deferred already holding v.
func Resolved[T any](v T) *Deferred[T] {
	d := New[T]()
	_ = d.Resolve(v)
	return d
}

// Failed returns a Deferred already holding err.
func Failed[T any](err error) *Deferred[T] {
	d := New[T]()
	_ = d.Fail(err)
	return d
}

// Resolve completes the deferred with a value. Returns ErrAlreadyResolved if
// the deferred is no longer pending.
func (d *Deferred[T]) Resolve(v T) error {
	return d.complete(v, nil)
}

// Fail completes the deferred with an error. Returns ErrAlreadyResolved if
// the deferred is no longer pending.
func (d *Deferred[T]) Fail(err error) error {
	var zero T
	if err == nil {
		err = errors.New("deferred: failed with nil error")
	}
	return d.complete(zero, err)
}

// Cancel fails a pending deferred with ErrCancelled. Cancelling an already
// resolved deferred is a no-op and returns false.
func (d *Deferred[T]) Cancel() bool {
	var zero T
	return d.complete(zero, ErrCancelled) == nil
}

func (d *Deferred[T]) complete(v T, err error) error {
	d.mu.Lock()
	select {
	case <-d.done:
		d.mu.Unlock()
		return ErrAlreadyResolved
	default:
	}
	d.value = v
	d.err = err
	cbs := d.callbacks
	d.callbacks = nil
	close(d.done)
	d.mu.Unlock()

	for _, cb := range cbs {
		go cb(v, err)
	}
	return nil
}

// Done returns a channel closed on resolution. All waiters observe the same
// final value or error.
func (d *Deferred[T]) Done() <-chan struct{} { return d.done }

// Completed reports whether the deferred has been resolved or failed.
func (d *Deferred[T]) Completed() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

// Peek returns the outcome without blocking. ok is false while pending.
func (d *Deferred[T]) Peek() (v T, err error, ok bool) {
	select {
	case <-d.done:
		return d.value, d.err, true
	default:
		var zero T
		return zero, nil, false
	}
}

// Await blocks until resolution or until timeout elapses. A timeout <= 0
// waits forever. An elapsed wait returns ErrTimeout and leaves the
// underlying work running.
func (d *Deferred[T]) Await(timeout time.Duration) (T, error) {
	if timeout <= 0 {
		<-d.done
		return d.value, d.err
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-d.done:
		return d.value, d.err
	case <-t.C:
		var zero T
		return zero, ErrTimeout
	}
}

// AwaitContext blocks until resolution or until ctx is done, in which case
// the context error is returned and the underlying work keeps running.
func (d *Deferred[T]) AwaitContext(ctx context.Context) (T, error) {
	select {
	case <-d.done:
		return d.value, d.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// OnResolve registers fn to run exactly once when the deferred completes.
// The continuation always runs on its own goroutine, including when the
// deferred is already resolved at registration time.
func (d *Deferred[T]) OnResolve(fn func(T, error)) {
	d.mu.Lock()
	select {
	case <-d.done:
		v, err := d.value, d.err
		d.mu.Unlock()
		go fn(v, err)
		return
	default:
	}
	d.callbacks = append(d.callbacks, fn)
	d.mu.Unlock()
}
