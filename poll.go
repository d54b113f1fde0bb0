package serial

import "context"

// Poll is the outcome of a poll call: either ready with a value, or pending
// with the caller's Waker registered for the next readiness edge.
type Poll[T any] struct {
	value T
	ready bool
}

// Ready returns a completed Poll carrying v.
func Ready[T any](v T) Poll[T] {
	return Poll[T]{value: v, ready: true}
}

// Pending returns a Poll that has not completed.
func Pending[T any]() Poll[T] {
	return Poll[T]{}
}

// IsReady reports whether the operation completed.
func (p Poll[T]) IsReady() bool { return p.ready }

// IsPending reports whether the operation is still waiting for an edge.
func (p Poll[T]) IsPending() bool { return !p.ready }

// Value returns the ready value, or the zero value while pending.
func (p Poll[T]) Value() T { return p.value }

// Waker is notified when a pending operation may make progress.
// Wake may be called from the reactor goroutine and must not block.
type Waker interface {
	Wake()
}

// WakerFunc adapts a function to the Waker interface.
type WakerFunc func()

// Wake calls f.
func (f WakerFunc) Wake() { f() }

// chanWaker turns wakeups into a coalescing channel signal.
type chanWaker struct {
	c chan struct{}
}

func newChanWaker() *chanWaker {
	return &chanWaker{c: make(chan struct{}, 1)}
}

func (w *chanWaker) Wake() {
	select {
	case w.c <- struct{}{}:
	default:
	}
}

// await drives poll until it is ready, fails, or ctx is done. Each pending
// result parks the goroutine on the waker; nothing spins in between.
func await[T any](ctx context.Context, poll func(Waker) (Poll[T], error)) (T, error) {
	w := newChanWaker()
	for {
		p, err := poll(w)
		if err != nil || p.IsReady() {
			return p.Value(), err
		}
		select {
		case <-w.c:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}
