package serial

import "sync"

// Interest is a set of readiness directions.
type Interest uint8

const (
	ReadInterest Interest = 1 << iota
	WriteInterest
)

// slot indexes per-direction state; dir must be a single direction.
func (dir Interest) slot() int {
	if dir == WriteInterest {
		return 1
	}
	return 0
}

// Token identifies one descriptor inside a Reactor.
type Token uint64

// Reactor tracks readiness of registered descriptors and wakes the task
// waiting on each direction. Methods taking a dir expect a single direction.
type Reactor interface {
	// Register subscribes fd for readable and writable edges.
	Register(fd int) (Token, error)
	// Readiness reports whether dir is ready, plus a counter that changes
	// with every edge in that direction.
	Readiness(tok Token, dir Interest) (bool, uint64)
	// ClearReadiness drops dir unless a new edge in dir arrived after tick
	// was observed.
	ClearReadiness(tok Token, dir Interest, tick uint64)
	// RegisterWaker stores w for the next edge in dir, replacing any earlier
	// waker. If dir is already ready, w is woken immediately. It returns
	// false, without storing or waking w, when tok is no longer registered.
	RegisterWaker(tok Token, dir Interest, w Waker) bool
	// Deregister removes tok and wakes any waker still stored for it.
	Deregister(tok Token) error
	// Close stops the reactor. Registrations are dropped and their parked
	// wakers woken; later RegisterWaker calls report false.
	Close() error
}

var (
	defaultReactorOnce sync.Once
	defaultReactor     Reactor
	defaultReactorErr  error
)

// DefaultReactor returns the process-wide reactor, starting it on first use.
// It is never closed.
func DefaultReactor() (Reactor, error) {
	defaultReactorOnce.Do(func() {
		defaultReactor, defaultReactorErr = NewReactor()
	})
	return defaultReactor, defaultReactorErr
}
