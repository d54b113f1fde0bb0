package serial

import (
	"errors"

	"go.uber.org/atomic"
)

// Registration pairs one RawPort descriptor with one reactor token.
// It must be deregistered before the descriptor is closed; Stream does both,
// in that order, when it is closed.
type Registration struct {
	reactor      Reactor
	token        Token
	fd           int
	deregistered atomic.Bool
}

// Register subscribes raw's descriptor with r for readable and writable edges.
func Register(raw RawPort, r Reactor) (*Registration, error) {
	fd := raw.Fd()
	tok, err := r.Register(fd)
	if err != nil {
		var regErr *RegistrationError
		if !errors.As(err, &regErr) {
			err = &RegistrationError{Fd: fd, Err: err}
		}
		return nil, err
	}
	return &Registration{reactor: r, token: tok, fd: fd}, nil
}

// Token returns the reactor token of the descriptor.
func (g *Registration) Token() Token { return g.token }

// readiness reports whether dir is ready and the tick at which that was observed.
func (g *Registration) readiness(dir Interest) (bool, uint64) {
	return g.reactor.Readiness(g.token, dir)
}

// clearReadiness is called after a would-block result that began at tick.
func (g *Registration) clearReadiness(dir Interest, tick uint64) {
	g.reactor.ClearReadiness(g.token, dir, tick)
}

// registerWaker parks w on dir. It fails once the reactor has dropped the
// descriptor, so the caller never waits for an edge that cannot come.
func (g *Registration) registerWaker(dir Interest, w Waker) error {
	if !g.reactor.RegisterWaker(g.token, dir, w) {
		return &RegistrationError{Fd: g.fd, Err: ErrNotRegistered}
	}
	return nil
}

// Deregister removes the descriptor from the reactor. Only the first call
// does anything.
func (g *Registration) Deregister() error {
	if !g.deregistered.CompareAndSwap(false, true) {
		return nil
	}
	return g.reactor.Deregister(g.token)
}
