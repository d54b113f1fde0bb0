//go:build !linux

package serial

import (
	"errors"

	"go.uber.org/zap"
)

var errUnsupported = errors.New("serial: only linux is supported")

var defaultDriver Driver = unsupportedDriver{}

type unsupportedDriver struct{}

func (unsupportedDriver) Open(cfg Config) (RawPort, error) {
	return nil, &OpenError{Path: cfg.Path, Err: errUnsupported}
}

// ReactorOption configures NewReactor.
type ReactorOption func(*zap.Logger)

// WithReactorLogger is accepted for API parity and has no effect.
func WithReactorLogger(logger *zap.Logger) ReactorOption {
	return func(*zap.Logger) {}
}

// NewReactor is only implemented on linux.
func NewReactor(...ReactorOption) (Reactor, error) {
	return nil, errUnsupported
}

// Pair is only implemented on linux.
func Pair(Config) (*Stream, *Stream, error) {
	return nil, nil, &OpenError{Path: "/dev/ptmx", Err: errUnsupported}
}
