package serial

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by any operation on a port that has been closed or shut down.
var ErrClosed = errors.New("serial: port closed")

// ErrWouldBlock is returned by a RawPort when a non-blocking read or write
// cannot make progress. It never leaves the poll functions of this package.
var ErrWouldBlock = errors.New("serial: operation would block")

// ErrNotRegistered is wrapped in a RegistrationError when the reactor no
// longer tracks a descriptor, for example after the reactor was closed.
var ErrNotRegistered = errors.New("serial: descriptor not registered with reactor")

// ConfigurationError reports a line parameter that is invalid or not
// supported by the port driver.
type ConfigurationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("serial: invalid %s %v", e.Field, e.Value)
	}
	return fmt.Sprintf("serial: invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// OpenError reports that the device could not be opened.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("serial: open %s: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// IoError wraps an OS error other than would-block raised by a read or write.
type IoError struct {
	Op  string
	Err error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("serial: %s: %v", e.Op, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

// RegistrationError reports that the reactor refused a descriptor.
type RegistrationError struct {
	Fd  int
	Err error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("serial: register fd %d: %v", e.Fd, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }
