package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// portState is the descriptor state shared by a Stream or by its two halves.
type portState struct {
	raw    RawPort
	reg    *Registration
	logger *zap.Logger

	closed    atomic.Bool
	refs      atomic.Int32
	closeOnce sync.Once
	closeErr  error

	mu  sync.Mutex // guards cfg
	cfg Config
}

func (st *portState) pollRead(w Waker, p []byte) (Poll[int], error) {
	if st.closed.Load() {
		return Poll[int]{}, ErrClosed
	}
	if len(p) == 0 {
		return Ready(0), nil
	}

	_, tick := st.reg.readiness(ReadInterest)
	n, err := st.raw.Read(p)
	switch {
	case err == nil:
		// Zero bytes means no data right now, not end of stream.
		return Ready(n), nil
	case errors.Is(err, ErrWouldBlock):
		st.reg.clearReadiness(ReadInterest, tick)
		if err := st.reg.registerWaker(ReadInterest, w); err != nil {
			return Poll[int]{}, st.unregistered(err)
		}
		return Pending[int](), nil
	case st.closed.Load():
		return Poll[int]{}, ErrClosed
	default:
		return Poll[int]{}, &IoError{Op: "read", Err: err}
	}
}

func (st *portState) pollWrite(w Waker, p []byte) (Poll[int], error) {
	if st.closed.Load() {
		return Poll[int]{}, ErrClosed
	}
	if len(p) == 0 {
		return Ready(0), nil
	}

	_, tick := st.reg.readiness(WriteInterest)
	n, err := st.raw.Write(p)
	switch {
	case err == nil:
		return Ready(n), nil
	case errors.Is(err, ErrWouldBlock):
		st.reg.clearReadiness(WriteInterest, tick)
		if err := st.reg.registerWaker(WriteInterest, w); err != nil {
			return Poll[int]{}, st.unregistered(err)
		}
		return Pending[int](), nil
	case st.closed.Load():
		return Poll[int]{}, ErrClosed
	default:
		return Poll[int]{}, &IoError{Op: "write", Err: err}
	}
}

// unregistered reports a lost registration as ErrClosed when the port was
// closed concurrently.
func (st *portState) unregistered(err error) error {
	if st.closed.Load() {
		return ErrClosed
	}
	return err
}

func (st *portState) pollFlush(Waker) (Poll[struct{}], error) {
	if st.closed.Load() {
		return Poll[struct{}]{}, ErrClosed
	}
	return Ready(struct{}{}), nil
}

// close deregisters and then closes the descriptor, exactly once.
func (st *portState) close() error {
	st.closeOnce.Do(func() {
		st.closed.Store(true)
		if err := st.reg.Deregister(); err != nil {
			st.logger.Error("Failed to deregister serial port", zap.Error(err))
		}
		if err := st.raw.Close(); err != nil {
			st.logger.Error("Failed to close serial port", zap.Error(err))
			st.closeErr = fmt.Errorf("failed to close serial port: %w", err)
			return
		}
		st.logger.Info("Serial port closed")
	})
	return st.closeErr
}

// release drops one reference; the last one closes the port.
func (st *portState) release() error {
	if st.refs.Dec() == 0 {
		return st.close()
	}
	return nil
}

func (st *portState) config() (Config, error) {
	if st.closed.Load() {
		return Config{}, ErrClosed
	}
	st.mu.Lock()
	cached := st.cfg
	st.mu.Unlock()

	cr, ok := st.raw.(ConfigReader)
	if !ok {
		return cached, nil
	}
	observed, err := cr.ReadConfig()
	if err != nil {
		return Config{}, &IoError{Op: "read config", Err: err}
	}
	observed.logger, observed.reactor, observed.driver = cached.logger, cached.reactor, cached.driver
	if observed.Path == "" {
		observed.Path = cached.Path
	}
	return observed, nil
}

// reconfigure applies change to a copy of the current settings. The stored
// settings only change once the driver accepted the new ones.
func (st *portState) reconfigure(field string, change func(Config) Config) error {
	if st.closed.Load() {
		return ErrClosed
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	next := change(st.cfg)
	if err := next.Validate(); err != nil {
		return err
	}
	if err := st.raw.SetConfig(next); err != nil {
		st.logger.Error("Failed to reconfigure serial port", zap.String("field", field), zap.Error(err))
		var cerr *ConfigurationError
		if errors.As(err, &cerr) {
			return err
		}
		return &IoError{Op: "set " + field, Err: err}
	}
	st.cfg = next
	st.logger.Info("Serial port reconfigured", zap.String("field", field), zap.String("line", next.String()))
	return nil
}

func (st *portState) lineController() (LineController, error) {
	if st.closed.Load() {
		return nil, ErrClosed
	}
	lc, ok := st.raw.(LineController)
	if !ok {
		return nil, fmt.Errorf("serial: %T does not support line control", st.raw)
	}
	return lc, nil
}

// Stream is the async adapter over one open serial port. Its poll methods
// never block: they either complete or register the given Waker and report
// Pending. A Stream is meant to be driven by one task at a time; use Split
// to read and write from different goroutines.
type Stream struct {
	st *portState
}

func newStream(raw RawPort, reg *Registration, cfg Config, logger *zap.Logger) *Stream {
	st := &portState{raw: raw, reg: reg, logger: logger, cfg: cfg}
	st.refs.Store(1)
	return &Stream{st: st}
}

func (s *Stream) state() (*portState, error) {
	if s.st == nil {
		return nil, ErrClosed
	}
	return s.st, nil
}

// PollRead attempts one non-blocking read into p. A ready result carries the
// byte count, which may be zero without meaning end of stream. A pending
// result means w will be woken when the port next becomes readable.
func (s *Stream) PollRead(w Waker, p []byte) (Poll[int], error) {
	st, err := s.state()
	if err != nil {
		return Poll[int]{}, err
	}
	return st.pollRead(w, p)
}

// PollWrite attempts one non-blocking write of p and reports how many bytes
// the OS accepted. Short writes are not retried.
func (s *Stream) PollWrite(w Waker, p []byte) (Poll[int], error) {
	st, err := s.state()
	if err != nil {
		return Poll[int]{}, err
	}
	return st.pollWrite(w, p)
}

// PollFlush always completes: the port keeps no user-space write buffer.
func (s *Stream) PollFlush(w Waker) (Poll[struct{}], error) {
	st, err := s.state()
	if err != nil {
		return Poll[struct{}]{}, err
	}
	return st.pollFlush(w)
}

// PollShutdown closes the port outright. Serial devices have no write-only
// half-close, so reads fail with ErrClosed afterwards as well.
func (s *Stream) PollShutdown(Waker) (Poll[struct{}], error) {
	st, err := s.state()
	if err != nil {
		return Poll[struct{}]{}, err
	}
	if err := st.close(); err != nil {
		return Poll[struct{}]{}, err
	}
	return Ready(struct{}{}), nil
}

// ReadContext waits until at least one byte can be read or ctx is done.
func (s *Stream) ReadContext(ctx context.Context, p []byte) (int, error) {
	return await(ctx, func(w Waker) (Poll[int], error) { return s.PollRead(w, p) })
}

// WriteContext writes all of p, resubmitting the remainder after short writes.
func (s *Stream) WriteContext(ctx context.Context, p []byte) (int, error) {
	return writeAll(ctx, s.PollWrite, p)
}

// Read implements io.Reader.
func (s *Stream) Read(p []byte) (int, error) {
	return s.ReadContext(context.Background(), p)
}

// Write implements io.Writer.
func (s *Stream) Write(p []byte) (int, error) {
	return s.WriteContext(context.Background(), p)
}

// Close deregisters the port from its reactor and closes the descriptor.
// Safe to call multiple times; subsequent calls are no-ops.
func (s *Stream) Close() error {
	if s.st == nil {
		return nil
	}
	return s.st.close()
}

// Config returns the applied line settings, read back from the device when
// the driver supports it.
func (s *Stream) Config() (Config, error) {
	st, err := s.state()
	if err != nil {
		return Config{}, err
	}
	return st.config()
}

// SetBaudRate changes the baud rate of the open port.
func (s *Stream) SetBaudRate(baud int) error {
	return s.reconfigure("baud rate", func(c Config) Config { return c.WithBaudRate(baud) })
}

// SetDataBits changes the character size.
func (s *Stream) SetDataBits(bits DataBits) error {
	return s.reconfigure("data bits", func(c Config) Config { return c.WithDataBits(bits) })
}

// SetParity changes the parity mode.
func (s *Stream) SetParity(parity Parity) error {
	return s.reconfigure("parity", func(c Config) Config { return c.WithParity(parity) })
}

// SetStopBits changes the number of stop bits.
func (s *Stream) SetStopBits(bits StopBits) error {
	return s.reconfigure("stop bits", func(c Config) Config { return c.WithStopBits(bits) })
}

// SetFlowControl changes the flow control mode.
func (s *Stream) SetFlowControl(flow FlowControl) error {
	return s.reconfigure("flow control", func(c Config) Config { return c.WithFlowControl(flow) })
}

// SetTimeout changes the driver read timeout (VTIME).
func (s *Stream) SetTimeout(d time.Duration) error {
	return s.reconfigure("timeout", func(c Config) Config { return c.WithTimeout(d) })
}

func (s *Stream) reconfigure(field string, change func(Config) Config) error {
	st, err := s.state()
	if err != nil {
		return err
	}
	return st.reconfigure(field, change)
}

// LineControl exposes queue and modem-line operations of the underlying driver.
func (s *Stream) LineControl() (LineController, error) {
	st, err := s.state()
	if err != nil {
		return nil, err
	}
	return st.lineController()
}

// writeAll drives poll until p is fully written.
func writeAll(ctx context.Context, poll func(Waker, []byte) (Poll[int], error), p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := await(ctx, func(w Waker) (Poll[int], error) { return poll(w, p[written:]) })
		written += n
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, io.ErrShortWrite
		}
	}
	return written, nil
}
