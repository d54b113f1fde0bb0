package serial

import (
	"context"
	"errors"
)

// ReadHalf is the readable side of a split Stream.
type ReadHalf struct {
	st *portState
}

// WriteHalf is the writable side of a split Stream.
type WriteHalf struct {
	st *portState
}

// Split consumes s and returns halves that may be polled from different
// goroutines. Both share the descriptor; it is closed when both halves are.
// s itself reports ErrClosed afterwards.
func (s *Stream) Split() (*ReadHalf, *WriteHalf) {
	st := s.st
	s.st = nil
	if st == nil {
		return &ReadHalf{}, &WriteHalf{}
	}
	// The stream's reference becomes the read half's.
	st.refs.Inc()
	return &ReadHalf{st: st}, &WriteHalf{st: st}
}

// Reunite joins two halves of the same port back into a Stream.
func Reunite(r *ReadHalf, w *WriteHalf) (*Stream, error) {
	if r == nil || w == nil || r.st == nil || w.st == nil {
		return nil, ErrClosed
	}
	if r.st != w.st {
		return nil, errors.New("serial: halves belong to different ports")
	}
	st := r.st
	r.st, w.st = nil, nil
	st.refs.Dec()
	return &Stream{st: st}, nil
}

// PollRead is Stream.PollRead for the read half.
func (h *ReadHalf) PollRead(w Waker, p []byte) (Poll[int], error) {
	if h.st == nil {
		return Poll[int]{}, ErrClosed
	}
	return h.st.pollRead(w, p)
}

// ReadContext waits until at least one byte can be read or ctx is done.
func (h *ReadHalf) ReadContext(ctx context.Context, p []byte) (int, error) {
	return await(ctx, func(w Waker) (Poll[int], error) { return h.PollRead(w, p) })
}

// Read implements io.Reader.
func (h *ReadHalf) Read(p []byte) (int, error) {
	return h.ReadContext(context.Background(), p)
}

// Close releases this half. The descriptor closes with the last half.
func (h *ReadHalf) Close() error {
	st := h.st
	if st == nil {
		return nil
	}
	h.st = nil
	return st.release()
}

// PollWrite is Stream.PollWrite for the write half.
func (h *WriteHalf) PollWrite(w Waker, p []byte) (Poll[int], error) {
	if h.st == nil {
		return Poll[int]{}, ErrClosed
	}
	return h.st.pollWrite(w, p)
}

// PollFlush always completes while the port is open.
func (h *WriteHalf) PollFlush(w Waker) (Poll[struct{}], error) {
	if h.st == nil {
		return Poll[struct{}]{}, ErrClosed
	}
	return h.st.pollFlush(w)
}

// PollShutdown closes the whole port, including the read half.
func (h *WriteHalf) PollShutdown(Waker) (Poll[struct{}], error) {
	if h.st == nil {
		return Poll[struct{}]{}, ErrClosed
	}
	if err := h.st.close(); err != nil {
		return Poll[struct{}]{}, err
	}
	return Ready(struct{}{}), nil
}

// WriteContext writes all of p, resubmitting the remainder after short writes.
func (h *WriteHalf) WriteContext(ctx context.Context, p []byte) (int, error) {
	return writeAll(ctx, h.PollWrite, p)
}

// Write implements io.Writer.
func (h *WriteHalf) Write(p []byte) (int, error) {
	return h.WriteContext(context.Background(), p)
}

// Close releases this half. The descriptor closes with the last half.
func (h *WriteHalf) Close() error {
	st := h.st
	if st == nil {
		return nil
	}
	h.st = nil
	return st.release()
}
