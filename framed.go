package serial

import (
	"bytes"
	"context"
	"io"
)

// Decoder extracts frames from the front of a byte buffer.
type Decoder[T any] interface {
	// Decode removes one complete frame from buf and returns it with ok set.
	// When buf holds no complete frame it returns ok == false and must leave
	// buf untouched so the partial bytes are kept for the next call.
	Decode(buf *bytes.Buffer) (item T, ok bool, err error)
}

// Encoder appends the wire form of an item to dst.
type Encoder[T any] interface {
	Encode(item T, dst *bytes.Buffer) error
}

// Codec encodes In items and decodes Out items.
type Codec[In, Out any] interface {
	Encoder[In]
	Decoder[Out]
}

// AsyncReader is implemented by Stream and ReadHalf.
type AsyncReader interface {
	PollRead(w Waker, p []byte) (Poll[int], error)
}

// AsyncWriter is implemented by Stream and WriteHalf.
type AsyncWriter interface {
	PollWrite(w Waker, p []byte) (Poll[int], error)
	PollFlush(w Waker) (Poll[struct{}], error)
}

// AsyncReadWriter is implemented by Stream.
type AsyncReadWriter interface {
	AsyncReader
	AsyncWriter
}

const (
	initialReadCapacity  = 64 * 1024
	initialWriteCapacity = 8 * 1024
	minReadSpace         = 4 * 1024

	// Same limit bufio applies before giving up on a reader that returns nothing.
	maxConsecutiveEmptyReads = 100
)

// Framed turns a byte stream into a stream of frames using a Codec.
// Frames come out in arrival order and only once all their bytes are in;
// partial frames stay buffered across pending polls.
type Framed[In, Out any] struct {
	port  AsyncReadWriter
	codec Codec[In, Out]
	rd    bytes.Buffer
	wr    bytes.Buffer
	empty int
}

// NewFramed wraps port with codec.
func NewFramed[In, Out any](port AsyncReadWriter, codec Codec[In, Out]) *Framed[In, Out] {
	f := &Framed[In, Out]{port: port, codec: codec}
	f.rd.Grow(initialReadCapacity)
	f.wr.Grow(initialWriteCapacity)
	return f
}

// PollNext returns the next decoded frame, reading more bytes from the port
// as long as the buffer holds no complete frame.
func (f *Framed[In, Out]) PollNext(w Waker) (Poll[Out], error) {
	for {
		if f.rd.Len() > 0 {
			item, ok, err := f.codec.Decode(&f.rd)
			if err != nil {
				return Poll[Out]{}, err
			}
			if ok {
				return Ready(item), nil
			}
		}

		f.rd.Grow(minReadSpace)
		buf := f.rd.AvailableBuffer()
		buf = buf[:cap(buf)]
		p, err := f.port.PollRead(w, buf)
		if err != nil {
			return Poll[Out]{}, err
		}
		if p.IsPending() {
			return Pending[Out](), nil
		}

		n := p.Value()
		if n == 0 {
			f.empty++
			if f.empty >= maxConsecutiveEmptyReads {
				f.empty = 0
				return Poll[Out]{}, io.ErrNoProgress
			}
			continue
		}
		f.empty = 0
		f.rd.Write(buf[:n])
	}
}

// PollReady completes once earlier items have been written out.
func (f *Framed[In, Out]) PollReady(w Waker) (Poll[struct{}], error) {
	if f.wr.Len() > 0 {
		return f.PollFlush(w)
	}
	return Ready(struct{}{}), nil
}

// StartSend encodes item into the write buffer. Call PollReady first.
func (f *Framed[In, Out]) StartSend(item In) error {
	mark := f.wr.Len()
	if err := f.codec.Encode(item, &f.wr); err != nil {
		f.wr.Truncate(mark)
		return err
	}
	return nil
}

// PollFlush writes the buffered bytes, resubmitting the remainder after
// short writes, then flushes the port.
func (f *Framed[In, Out]) PollFlush(w Waker) (Poll[struct{}], error) {
	for f.wr.Len() > 0 {
		p, err := f.port.PollWrite(w, f.wr.Bytes())
		if err != nil {
			return Poll[struct{}]{}, err
		}
		if p.IsPending() {
			return Pending[struct{}](), nil
		}
		if p.Value() == 0 {
			return Poll[struct{}]{}, io.ErrShortWrite
		}
		f.wr.Next(p.Value())
	}
	return f.port.PollFlush(w)
}

// PollClose flushes outstanding items. The port stays open.
func (f *Framed[In, Out]) PollClose(w Waker) (Poll[struct{}], error) {
	return f.PollFlush(w)
}

// Next waits for the next frame.
func (f *Framed[In, Out]) Next(ctx context.Context) (Out, error) {
	return await(ctx, f.PollNext)
}

// Send encodes item and waits until all of its bytes are written.
func (f *Framed[In, Out]) Send(ctx context.Context, item In) error {
	if _, err := await(ctx, f.PollReady); err != nil {
		return err
	}
	if err := f.StartSend(item); err != nil {
		return err
	}
	_, err := await(ctx, f.PollFlush)
	return err
}

// Port returns the wrapped stream. Reading from it directly corrupts framing.
func (f *Framed[In, Out]) Port() AsyncReadWriter { return f.port }

// Codec returns the codec in use.
func (f *Framed[In, Out]) Codec() Codec[In, Out] { return f.codec }

// ReadBuffer holds bytes received but not yet decoded.
func (f *Framed[In, Out]) ReadBuffer() *bytes.Buffer { return &f.rd }
