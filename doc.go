// Package serial adapts Linux serial ports to a poll-based, non-blocking
// I/O model, so a serial line can be driven the same way as a socket or a
// pipe inside an event loop.
//
// A port is opened in O_NONBLOCK mode and registered with an epoll reactor.
// Every read and write is a single attempt: it either completes, or it
// reports Pending after storing the caller's Waker, which the reactor calls
// when the descriptor next becomes readable or writable. Nothing spins and
// no goroutine is started per port.
//
// Features:
//   - Fluent configuration: baud rate, data bits, parity, stop bits, flow control
//   - PollRead / PollWrite / PollFlush / PollShutdown state machine
//   - Context-aware Read/Write helpers that implement io.Reader and io.Writer
//   - Split into independently pollable read and write halves
//   - Runtime reconfiguration (e.g. baud rate) without reopening
//   - Framed codec bridge turning bytes into typed messages
//   - PTY-backed virtual port pairs for tests
//
// This package does **not** support Windows.
//
// A zero-byte read is reported as Ready(0), not as end of stream: serial
// drivers disagree on what an empty read means, so callers decide. The
// Linux driver never returns one: a device that hangs up or is unplugged
// fails the read with an IoError.
//
// Example usage:
//
//	port, err := serial.New("/dev/ttyUSB0").
//	    WithBaudRate(115200).
//	    WithParity(serial.ParityEven).
//	    Open()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer port.Close()
//
//	// Poll style, from an event loop
//	p, err := port.PollRead(waker, buf)
//	if err == nil && p.IsReady() {
//	    handle(buf[:p.Value()])
//	}
//
//	// Or blocking style, from a goroutine
//	n, err := port.ReadContext(ctx, buf)
//
//	// Framed messages
//	framed := serial.NewFramed[string, string](port, linesCodec{})
//	err = framed.Send(ctx, "C,START")
//	line, err := framed.Next(ctx)
package serial
