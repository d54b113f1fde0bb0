//go:build linux

package serial

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

var defaultDriver Driver = linuxDriver{}

type linuxDriver struct{}

// linuxPort is a termios device opened with O_NONBLOCK.
type linuxPort struct {
	fd        int
	path      string
	exclusive bool
}

// Open opens the device node and applies cfg before returning, so a caller
// never sees a half-configured handle.
func (linuxDriver) Open(cfg Config) (RawPort, error) {
	cfg = cfg.normalize()
	if _, err := baudToUnix(cfg.BaudRate); err != nil {
		return nil, err
	}

	fd, err := unix.Open(cfg.Path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &OpenError{Path: cfg.Path, Err: err}
	}
	p := &linuxPort{fd: fd, path: cfg.Path}

	if cfg.Exclusive {
		if err := unix.IoctlSetInt(fd, unix.TIOCEXCL, 0); err != nil {
			unix.Close(fd)
			return nil, &OpenError{Path: cfg.Path, Err: fmt.Errorf("set exclusive: %w", err)}
		}
		p.exclusive = true
	}

	if err := p.configure(cfg); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// portFromFile takes over the descriptor behind f, closing f itself.
func portFromFile(f *os.File, cfg Config) (*linuxPort, error) {
	// f.Fd puts the file into blocking mode, so the flag is restored on the dup.
	fd, err := unix.Dup(int(f.Fd()))
	f.Close()
	if err != nil {
		return nil, &OpenError{Path: cfg.Path, Err: fmt.Errorf("dup: %w", err)}
	}
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, &OpenError{Path: cfg.Path, Err: fmt.Errorf("set nonblock: %w", err)}
	}
	p := &linuxPort{fd: fd, path: cfg.Path}
	if err := p.configure(cfg); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (p *linuxPort) configure(cfg Config) error {
	termios, err := unix.IoctlGetTermios(p.fd, unix.TCGETS)
	if err != nil {
		return &OpenError{Path: p.path, Err: fmt.Errorf("get termios: %w", err)}
	}

	// Raw mode
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag |= unix.CREAD | unix.CLOCAL

	if err := applyTermios(termios, cfg); err != nil {
		return err
	}

	if err := unix.IoctlSetTermios(p.fd, unix.TCSETS, termios); err != nil {
		return &OpenError{Path: p.path, Err: fmt.Errorf("set termios: %w", err)}
	}
	return nil
}

// applyTermios writes the line settings of cfg into t.
func applyTermios(t *unix.Termios, cfg Config) error {
	cfg = cfg.normalize()

	baud, err := baudToUnix(cfg.BaudRate)
	if err != nil {
		return err
	}
	t.Cflag &^= unix.CBAUD
	t.Cflag |= baud
	t.Ispeed = baud
	t.Ospeed = baud

	size, ok := dataBitsToUnix[cfg.DataBits]
	if !ok {
		return &ConfigurationError{Field: "data bits", Value: int(cfg.DataBits)}
	}
	t.Cflag &^= unix.CSIZE
	t.Cflag |= size

	switch cfg.Parity {
	case ParityNone:
		t.Cflag &^= unix.PARENB | unix.PARODD
		t.Iflag &^= unix.INPCK
	case ParityOdd:
		t.Cflag |= unix.PARENB | unix.PARODD
		t.Iflag |= unix.INPCK
	case ParityEven:
		t.Cflag |= unix.PARENB
		t.Cflag &^= unix.PARODD
		t.Iflag |= unix.INPCK
	default:
		return &ConfigurationError{Field: "parity", Value: int(cfg.Parity)}
	}

	switch cfg.StopBits {
	case StopBitsOne:
		t.Cflag &^= unix.CSTOPB
	case StopBitsTwo:
		t.Cflag |= unix.CSTOPB
	default:
		return &ConfigurationError{Field: "stop bits", Value: int(cfg.StopBits)}
	}

	switch cfg.FlowControl {
	case FlowControlNone:
		t.Cflag &^= unix.CRTSCTS
		t.Iflag &^= unix.IXON | unix.IXOFF
	case FlowControlSoftware:
		t.Cflag &^= unix.CRTSCTS
		t.Iflag |= unix.IXON | unix.IXOFF
	case FlowControlHardware:
		t.Cflag |= unix.CRTSCTS
		t.Iflag &^= unix.IXON | unix.IXOFF
	default:
		return &ConfigurationError{Field: "flow control", Value: int(cfg.FlowControl)}
	}

	// VMIN=1 makes an empty non-blocking read report EAGAIN instead of 0.
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = vtime(cfg)
	return nil
}

// vtime converts the timeout to deciseconds, clamped to 1..255.
func vtime(cfg Config) uint8 {
	if cfg.Timeout <= 0 {
		return 0
	}
	ds := cfg.Timeout.Milliseconds() / 100
	if ds == 0 {
		ds = 1
	}
	if ds > 255 {
		ds = 255
	}
	return uint8(ds)
}

func (p *linuxPort) Fd() int { return p.fd }

// Read returns ErrWouldBlock on an empty queue. With VMIN=1 an empty queue
// reports EAGAIN, so a zero-byte read means the line hung up; that is
// reported as EIO.
func (p *linuxPort) Read(b []byte) (int, error) {
	for {
		n, err := unix.Read(p.fd, b)
		switch err {
		case nil:
			if n == 0 && len(b) > 0 {
				return 0, unix.EIO
			}
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, ErrWouldBlock
		default:
			return 0, err
		}
	}
}

func (p *linuxPort) Write(b []byte) (int, error) {
	for {
		n, err := unix.Write(p.fd, b)
		switch err {
		case nil:
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, ErrWouldBlock
		default:
			return 0, err
		}
	}
}

// SetConfig re-applies line settings. The termios block is only written
// once it has been fully built.
func (p *linuxPort) SetConfig(cfg Config) error {
	termios, err := unix.IoctlGetTermios(p.fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("get termios: %w", err)
	}
	if err := applyTermios(termios, cfg); err != nil {
		return err
	}
	if err := unix.IoctlSetTermios(p.fd, unix.TCSETS, termios); err != nil {
		return fmt.Errorf("set termios: %w", err)
	}
	return nil
}

// ReadConfig decodes the termios settings currently applied to the device.
func (p *linuxPort) ReadConfig() (Config, error) {
	t, err := unix.IoctlGetTermios(p.fd, unix.TCGETS)
	if err != nil {
		return Config{}, fmt.Errorf("get termios: %w", err)
	}

	cfg := Config{Path: p.path, Exclusive: p.exclusive}
	baud, ok := unixToBaud[t.Cflag&unix.CBAUD]
	if !ok {
		return Config{}, fmt.Errorf("unknown speed bits %#x", t.Cflag&unix.CBAUD)
	}
	cfg.BaudRate = baud

	for bits, flag := range dataBitsToUnix {
		if t.Cflag&unix.CSIZE == flag {
			cfg.DataBits = bits
		}
	}

	switch {
	case t.Cflag&unix.PARENB == 0:
		cfg.Parity = ParityNone
	case t.Cflag&unix.PARODD != 0:
		cfg.Parity = ParityOdd
	default:
		cfg.Parity = ParityEven
	}

	if t.Cflag&unix.CSTOPB != 0 {
		cfg.StopBits = StopBitsTwo
	}

	switch {
	case t.Cflag&unix.CRTSCTS != 0:
		cfg.FlowControl = FlowControlHardware
	case t.Iflag&(unix.IXON|unix.IXOFF) != 0:
		cfg.FlowControl = FlowControlSoftware
	}

	if vt := t.Cc[unix.VTIME]; vt > 0 {
		cfg.Timeout = time.Duration(vt) * 100 * time.Millisecond
	}
	return cfg, nil
}

func (p *linuxPort) Close() error {
	if p.exclusive {
		// Exclusivity would otherwise outlive us on a tty kept open elsewhere (a PTY master).
		unix.IoctlSetInt(p.fd, unix.TIOCNXCL, 0)
	}
	return unix.Close(p.fd)
}

func (p *linuxPort) BytesToRead() (int, error) {
	return unix.IoctlGetInt(p.fd, unix.TIOCINQ)
}

func (p *linuxPort) BytesToWrite() (int, error) {
	return unix.IoctlGetInt(p.fd, unix.TIOCOUTQ)
}

func (p *linuxPort) Clear(which ClearBuffer) error {
	switch which {
	case ClearInput:
		return unix.IoctlSetInt(p.fd, unix.TCFLSH, unix.TCIFLUSH)
	case ClearOutput:
		return unix.IoctlSetInt(p.fd, unix.TCFLSH, unix.TCOFLUSH)
	case ClearAll:
		return unix.IoctlSetInt(p.fd, unix.TCFLSH, unix.TCIOFLUSH)
	default:
		return fmt.Errorf("unknown buffer selector %d", which)
	}
}

// SetModemLines raises or lowers RTS and DTR; a nil pointer leaves the line alone.
func (p *linuxPort) SetModemLines(rts, dtr *bool) error {
	var set, unset int
	if rts != nil {
		if *rts {
			set |= unix.TIOCM_RTS
		} else {
			unset |= unix.TIOCM_RTS
		}
	}
	if dtr != nil {
		if *dtr {
			set |= unix.TIOCM_DTR
		} else {
			unset |= unix.TIOCM_DTR
		}
	}
	if set != 0 {
		if err := unix.IoctlSetPointerInt(p.fd, unix.TIOCMBIS, set); err != nil {
			return err
		}
	}
	if unset != 0 {
		if err := unix.IoctlSetPointerInt(p.fd, unix.TIOCMBIC, unset); err != nil {
			return err
		}
	}
	return nil
}

func (p *linuxPort) ModemLines() (ModemStatus, error) {
	bits, err := unix.IoctlGetInt(p.fd, unix.TIOCMGET)
	if err != nil {
		return ModemStatus{}, err
	}
	return ModemStatus{
		RTS: bits&unix.TIOCM_RTS != 0,
		DTR: bits&unix.TIOCM_DTR != 0,
		CTS: bits&unix.TIOCM_CTS != 0,
		DSR: bits&unix.TIOCM_DSR != 0,
		RI:  bits&unix.TIOCM_RI != 0,
		CD:  bits&unix.TIOCM_CD != 0,
	}, nil
}

func (p *linuxPort) SetBreak() error {
	return unix.IoctlSetInt(p.fd, unix.TIOCSBRK, 0)
}

func (p *linuxPort) ClearBreak() error {
	return unix.IoctlSetInt(p.fd, unix.TIOCCBRK, 0)
}

var baudRates = map[int]uint32{
	50:      unix.B50,
	75:      unix.B75,
	110:     unix.B110,
	134:     unix.B134,
	150:     unix.B150,
	200:     unix.B200,
	300:     unix.B300,
	600:     unix.B600,
	1200:    unix.B1200,
	1800:    unix.B1800,
	2400:    unix.B2400,
	4800:    unix.B4800,
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	500000:  unix.B500000,
	576000:  unix.B576000,
	921600:  unix.B921600,
	1000000: unix.B1000000,
	1152000: unix.B1152000,
	1500000: unix.B1500000,
	2000000: unix.B2000000,
	2500000: unix.B2500000,
	3000000: unix.B3000000,
	3500000: unix.B3500000,
	4000000: unix.B4000000,
}

var unixToBaud = func() map[uint32]int {
	m := make(map[uint32]int, len(baudRates))
	for rate, bits := range baudRates {
		m[bits] = rate
	}
	return m
}()

var dataBitsToUnix = map[DataBits]uint32{
	DataBits5: unix.CS5,
	DataBits6: unix.CS6,
	DataBits7: unix.CS7,
	DataBits8: unix.CS8,
}

func baudToUnix(baud int) (uint32, error) {
	if baud <= 0 {
		return 0, &ConfigurationError{Field: "baud rate", Value: baud, Reason: "must be positive"}
	}
	bits, ok := baudRates[baud]
	if !ok {
		return 0, &ConfigurationError{Field: "baud rate", Value: baud, Reason: "not supported by termios"}
	}
	return bits, nil
}
