package serial

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DataBits is the number of data bits per character.
type DataBits int

const (
	DataBits5 DataBits = 5
	DataBits6 DataBits = 6
	DataBits7 DataBits = 7
	DataBits8 DataBits = 8
)

// Parity selects the parity checking mode.
type Parity int

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
)

// String returns the N/O/E letter used in line summaries.
func (p Parity) String() string {
	switch p {
	case ParityNone:
		return "N"
	case ParityOdd:
		return "O"
	case ParityEven:
		return "E"
	default:
		return fmt.Sprintf("Parity(%d)", int(p))
	}
}

// StopBits selects the number of stop bits.
type StopBits int

const (
	StopBitsOne StopBits = iota
	StopBitsTwo
)

// String returns "1" or "2".
func (s StopBits) String() string {
	switch s {
	case StopBitsOne:
		return "1"
	case StopBitsTwo:
		return "2"
	default:
		return fmt.Sprintf("StopBits(%d)", int(s))
	}
}

// FlowControl selects the flow control mode.
type FlowControl int

const (
	FlowControlNone FlowControl = iota
	FlowControlSoftware
	FlowControlHardware
)

// String returns the lowercase mode name.
func (f FlowControl) String() string {
	switch f {
	case FlowControlNone:
		return "none"
	case FlowControlSoftware:
		return "software"
	case FlowControlHardware:
		return "hardware"
	default:
		return fmt.Sprintf("FlowControl(%d)", int(f))
	}
}

// DefaultBaudRate is used by New.
const DefaultBaudRate = 9600

// Config describes a serial port and the line settings to apply when opening it.
// Build one with New and the With* setters; every setter returns a modified copy.
type Config struct {
	Path        string
	BaudRate    int
	DataBits    DataBits
	Parity      Parity
	StopBits    StopBits
	FlowControl FlowControl
	// Timeout is handed to the driver as VTIME. It never suspends a poll call.
	Timeout time.Duration
	// Exclusive requests TIOCEXCL so no other process can open the device.
	Exclusive bool

	logger  *zap.Logger
	reactor Reactor
	driver  Driver
}

// New returns a 9600-8N1 configuration without flow control for path.
func New(path string) Config {
	return Config{
		Path:        path,
		BaudRate:    DefaultBaudRate,
		DataBits:    DataBits8,
		Parity:      ParityNone,
		StopBits:    StopBitsOne,
		FlowControl: FlowControlNone,
		Exclusive:   true,
	}
}

// WithBaudRate sets the baud rate.
func (c Config) WithBaudRate(baud int) Config {
	c.BaudRate = baud
	return c
}

// WithDataBits sets the character size.
func (c Config) WithDataBits(bits DataBits) Config {
	c.DataBits = bits
	return c
}

// WithParity sets the parity mode.
func (c Config) WithParity(parity Parity) Config {
	c.Parity = parity
	return c
}

// WithStopBits sets the number of stop bits.
func (c Config) WithStopBits(bits StopBits) Config {
	c.StopBits = bits
	return c
}

// WithFlowControl sets the flow control mode.
func (c Config) WithFlowControl(flow FlowControl) Config {
	c.FlowControl = flow
	return c
}

// WithTimeout sets the driver read timeout.
func (c Config) WithTimeout(d time.Duration) Config {
	c.Timeout = d
	return c
}

// WithExclusive toggles TIOCEXCL on open.
func (c Config) WithExclusive(exclusive bool) Config {
	c.Exclusive = exclusive
	return c
}

// WithLogger sets the logger used by the opened Stream. Defaults to a no-op logger.
func (c Config) WithLogger(logger *zap.Logger) Config {
	c.logger = logger
	return c
}

// WithReactor registers the opened port with r instead of DefaultReactor.
func (c Config) WithReactor(r Reactor) Config {
	c.reactor = r
	return c
}

// WithDriver opens the port through d instead of the platform driver.
func (c Config) WithDriver(d Driver) Config {
	c.driver = d
	return c
}

// normalize fills zero-valued fields with their defaults.
func (c Config) normalize() Config {
	if c.DataBits == 0 {
		c.DataBits = DataBits8
	}
	return c
}

// Validate checks the parameters every driver must reject. Drivers may
// refuse more (for example a baud rate missing from their table).
func (c Config) Validate() error {
	c = c.normalize()
	if c.Path == "" {
		return &ConfigurationError{Field: "path", Value: c.Path, Reason: "empty"}
	}
	if c.BaudRate <= 0 {
		return &ConfigurationError{Field: "baud rate", Value: c.BaudRate, Reason: "must be positive"}
	}
	if c.DataBits < DataBits5 || c.DataBits > DataBits8 {
		return &ConfigurationError{Field: "data bits", Value: int(c.DataBits), Reason: "must be 5, 6, 7 or 8"}
	}
	switch c.Parity {
	case ParityNone, ParityOdd, ParityEven:
	default:
		return &ConfigurationError{Field: "parity", Value: int(c.Parity)}
	}
	switch c.StopBits {
	case StopBitsOne, StopBitsTwo:
	default:
		return &ConfigurationError{Field: "stop bits", Value: int(c.StopBits)}
	}
	switch c.FlowControl {
	case FlowControlNone, FlowControlSoftware, FlowControlHardware:
	default:
		return &ConfigurationError{Field: "flow control", Value: int(c.FlowControl)}
	}
	if c.Timeout < 0 {
		return &ConfigurationError{Field: "timeout", Value: c.Timeout, Reason: "must not be negative"}
	}
	return nil
}

// LineSettings reports whether c and o describe the same line parameters.
func (c Config) LineSettings(o Config) bool {
	c, o = c.normalize(), o.normalize()
	return c.BaudRate == o.BaudRate &&
		c.DataBits == o.DataBits &&
		c.Parity == o.Parity &&
		c.StopBits == o.StopBits &&
		c.FlowControl == o.FlowControl
}

// String renders a summary such as /dev/ttyS0@9600-8N1.
func (c Config) String() string {
	c = c.normalize()
	return fmt.Sprintf("%s@%d-%d%s%s", c.Path, c.BaudRate, int(c.DataBits), c.Parity, c.StopBits)
}

// Open validates c, opens the device with every setting applied, and
// registers it with the reactor. Either a fully configured Stream is
// returned or nothing stays open.
func (c Config) Open() (*Stream, error) {
	c = c.normalize()
	if err := c.Validate(); err != nil {
		c.scopedLogger().Error("Invalid serial port configuration", zap.Error(err))
		return nil, err
	}

	driver := c.driver
	if driver == nil {
		driver = defaultDriver
	}
	raw, err := driver.Open(c)
	if err != nil {
		c.scopedLogger().Error("Failed to open serial port", zap.Error(err))
		return nil, err
	}

	s, err := wrapRawPort(raw, c)
	if err != nil {
		raw.Close()
		return nil, err
	}
	return s, nil
}

func (c Config) scopedLogger() *zap.Logger {
	logger := c.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger.With(zap.String("port", c.Path))
}

// wrapRawPort registers an already open port and returns its Stream.
func wrapRawPort(raw RawPort, c Config) (*Stream, error) {
	logger := c.scopedLogger()

	reactor := c.reactor
	if reactor == nil {
		r, err := DefaultReactor()
		if err != nil {
			return nil, &RegistrationError{Fd: raw.Fd(), Err: err}
		}
		reactor = r
	}
	reg, err := Register(raw, reactor)
	if err != nil {
		logger.Error("Failed to register serial port", zap.Error(err))
		return nil, err
	}

	logger.Info("Serial port opened successfully",
		zap.Int("baud_rate", c.BaudRate),
		zap.String("line", c.String()),
	)
	return newStream(raw, reg, c, logger), nil
}
