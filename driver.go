package serial

// Driver opens serial devices. The platform driver is used unless
// Config.WithDriver supplies another one.
type Driver interface {
	// Open returns a non-blocking handle with every line setting of cfg
	// applied, or an error with nothing left open.
	Open(cfg Config) (RawPort, error)
}

// RawPort is an open, non-blocking device handle. Read and Write return
// ErrWouldBlock when the call would have to wait.
type RawPort interface {
	Fd() int
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	// SetConfig applies new line settings. On error the previous settings
	// remain in effect.
	SetConfig(cfg Config) error
	Close() error
}

// ConfigReader is implemented by ports that can report the line settings
// currently applied to the device.
type ConfigReader interface {
	ReadConfig() (Config, error)
}

// ClearBuffer selects which kernel queue Clear discards.
type ClearBuffer int

const (
	ClearInput ClearBuffer = iota
	ClearOutput
	ClearAll
)

// LineController is implemented by ports that expose queue and modem-line control.
type LineController interface {
	BytesToRead() (int, error)
	BytesToWrite() (int, error)
	Clear(which ClearBuffer) error
	SetModemLines(rts, dtr *bool) error
	ModemLines() (ModemStatus, error)
	SetBreak() error
	ClearBreak() error
}

// ModemStatus is a snapshot of the modem control lines.
type ModemStatus struct {
	RTS, DTR, CTS, DSR, RI, CD bool
}
