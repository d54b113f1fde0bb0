//go:build linux

package serial

import (
	"github.com/creack/pty"
)

// Pair opens a pseudo-terminal and returns both ends as connected Streams:
// bytes written to one are read from the other. Line settings come from
// cfg (its Path is ignored); pass New("") for 9600-8N1 defaults. A PTY
// always behaves as 8 data bits without parity.
func Pair(cfg Config) (*Stream, *Stream, error) {
	cfg = cfg.normalize()
	if cfg.BaudRate <= 0 {
		return nil, nil, &ConfigurationError{Field: "baud rate", Value: cfg.BaudRate, Reason: "must be positive"}
	}

	master, slave, err := pty.Open()
	if err != nil {
		return nil, nil, &OpenError{Path: "/dev/ptmx", Err: err}
	}
	slaveName := slave.Name()

	slaveCfg := cfg
	slaveCfg.Path = slaveName
	slaveCfg.Exclusive = false
	sp, err := portFromFile(slave, slaveCfg)
	if err != nil {
		master.Close()
		return nil, nil, err
	}

	masterCfg := cfg
	masterCfg.Path = master.Name()
	masterCfg.Exclusive = false
	mp, err := portFromFile(master, masterCfg)
	if err != nil {
		sp.Close()
		return nil, nil, err
	}

	a, err := wrapRawPort(mp, masterCfg)
	if err != nil {
		mp.Close()
		sp.Close()
		return nil, nil, err
	}
	b, err := wrapRawPort(sp, slaveCfg)
	if err != nil {
		a.Close()
		sp.Close()
		return nil, nil, err
	}
	return a, b, nil
}
