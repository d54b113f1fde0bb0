package serial

import (
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := New("/dev/ttyUSB0")
	require.Equal(t, "/dev/ttyUSB0", cfg.Path)
	require.Equal(t, 9600, cfg.BaudRate)
	require.Equal(t, DataBits8, cfg.DataBits)
	require.Equal(t, ParityNone, cfg.Parity)
	require.Equal(t, StopBitsOne, cfg.StopBits)
	require.Equal(t, FlowControlNone, cfg.FlowControl)
	require.Zero(t, cfg.Timeout)
	require.NoError(t, cfg.Validate())
	require.Equal(t, "/dev/ttyUSB0@9600-8N1", cfg.String())
}

func TestConfig_SettersArePure(t *testing.T) {
	base := New("/dev/ttyS0")
	changed := base.
		WithBaudRate(115200).
		WithDataBits(DataBits7).
		WithParity(ParityEven).
		WithStopBits(StopBitsTwo).
		WithFlowControl(FlowControlHardware).
		WithTimeout(time.Second).
		WithExclusive(false)

	require.Equal(t, 9600, base.BaudRate)
	require.Equal(t, ParityNone, base.Parity)
	require.True(t, base.Exclusive)

	require.Equal(t, 115200, changed.BaudRate)
	require.Equal(t, DataBits7, changed.DataBits)
	require.Equal(t, ParityEven, changed.Parity)
	require.Equal(t, StopBitsTwo, changed.StopBits)
	require.Equal(t, FlowControlHardware, changed.FlowControl)
	require.Equal(t, time.Second, changed.Timeout)
	require.False(t, changed.Exclusive)
	require.Equal(t, "/dev/ttyS0@115200-7E2", changed.String())
}

func TestConfig_ZeroValueNeedsOnlyPath(t *testing.T) {
	cfg := Config{Path: "/dev/ttyS1", BaudRate: 9600}
	require.NoError(t, cfg.Validate())
	require.True(t, cfg.LineSettings(New("/dev/other")))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		field string
	}{
		{"zero baud", New("/dev/x").WithBaudRate(0), "baud rate"},
		{"negative baud", New("/dev/x").WithBaudRate(-9600), "baud rate"},
		{"data bits", New("/dev/x").WithDataBits(4), "data bits"},
		{"parity", New("/dev/x").WithParity(Parity(7)), "parity"},
		{"stop bits", New("/dev/x").WithStopBits(StopBits(3)), "stop bits"},
		{"flow control", New("/dev/x").WithFlowControl(FlowControl(9)), "flow control"},
		{"timeout", New("/dev/x").WithTimeout(-time.Second), "timeout"},
		{"path", New(""), "path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfgErr *ConfigurationError
			require.ErrorAs(t, tt.cfg.Validate(), &cfgErr)
			require.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestConfig_OpenZeroBaudHasNoSideEffects(t *testing.T) {
	driver := &fakeDriver{port: newFakePort(nil)}
	reactor := newFakeReactor(nil)

	s, err := New("/dev/fake0").WithBaudRate(0).WithDriver(driver).WithReactor(reactor).Open()
	require.Nil(t, s)
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	require.Zero(t, driver.opens, "driver never touched")
	require.Empty(t, reactor.entries)
}

func TestConfig_OpenErrorPassesThrough(t *testing.T) {
	driver := &fakeDriver{err: &OpenError{Path: "/dev/missing", Err: syscall.ENOENT}}
	_, err := New("/dev/missing").WithDriver(driver).WithReactor(newFakeReactor(nil)).Open()
	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	require.ErrorIs(t, err, syscall.ENOENT)
}

func TestConfig_RegistrationFailureReleasesPort(t *testing.T) {
	port := newFakePort(nil)
	reactor := newFakeReactor(nil)
	reactor.registerErr = errors.New("too many descriptors")

	_, err := New("/dev/fake0").WithDriver(&fakeDriver{port: port}).WithReactor(reactor).Open()
	var regErr *RegistrationError
	require.ErrorAs(t, err, &regErr)
	require.Equal(t, 42, regErr.Fd)
	require.True(t, port.closed, "no descriptor left open")
}

func TestConfig_DuplicateRegistration(t *testing.T) {
	reactor := newFakeReactor(nil)
	first, err := New("/dev/fake0").WithDriver(&fakeDriver{port: newFakePort(nil)}).WithReactor(reactor).Open()
	require.NoError(t, err)
	t.Cleanup(func() { first.Close() })

	second := newFakePort(nil)
	_, err = New("/dev/fake0").WithDriver(&fakeDriver{port: second}).WithReactor(reactor).Open()
	var regErr *RegistrationError
	require.ErrorAs(t, err, &regErr)
	require.True(t, second.closed)
}

func TestConfig_OpenLogs(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s, _, _, _, err := openFake(New("/dev/fake0").WithLogger(zap.New(core)))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, "Serial port opened successfully", entries[0].Message)
	require.Equal(t, "/dev/fake0", entries[0].ContextMap()["port"])
	require.Equal(t, "Serial port closed", entries[1].Message)
}
