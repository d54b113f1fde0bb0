// Package config loads port and logging settings from a YAML file and
// ASYNC_SERIAL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	serial "github.com/luhtfiimanal/go-async-serial"
)

// EnvPrefix is prepended to every environment override, e.g.
// ASYNC_SERIAL_PORT_BAUD_RATE.
const EnvPrefix = "ASYNC_SERIAL"

// File is the decoded configuration file.
type File struct {
	Port    PortConfig    `mapstructure:"port"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// PortConfig represents serial port configuration
type PortConfig struct {
	Path        string        `mapstructure:"path"`
	BaudRate    int           `mapstructure:"baud_rate"`
	DataBits    int           `mapstructure:"data_bits"`
	Parity      string        `mapstructure:"parity"`
	StopBits    int           `mapstructure:"stop_bits"`
	FlowControl string        `mapstructure:"flow_control"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Exclusive   bool          `mapstructure:"exclusive"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// Load reads the file at path and applies environment overrides. An empty
// path skips the file and uses defaults plus environment only.
func Load(path string) (*File, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&f); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &f, nil
}

// setDefaults registers every key so AutomaticEnv can override keys the file omits.
func setDefaults(v *viper.Viper) {
	v.SetDefault("port.path", "")
	v.SetDefault("port.baud_rate", serial.DefaultBaudRate)
	v.SetDefault("port.data_bits", 8)
	v.SetDefault("port.parity", "none")
	v.SetDefault("port.stop_bits", 1)
	v.SetDefault("port.flow_control", "none")
	v.SetDefault("port.timeout", "0s")
	v.SetDefault("port.exclusive", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)
}

var (
	validLevels  = []string{"debug", "info", "warn", "error", "fatal"}
	validFormats = []string{"json", "console"}
)

func validate(f *File) error {
	if f.Port.Path == "" {
		return errors.New("port.path is required")
	}
	if _, err := f.Serial(); err != nil {
		return err
	}
	if !slices.Contains(validLevels, f.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}
	if !slices.Contains(validFormats, f.Logging.Format) {
		return fmt.Errorf("logging.format must be one of: %v", validFormats)
	}
	return nil
}

// Serial converts the port section into a serial.Config.
func (f *File) Serial() (serial.Config, error) {
	p := f.Port
	cfg := serial.New(p.Path).
		WithBaudRate(p.BaudRate).
		WithDataBits(serial.DataBits(p.DataBits)).
		WithTimeout(p.Timeout).
		WithExclusive(p.Exclusive)

	switch strings.ToLower(p.Parity) {
	case "", "none", "n":
		cfg = cfg.WithParity(serial.ParityNone)
	case "odd", "o":
		cfg = cfg.WithParity(serial.ParityOdd)
	case "even", "e":
		cfg = cfg.WithParity(serial.ParityEven)
	default:
		return serial.Config{}, fmt.Errorf("port.parity must be one of: [none odd even], got %q", p.Parity)
	}

	switch p.StopBits {
	case 1:
		cfg = cfg.WithStopBits(serial.StopBitsOne)
	case 2:
		cfg = cfg.WithStopBits(serial.StopBitsTwo)
	default:
		return serial.Config{}, fmt.Errorf("port.stop_bits must be 1 or 2, got %d", p.StopBits)
	}

	switch strings.ToLower(p.FlowControl) {
	case "", "none":
		cfg = cfg.WithFlowControl(serial.FlowControlNone)
	case "software", "xonxoff":
		cfg = cfg.WithFlowControl(serial.FlowControlSoftware)
	case "hardware", "rtscts":
		cfg = cfg.WithFlowControl(serial.FlowControlHardware)
	default:
		return serial.Config{}, fmt.Errorf("port.flow_control must be one of: [none software hardware], got %q", p.FlowControl)
	}

	if err := cfg.Validate(); err != nil {
		return serial.Config{}, err
	}
	return cfg, nil
}
