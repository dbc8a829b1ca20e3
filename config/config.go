// Package config implements the configuration loader (SPEC_FULL.md §4.9):
// a YAML document parsed into the declarative record spec.md §6 describes,
// with pin-map conversion and validation.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode is the operating mode selected at startup.
type Mode string

const (
	ModeProduction Mode = "production"
	ModeEmulation  Mode = "emulation"
	ModeSimulation Mode = "simulation"
)

// normalizeMode maps spec.md §6's accepted aliases onto the three Modes.
func normalizeMode(s string) (Mode, error) {
	switch s {
	case "production", "prod":
		return ModeProduction, nil
	case "emulation", "em":
		return ModeEmulation, nil
	case "simulation", "sim":
		return ModeSimulation, nil
	default:
		return "", fmt.Errorf("config: unknown operating mode %q", s)
	}
}

// Interface is the load-port signal interface kind.
type Interface string

const (
	InterfaceParallel Interface = "parallel"
	InterfaceASCII    Interface = "ascii"
)

func normalizeInterface(s string) (Interface, error) {
	switch Interface(s) {
	case InterfaceParallel, InterfaceASCII:
		return Interface(s), nil
	default:
		return "", fmt.Errorf("config: unknown load-port interface %q", s)
	}
}

// PinMapRaw is the YAML-facing pin map: signal name to 1-8 board pin
// number, top-down, pin 1 most significant.
type PinMapRaw map[string]int

// PinMap is the resolved 0-7 bit-index form Load returns, built from
// PinMapRaw via the pin-map rule: bit = 8 - board_pin.
type PinMap map[string]int

func resolvePinMap(raw PinMapRaw, bank string) (PinMap, error) {
	resolved := make(PinMap, len(raw))
	seen := make(map[int]string, len(raw))
	for signal, boardPin := range raw {
		if boardPin < 1 || boardPin > 8 {
			return nil, fmt.Errorf("config: %s pin map: signal %s has board pin %d, want 1-8", bank, signal, boardPin)
		}
		bit := 8 - boardPin
		if other, dup := seen[bit]; dup {
			return nil, fmt.Errorf("config: %s pin map: signals %s and %s both map to bit %d", bank, other, signal, bit)
		}
		seen[bit] = signal
		resolved[signal] = bit
	}
	return resolved, nil
}

// Serial holds the serial-line load-port dialect's parameters.
type Serial struct {
	Port           string        `yaml:"port"`
	Baud           int           `yaml:"baud"`
	DataBits       int           `yaml:"data_bits"`
	Parity         string        `yaml:"parity"`
	StopBits       int           `yaml:"stop_bits"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	CommandRetries int           `yaml:"command_retries"`
}

// I2C holds the port-expander's bus parameters.
type I2C struct {
	Bus     string `yaml:"bus"`
	Address uint16 `yaml:"address"`
}

// Simulation holds the signal-simulator parameters used in Simulation and
// Emulation modes.
type Simulation struct {
	AutoRespond        bool            `yaml:"auto_respond"`
	RandomErrorRate    float64         `yaml:"random_error_rate"`
	ResponseDelay      time.Duration   `yaml:"response_delay"`
	InitialSignalState map[string]bool `yaml:"initial_signal_state"`
}

// Logging holds the log destination and rotation policy.
type Logging struct {
	File       string `yaml:"file"`
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Timeouts holds the five per-state timeout durations TP1-TP5.
type Timeouts struct {
	TP1 time.Duration `yaml:"tp1"`
	TP2 time.Duration `yaml:"tp2"`
	TP3 time.Duration `yaml:"tp3"`
	TP4 time.Duration `yaml:"tp4"`
	TP5 time.Duration `yaml:"tp5"`
}

// rawConfig is the literal YAML document shape, before mode/interface
// normalization and pin-map resolution.
type rawConfig struct {
	Mode       string               `yaml:"mode"`
	Interface  string               `yaml:"interface"`
	DIODevice  string               `yaml:"dio_device"`
	InputPins  PinMapRaw            `yaml:"input_pins"`
	OutputPins PinMapRaw            `yaml:"output_pins"`
	I2C        I2C                  `yaml:"i2c"`
	Serial     Serial               `yaml:"serial"`
	Simulation Simulation           `yaml:"simulation"`
	PollPeriod time.Duration        `yaml:"poll_period"`
	Logging    Logging              `yaml:"logging"`
	Timeouts   Timeouts             `yaml:"timeouts"`
}

// Config is the fully-resolved, validated configuration record.
type Config struct {
	Mode       Mode
	Interface  Interface
	DIODevice  string
	InputPins  PinMap
	OutputPins PinMap
	I2C        I2C
	Serial     Serial
	Simulation Simulation
	PollPeriod time.Duration
	Logging    Logging
	Timeouts   Timeouts
}

// Default returns the documented defaults suitable for Simulation mode,
// used when no --config flag is given.
func Default() Config {
	return Config{
		Mode:       ModeSimulation,
		Interface:  InterfaceParallel,
		InputPins:  PinMap{},
		OutputPins: PinMap{},
		Simulation: Simulation{
			AutoRespond:     true,
			RandomErrorRate: 0,
			ResponseDelay:   100 * time.Millisecond,
		},
		PollPeriod: 100 * time.Millisecond,
		Logging: Logging{
			File:       "e84-controller.log",
			Level:      "INFO",
			MaxSizeMB:  10,
			MaxAgeDays: 7,
			Compress:   true,
		},
		Timeouts: Timeouts{
			TP1: 2 * time.Second,
			TP2: 2 * time.Second,
			TP3: 60 * time.Second,
			TP4: 60 * time.Second,
			TP5: 2 * time.Second,
		},
	}
}

// Load reads and validates the YAML document at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse validates and resolves a YAML document already read into memory.
func Parse(data []byte) (Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}

	mode, err := normalizeMode(raw.Mode)
	if err != nil {
		return Config{}, err
	}
	iface, err := normalizeInterface(raw.Interface)
	if err != nil {
		return Config{}, err
	}
	inputPins, err := resolvePinMap(raw.InputPins, "input")
	if err != nil {
		return Config{}, err
	}
	outputPins, err := resolvePinMap(raw.OutputPins, "output")
	if err != nil {
		return Config{}, err
	}

	return Config{
		Mode:       mode,
		Interface:  iface,
		DIODevice:  raw.DIODevice,
		InputPins:  inputPins,
		OutputPins: outputPins,
		I2C:        raw.I2C,
		Serial:     raw.Serial,
		Simulation: raw.Simulation,
		PollPeriod: raw.PollPeriod,
		Logging:    raw.Logging,
		Timeouts:   raw.Timeouts,
	}, nil
}
