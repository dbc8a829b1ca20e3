// Command e84ctl is the E84 parallel-I/O handoff controller daemon: it
// wires the Signal Bus, Load-Port Adapters, Handshake State Machines,
// Arbiter, Controller and I/O Bridge together and runs the poll loop until
// an OS signal requests shutdown.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	e84 "github.com/semiline/e84bridge"
	"github.com/semiline/e84bridge/arbiter"
	"github.com/semiline/e84bridge/bus"
	"github.com/semiline/e84bridge/config"
	"github.com/semiline/e84bridge/controller"
	"github.com/semiline/e84bridge/handshake"
	"github.com/semiline/e84bridge/iobridge"
	"github.com/semiline/e84bridge/logging"
	"github.com/semiline/e84bridge/port"
	"github.com/semiline/e84bridge/sim"
)

var (
	flagConfig     string
	flagMode       string
	flagInterface  string
	flagSerialPort string
	flagLogLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "e84ctl",
	Short: "SEMI E84 parallel-I/O handoff controller",
	RunE:  run,
}

func main() {
	rootCmd.Flags().StringVar(&flagConfig, "config", "", "path to a YAML configuration file")
	rootCmd.Flags().StringVar(&flagMode, "mode", "", "operating mode: production|prod, emulation|em, simulation|sim")
	rootCmd.Flags().StringVar(&flagInterface, "interface", "", "load-port interface: parallel, ascii")
	rootCmd.Flags().StringVar(&flagSerialPort, "serial-port", "", "serial device path for the ascii interface")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "", "DEBUG, INFO, WARNING, ERROR, CRITICAL")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg := config.Default()
	if flagConfig != "" {
		loaded, err := config.Load(flagConfig)
		if err != nil {
			return fmt.Errorf("e84ctl: %w", err)
		}
		cfg = loaded
	}
	if flagMode != "" {
		mode, err := normalizeModeFlag(flagMode)
		if err != nil {
			return fmt.Errorf("e84ctl: %w", err)
		}
		cfg.Mode = mode
	}
	if flagInterface != "" {
		cfg.Interface = config.Interface(flagInterface)
	}
	if flagSerialPort != "" {
		cfg.Serial.Port = flagSerialPort
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}

	log, err := logging.New(cfg.Logging.Level, logging.FileConfig{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("e84ctl: %w", err)
	}

	handshake.ConfigureTimeouts(cfg.Timeouts.TP1, cfg.Timeouts.TP2, cfg.Timeouts.TP3, cfg.Timeouts.TP4, cfg.Timeouts.TP5)

	b := bus.New(log)
	a0, a1 := port.New(b, 0), port.New(b, 1)
	m0 := handshake.New(0, b, a0, log)
	m1 := handshake.New(1, b, a1, log)
	arb := arbiter.New(b, m0, m1, log)
	ctl := controller.New(b, m0, m1, a0, a1, arb, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := startHardware(ctx, cfg, b, ctl, log); err != nil {
		return fmt.Errorf("e84ctl: %w", err)
	}

	log.Info("e84ctl: started", e84.Str("mode", string(cfg.Mode)), e84.Str("interface", string(cfg.Interface)))
	pollLoop(ctx, cfg.PollPeriod, ctl, log)
	ctl.FullReset(time.Now())
	log.Info("e84ctl: stopped")
	return nil
}

func normalizeModeFlag(s string) (config.Mode, error) {
	switch s {
	case "production", "prod":
		return config.ModeProduction, nil
	case "emulation", "em":
		return config.ModeEmulation, nil
	case "simulation", "sim":
		return config.ModeSimulation, nil
	default:
		return "", fmt.Errorf("unknown --mode %q", s)
	}
}

// startHardware wires the I/O bridge and simulators appropriate for
// cfg.Mode, and starts their background workers under ctx. cfg.Interface is
// not consulted and the serial dialect is not wired here: the ascii
// interface takes the same path as parallel.
func startHardware(ctx context.Context, cfg config.Config, b *bus.Bus, ctl *controller.Controller, log e84.Logger) error {
	switch cfg.Mode {
	case config.ModeSimulation:
		startSimulators(ctx, cfg, b, ctl, log)
		return nil
	case config.ModeProduction, config.ModeEmulation:
		// The direct-GPIO driver for the six active inputs and five passive
		// outputs is built with no pins bound, so it reads and writes
		// nothing; the per-port load-port signals are read through an I2C
		// port expander, per cfg.InputPins' bit map.
		if _, err := host.Init(); err != nil {
			return fmt.Errorf("periph host init: %w", err)
		}
		sources := []iobridge.Hardware{}

		gpioDriver, err := iobridge.NewGPIODriver(nil, nil) // core signal pin names: no direct-GPIO board in cfg yet
		if err != nil {
			return err
		}
		sources = append(sources, gpioDriver)

		if len(cfg.InputPins) > 0 {
			bus2, err := i2creg.Open(cfg.I2C.Bus)
			if err != nil {
				return fmt.Errorf("i2c open %q: %w", cfg.I2C.Bus, err)
			}
			dev := &i2c.Dev{Addr: cfg.I2C.Address, Bus: bus2}
			expDriver, err := iobridge.NewExpanderDriver(iobridge.NewExpander(dev), namePinMap(cfg.InputPins))
			if err != nil {
				return fmt.Errorf("expander driver: %w", err)
			}
			sources = append(sources, expDriver)
		}

		hw := iobridge.Hardware(iobridge.NewComposite(sources...))
		if cfg.Mode == config.ModeEmulation {
			startSimulators(ctx, cfg, b, ctl, log)
		}
		br := iobridge.New(b, hw, cfg.PollPeriod, log)
		if err := br.Start(); err != nil {
			return err
		}
		go br.Run(ctx)
		return nil
	default:
		return fmt.Errorf("unhandled operating mode %q", cfg.Mode)
	}
}

// namePinMap re-keys a config.PinMap (YAML signal names) to e84.Name for
// ExpanderDriver's binding table.
func namePinMap(m config.PinMap) map[e84.Name]int {
	out := make(map[e84.Name]int, len(m))
	for name, bit := range m {
		out[e84.Name(name)] = bit
	}
	return out
}

func startSimulators(ctx context.Context, cfg config.Config, b *bus.Bus, ctl *controller.Controller, log e84.Logger) {
	if cfg.Simulation.AutoRespond {
		ar := sim.NewAutoResponder(b, cfg.Simulation.ResponseDelay, ctl.Selected, log)
		if err := ar.Start(); err != nil {
			log.Error("e84ctl: auto-responder start failed", e84.Err(err))
		}
	}
	if cfg.Simulation.RandomErrorRate > 0 {
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		inj := sim.NewErrorInjector(b, cfg.Simulation.RandomErrorRate, cfg.PollPeriod, rng, log)
		go inj.Run(ctx)
	}
}

func pollLoop(ctx context.Context, period time.Duration, ctl *controller.Controller, log e84.Logger) {
	if period <= 0 {
		period = 100 * time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ctl.PollCycle(time.Now()); err != nil {
				log.Error("e84ctl: poll cycle error", e84.Err(err))
			}
		}
	}
}
