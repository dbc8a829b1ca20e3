// Package iobridge implements the I/O Bridge (SPEC_FULL.md §4.7/§4.11): the
// component that mirrors the Signal Bus onto real hardware in Production and
// Emulation modes.
// It owns no handoff logic of its own — it only keeps physical pins and bus
// signals in sync, the way tclogger's main wires a physical transceiver
// behind a protocol engine that never touches hardware directly.
package iobridge

import (
	"context"
	"time"

	e84 "github.com/semiline/e84bridge"
	"github.com/semiline/e84bridge/bus"
)

// Hardware is the narrow contract a concrete driver (GPIO, I2C expander, or
// a composite of both) must satisfy. It knows nothing about E84 semantics;
// it only maps named signals onto physical lines.
type Hardware interface {
	ReadInputs() (map[e84.Name]bool, error)
	WriteOutputs(values map[e84.Name]bool) error
}

// Bus is the subset of *bus.Bus the bridge reads, writes and watches.
type Bus interface {
	Get(name e84.Name) (bool, error)
	Set(name e84.Name, v bool) error
	Watch(name e84.Name, source string, w bus.Watcher) error
	Unwatch(name e84.Name, source string) error
}

// Bridge polls Hardware for input changes on a fixed period and mirrors
// every passive-output write straight through to Hardware via a bus watcher.
type Bridge struct {
	bus    Bus
	hw     Hardware
	period time.Duration
	log    e84.Logger
}

// New builds a Bridge. period is the input-polling interval; the configured
// poll period defaults to 100ms (config.Default).
func New(b Bus, hw Hardware, period time.Duration, log e84.Logger) *Bridge {
	if log == nil {
		log = e84.NopLogger{}
	}
	return &Bridge{bus: b, hw: hw, period: period, log: log}
}

// Start performs the startup sequence: publish the hardware's current input
// state into the bus, then push the bus's current passive-output values out
// to hardware, then register the output-mirroring watchers. Call it once
// before Run.
func (br *Bridge) Start() error {
	in, err := br.hw.ReadInputs()
	if err != nil {
		return &e84.TransportError{Op: "iobridge_start_read", Err: err}
	}
	for name, v := range in {
		_ = br.bus.Set(name, v)
	}

	out := make(map[e84.Name]bool, len(e84.PassiveOutputs()))
	for _, name := range e84.PassiveOutputs() {
		v, _ := br.bus.Get(name)
		out[name] = v
	}
	if err := br.hw.WriteOutputs(out); err != nil {
		return &e84.TransportError{Op: "iobridge_start_write", Err: err}
	}

	for _, name := range e84.PassiveOutputs() {
		_ = br.bus.Watch(name, "iobridge", func(n e84.Name, newV, _ bool) {
			if err := br.hw.WriteOutputs(map[e84.Name]bool{n: newV}); err != nil {
				br.log.Error("iobridge: output mirror failed", e84.Str("signal", string(n)), e84.Err(err))
			}
		})
	}
	return nil
}

// Run polls hardware inputs every period and writes changed values into the
// bus, until ctx is cancelled. On cancellation it runs the shutdown sequence
// before returning: every output line is driven to its safe state.
func (br *Bridge) Run(ctx context.Context) {
	ticker := time.NewTicker(br.period)
	defer ticker.Stop()

	prev := map[e84.Name]bool{}
	for {
		select {
		case <-ctx.Done():
			br.shutdown()
			return
		case <-ticker.C:
			in, err := br.hw.ReadInputs()
			if err != nil {
				br.log.Error("iobridge: input poll failed", e84.Err(err))
				continue
			}
			for name, v := range in {
				if old, ok := prev[name]; !ok || old != v {
					if err := br.bus.Set(name, v); err != nil {
						br.log.Error("iobridge: bus set failed", e84.Str("signal", string(name)), e84.Err(err))
					}
				}
			}
			prev = in
		}
	}
}

// shutdown drives every passive output to its safe value before the caller
// releases hardware handles: L_REQ, U_REQ and READY fall; HO_AVBL and ES
// return to their idle-true defaults so an AGV never sees a stale handoff.
func (br *Bridge) shutdown() {
	safe := map[e84.Name]bool{
		e84.LReq:   false,
		e84.UReq:   false,
		e84.Ready:  false,
		e84.HoAvbl: true,
		e84.ES:     true,
	}
	if err := br.hw.WriteOutputs(safe); err != nil {
		br.log.Error("iobridge: shutdown write failed", e84.Err(err))
	}
	for _, name := range e84.PassiveOutputs() {
		_ = br.bus.Unwatch(name, "iobridge")
	}
}
