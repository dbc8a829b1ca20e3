package iobridge

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"

	e84 "github.com/semiline/e84bridge"
)

// PinMap names, per E84 signal, the periph.io pin to bind it to (e.g.
// "GPIO17"), the same naming gpioreg.ByName resolves in tclogger's i2creg
// wiring.
type PinMap map[e84.Name]string

// GPIODriver implements Hardware for the eleven direct-wired E84 core
// signals (the six active inputs and five passive outputs). Load-port
// per-port signals go through Expander instead, since on this board they
// sit behind an I2C port expander rather than direct GPIO.
type GPIODriver struct {
	inputs  map[e84.Name]gpio.PinIO
	outputs map[e84.Name]gpio.PinIO
}

// NewGPIODriver resolves every pin named in inputMap and outputMap and
// configures it for its direction. Callers must have already run
// periph.io/x/host/v3's host.Init() so gpioreg has pins registered.
func NewGPIODriver(inputMap, outputMap PinMap) (*GPIODriver, error) {
	d := &GPIODriver{
		inputs:  make(map[e84.Name]gpio.PinIO, len(inputMap)),
		outputs: make(map[e84.Name]gpio.PinIO, len(outputMap)),
	}
	for name, pinName := range inputMap {
		p := gpioreg.ByName(pinName)
		if p == nil {
			return nil, fmt.Errorf("iobridge: unknown gpio pin %q for signal %s", pinName, name)
		}
		if err := p.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
			return nil, fmt.Errorf("iobridge: configure %s as input: %w", pinName, err)
		}
		d.inputs[name] = p
	}
	for name, pinName := range outputMap {
		p := gpioreg.ByName(pinName)
		if p == nil {
			return nil, fmt.Errorf("iobridge: unknown gpio pin %q for signal %s", pinName, name)
		}
		d.outputs[name] = p
	}
	return d, nil
}

// ReadInputs reads every bound input pin. A pin reads High for an asserted
// (true) signal.
func (d *GPIODriver) ReadInputs() (map[e84.Name]bool, error) {
	out := make(map[e84.Name]bool, len(d.inputs))
	for name, p := range d.inputs {
		out[name] = p.Read() == gpio.High
	}
	return out, nil
}

// WriteOutputs drives every named, bound output pin to the given level.
// Names with no bound pin are ignored, so a driver configured for only a
// subset of signals (e.g. just the load-port lines) can share the Hardware
// interface with one configured for all five.
func (d *GPIODriver) WriteOutputs(values map[e84.Name]bool) error {
	for name, v := range values {
		p, ok := d.outputs[name]
		if !ok {
			continue
		}
		lvl := gpio.Low
		if v {
			lvl = gpio.High
		}
		if err := p.Out(lvl); err != nil {
			return &e84.TransportError{Op: "gpio_write:" + string(name), Err: err}
		}
	}
	return nil
}
