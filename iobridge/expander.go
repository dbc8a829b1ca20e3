package iobridge

import (
	"fmt"

	e84 "github.com/semiline/e84bridge"
)

// TCA9535 register addresses (input, output and configuration-direction
// registers for each of its two 8-bit banks). Matches the address map of
// the TCA9535-class expander this controller's parallel load-port signals
// sit behind.
const (
	regInputPort0  = 0x00
	regInputPort1  = 0x01
	regOutputPort0 = 0x02
	regOutputPort1 = 0x03
	regConfigPort0 = 0x06
	regConfigPort1 = 0x07
)

// i2cBus is the narrow transaction contract an I2C expander needs. A
// *i2c.Dev from periph.io/x/conn/v3/i2c satisfies it structurally, so
// production code wires a real periph.io bus in without this package
// importing periph's i2c types directly.
type i2cBus interface {
	Tx(w, r []byte) error
}

// Expander talks to one TCA9535-class 16-bit I2C GPIO expander. Like
// fusb302's register driver, it reuses a single scratch buffer across
// every transaction instead of allocating per call.
type Expander struct {
	dev i2cBus
	buf [2]byte
}

// NewExpander wraps dev, which must already be bound to the expander's bus
// address (an *i2c.Dev{Addr: addr, Bus: bus} from periph.io, typically).
func NewExpander(dev i2cBus) *Expander {
	return &Expander{dev: dev}
}

func (e *Expander) readReg(reg byte) (byte, error) {
	e.buf[0] = reg
	if err := e.dev.Tx(e.buf[:1], e.buf[1:2]); err != nil {
		return 0, err
	}
	return e.buf[1], nil
}

func (e *Expander) writeReg(reg, val byte) error {
	e.buf[0] = reg
	e.buf[1] = val
	return e.dev.Tx(e.buf[:2], nil)
}

// Configure sets both banks to all-input, since every load-port parallel
// signal this controller reads from the expander is an input.
func (e *Expander) Configure() error {
	if err := e.writeReg(regConfigPort0, 0xFF); err != nil {
		return fmt.Errorf("iobridge: configure expander bank 0: %w", err)
	}
	if err := e.writeReg(regConfigPort1, 0xFF); err != nil {
		return fmt.Errorf("iobridge: configure expander bank 1: %w", err)
	}
	return nil
}

// ReadBanks returns both input banks packed into one 16-bit word, bank 0 in
// the low byte.
func (e *Expander) ReadBanks() (uint16, error) {
	p0, err := e.readReg(regInputPort0)
	if err != nil {
		return 0, err
	}
	p1, err := e.readReg(regInputPort1)
	if err != nil {
		return 0, err
	}
	return uint16(p0) | uint16(p1)<<8, nil
}

// ExpanderDriver implements Hardware.ReadInputs for the eight per-port
// load-port signals (four each for port 0 and port 1) wired behind one
// Expander. These lines are inputs only, so WriteOutputs is a no-op: no
// E84 signal this controller drives lives on the expander.
type ExpanderDriver struct {
	exp    *Expander
	pinMap map[e84.Name]int // signal -> bit index 0..15
}

// NewExpanderDriver configures exp for all-input and binds pinMap, mapping
// each signal to the bit ReadBanks packs it into.
func NewExpanderDriver(exp *Expander, pinMap map[e84.Name]int) (*ExpanderDriver, error) {
	if err := exp.Configure(); err != nil {
		return nil, err
	}
	return &ExpanderDriver{exp: exp, pinMap: pinMap}, nil
}

func (d *ExpanderDriver) ReadInputs() (map[e84.Name]bool, error) {
	bits, err := d.exp.ReadBanks()
	if err != nil {
		return nil, &e84.TransportError{Op: "expander_read", Err: err}
	}
	out := make(map[e84.Name]bool, len(d.pinMap))
	for name, bit := range d.pinMap {
		out[name] = bits&(1<<uint(bit)) != 0
	}
	return out, nil
}

// WriteOutputs is a no-op: every signal behind the expander is an input.
func (d *ExpanderDriver) WriteOutputs(map[e84.Name]bool) error { return nil }
