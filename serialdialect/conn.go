// Package serialdialect implements the ASCII load-port dialect (SPEC_FULL.md
// §4.12): line framing, HCS-prefixed commands, FSR/FSD status polling and
// AERS/ARS event recognition over a real serial line, for the serial
// Load-Port Adapter variant.
package serialdialect

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"github.com/daedaluz/goserial"

	e84 "github.com/semiline/e84bridge"
	"github.com/semiline/e84bridge/port"
)

// LineConn is the line-oriented transport Conn drives. SerialConn
// implements it over github.com/daedaluz/goserial; tests substitute a
// fake.
type LineConn interface {
	WriteLine(line string) error
	ReadLine(timeout time.Duration) (string, error)
	Close() error
}

// SerialConn is the production LineConn, a CR+LF-framed line reader/writer
// over a real serial port.
type SerialConn struct {
	port *serial.Port
	r    *bufio.Reader
}

// Open opens path at the given baud rate and binds a LineConn to it.
func Open(path string, baud int, timeout time.Duration) (*SerialConn, error) {
	opts := serial.NewOptions()
	opts.ReadTimeout = timeout
	p, err := serial.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("serialdialect: open %s: %w", path, err)
	}
	attr, err := p.GetAttr()
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("serialdialect: get attr %s: %w", path, err)
	}
	speed, err := baudSpeed(baud)
	if err != nil {
		p.Close()
		return nil, err
	}
	attr.SetSpeed(speed)
	if err := p.SetAttr(serial.TCSANOW, attr); err != nil {
		p.Close()
		return nil, fmt.Errorf("serialdialect: set attr %s: %w", path, err)
	}
	return &SerialConn{port: p, r: bufio.NewReader(p)}, nil
}

func baudSpeed(baud int) (serial.CFlag, error) {
	switch baud {
	case 9600:
		return serial.B9600, nil
	case 19200:
		return serial.B19200, nil
	case 38400:
		return serial.B38400, nil
	case 115200:
		return serial.B115200, nil
	default:
		return 0, fmt.Errorf("serialdialect: unsupported baud rate %d", baud)
	}
}

func (c *SerialConn) WriteLine(line string) error {
	_, err := c.port.Write([]byte(line + "\r\n"))
	return err
}

func (c *SerialConn) ReadLine(timeout time.Duration) (string, error) {
	c.port.SetReadTimeout(timeout)
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *SerialConn) Close() error { return c.port.Close() }

// Conn drives the HCS command / FSR status exchange over a LineConn. It
// owns no E84 signal state; Bridge folds its results into the bus.
type Conn struct {
	line     LineConn
	timeout  time.Duration
	retries  int
	onAsync  func(Event)
}

// NewConn wraps line with the given per-command read timeout and retry
// count (spec.md §6's "command retries").
func NewConn(line LineConn, timeout time.Duration, retries int) *Conn {
	return &Conn{line: line, timeout: timeout, retries: retries}
}

// OnAsyncEvent registers a callback invoked whenever Status's read loop
// observes an AERS/ARS line instead of the FSD response it was waiting for.
func (c *Conn) OnAsyncEvent(f func(Event)) { c.onAsync = f }

// Command issues cmd (without the HCS prefix or line terminator) and
// retries until a line beginning "HCA OK" is observed or retries are
// exhausted, in which case it returns a *e84.TransportError.
func (c *Conn) Command(cmd string) error {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if err := c.line.WriteLine("HCS " + cmd); err != nil {
			lastErr = err
			continue
		}
		resp, err := c.line.ReadLine(c.timeout)
		if err != nil {
			lastErr = err
			continue
		}
		if strings.HasPrefix(resp, "HCA OK") {
			return nil
		}
		lastErr = fmt.Errorf("unexpected response %q", resp)
	}
	return &e84.TransportError{Op: "serial_command:" + cmd, Err: lastErr}
}

// Status issues FSR and parses the FSD response into a port.Status. Any
// AERS/ARS lines observed while waiting for FSD are dispatched to the
// registered async callback and skipped.
func (c *Conn) Status() (port.Status, error) {
	if err := c.line.WriteLine("FSR"); err != nil {
		return port.Status{}, &e84.TransportError{Op: "serial_status_request", Err: err}
	}
	for {
		resp, err := c.line.ReadLine(c.timeout)
		if err != nil {
			return port.Status{}, &e84.TransportError{Op: "serial_status_read", Err: err}
		}
		if ev, ok := ParseEvent(resp); ok {
			if c.onAsync != nil {
				c.onAsync(ev)
			}
			continue
		}
		if strings.HasPrefix(resp, "FSD") {
			return ParseStatusFrame(resp)
		}
		return port.Status{}, &e84.TransportError{Op: "serial_status_read", Err: fmt.Errorf("unexpected line %q", resp)}
	}
}

// Lock issues the LOCK command.
func (c *Conn) Lock() error { return c.Command("LOCK") }

// Unlock issues the UNLK command.
func (c *Conn) Unlock() error { return c.Command("UNLK") }

// EnableLoad issues ENABLE LOAD Px for the given port ID.
func (c *Conn) EnableLoad(portID int) error { return c.Command(fmt.Sprintf("ENABLE LOAD P%d", portID)) }

// EnableUnload issues ENABLE UNLOAD Px.
func (c *Conn) EnableUnload(portID int) error {
	return c.Command(fmt.Sprintf("ENABLE UNLOAD P%d", portID))
}

// DisableLoad issues DISABLE LOAD Px.
func (c *Conn) DisableLoad(portID int) error {
	return c.Command(fmt.Sprintf("DISABLE LOAD P%d", portID))
}

// DisableUnload issues DISABLE UNLOAD Px.
func (c *Conn) DisableUnload(portID int) error {
	return c.Command(fmt.Sprintf("DISABLE UNLOAD P%d", portID))
}

// Load issues LOAD Px.
func (c *Conn) Load(portID int) error { return c.Command(fmt.Sprintf("LOAD P%d", portID)) }

// Unload issues UNLOAD Px.
func (c *Conn) Unload(portID int) error { return c.Command(fmt.Sprintf("UNLOAD P%d", portID)) }

// Recovery issues the RECOVERY command.
func (c *Conn) Recovery() error { return c.Command("RECOVERY") }

// Close closes the underlying LineConn.
func (c *Conn) Close() error { return c.line.Close() }
