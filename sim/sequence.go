package sim

import (
	"fmt"
	"time"

	e84 "github.com/semiline/e84bridge"
)

// Sequence drives a scripted AGV-side handshake for portID, one numbered
// step at a time: CS_p on, VALID on, TR_REQ on, BUSY on, BUSY/TR_REQ off
// with COMPT on, then VALID/COMPT/CS_p off. It exists for deterministic
// end-to-end test scenarios, not as a substitute for AutoResponder's
// BUSY-triggered carrier response.
type Sequence struct {
	bus    Bus
	portID int
	log    e84.Logger
}

// NewSequence builds a Sequence bound to portID.
func NewSequence(b Bus, portID int, log e84.Logger) *Sequence {
	if log == nil {
		log = e84.NopLogger{}
	}
	return &Sequence{bus: b, portID: portID, log: log}
}

// StepCount is the number of steps Step accepts, 0 through StepCount-1.
const StepCount = 6

// Step executes step n of the sequence.
func (s *Sequence) Step(n int) error {
	switch n {
	case 0:
		return s.bus.Set(csSignal(s.portID), true)
	case 1:
		return s.bus.Set(e84.Valid, true)
	case 2:
		return s.bus.Set(e84.TrReq, true)
	case 3:
		return s.bus.Set(e84.Busy, true)
	case 4:
		if err := s.bus.Set(e84.Busy, false); err != nil {
			return err
		}
		if err := s.bus.Set(e84.TrReq, false); err != nil {
			return err
		}
		return s.bus.Set(e84.Compt, true)
	case 5:
		if err := s.bus.Set(e84.Valid, false); err != nil {
			return err
		}
		if err := s.bus.Set(e84.Compt, false); err != nil {
			return err
		}
		return s.bus.Set(csSignal(s.portID), false)
	default:
		return fmt.Errorf("sim: unknown sequence step %d", n)
	}
}

// Run executes every step in order with delay between each, stopping at
// the first error.
func (s *Sequence) Run(delay time.Duration) error {
	for n := 0; n < StepCount; n++ {
		if err := s.Step(n); err != nil {
			return fmt.Errorf("sim: sequence step %d: %w", n, err)
		}
		if n < StepCount-1 {
			time.Sleep(delay)
		}
	}
	return nil
}

// Reset drives every AGV-side signal back to false, abandoning any
// in-progress sequence.
func (s *Sequence) Reset() error {
	for _, name := range e84.ActiveInputs() {
		if err := s.bus.Set(name, false); err != nil {
			return err
		}
	}
	return nil
}
