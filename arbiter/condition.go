// Package arbiter implements the Port-Condition Arbiter (SPEC_FULL.md
// §4.5): the transition logic that runs outside an active handshake
// (VALID=false), plus the cleanup that runs the moment VALID falls.
package arbiter

// State is a port's derived condition, computed from its Condition snapshot
// in strict priority order.
type State string

const (
	Selected State = "SELECTED"
	// Unselected is part of the fixed state set but, like the system this
	// arbiter was distilled from, never actually produced by Condition.State
	// — every real transition handler keyed on it was dead code there too.
	// Kept here for parity with the enum, not because anything computes it.
	Unselected State = "UNSELECTED"
	Available  State = "AVAILABLE"
	Error      State = "ERROR"
	NotReady   State = "NOT_READY"
	HoOff      State = "HO_OFF"
)

// Condition is an immutable snapshot of one port's inputs plus the two
// shared signals (VALID, HO_AVBL) needed to classify it.
type Condition struct {
	PortID         int
	LptReady       bool
	LptError       bool
	CarrierPresent bool
	Valid          bool
	HoAvbl         bool
}

// State classifies the condition in priority order (highest wins):
// !ho_avbl → HO_OFF; lpt_error → ERROR; !lpt_ready → NOT_READY;
// valid → SELECTED; else AVAILABLE.
func (c Condition) State() State {
	switch {
	case !c.HoAvbl:
		return HoOff
	case c.LptError:
		return Error
	case !c.LptReady:
		return NotReady
	case c.Valid:
		return Selected
	default:
		return Available
	}
}

// WithLptReady returns a copy of c with LptReady overridden, used by
// callers building the old/new pair around a single changed signal.
func (c Condition) WithLptReady(v bool) Condition { c.LptReady = v; return c }

// WithLptError returns a copy of c with LptError overridden.
func (c Condition) WithLptError(v bool) Condition { c.LptError = v; return c }

// WithHoAvbl returns a copy of c with HoAvbl overridden.
func (c Condition) WithHoAvbl(v bool) Condition { c.HoAvbl = v; return c }
