package handshake

import (
	"fmt"
	"time"

	e84 "github.com/semiline/e84bridge"
	"github.com/semiline/e84bridge/bus"
	"github.com/semiline/e84bridge/port"
)

// Reader is the subset of *bus.Bus a Machine needs to read active inputs,
// drive passive outputs, and capture the signal snapshot that goes into
// every TransitionRecord.
type Reader interface {
	Get(name e84.Name) (bool, error)
	Set(name e84.Name, v bool) error
	Snapshot() []bus.Pair
}

// Adapter is the subset of *port.Adapter a Machine needs. Defined here
// rather than imported so this package has no compile-time dependency on
// package port — any type with this shape works, including a test double.
type Adapter interface {
	LoadReady() (bool, error)
	UnloadReady() (bool, error)
	HoAvailable() (bool, error)
	Status() (port.Status, error)
}

// Machine is one port's handshake state machine.
type Machine struct {
	portID  int
	bus     Reader
	adapter Adapter
	log     e84.Logger

	state    StateName
	op       Operation
	deadline time.Time // zero value: no timeout armed
	hist     []TransitionRecord
}

// New builds a Machine for portID in its initial Idle state.
func New(portID int, b Reader, adapter Adapter, log e84.Logger) *Machine {
	if log == nil {
		log = e84.NopLogger{}
	}
	return &Machine{portID: portID, bus: b, adapter: adapter, log: log, state: Idle}
}

// State returns the machine's current state.
func (m *Machine) State() StateName { return m.state }

// Operation returns the handoff kind in progress, or OpNone between
// handshakes.
func (m *Machine) Operation() Operation { return m.op }

// History returns the transition log accumulated since the last entry to
// Idle (on-entry to Idle clears it, per SPEC_FULL.md §4.4).
func (m *Machine) History() []TransitionRecord {
	return append([]TransitionRecord(nil), m.hist...)
}

func (m *Machine) get(name e84.Name) bool {
	v, err := m.bus.Get(name)
	if err != nil {
		m.log.Error("handshake: signal read failed", e84.Int("port", m.portID), e84.Str("signal", string(name)), e84.Err(err))
		return false
	}
	return v
}

func (m *Machine) set(name e84.Name, v bool) {
	if err := m.bus.Set(name, v); err != nil {
		m.log.Error("handshake: signal write failed", e84.Int("port", m.portID), e84.Str("signal", string(name)), e84.Err(err))
	}
}

// move performs the Exit/Enter sequence for a transition, records it, and
// runs the destination state's on-entry action.
func (m *Machine) move(now time.Time, trigger string, to StateName) {
	from := m.state
	m.log.Info("handshake: transition", e84.Int("port", m.portID), e84.Str("trigger", trigger),
		e84.Str("state_old", string(from)), e84.Str("state_new", string(to)))

	m.state = to
	def := stateDefs[to]
	if def.timeout > 0 {
		m.deadline = now.Add(def.timeout)
	} else {
		m.deadline = time.Time{}
	}
	m.enter(to)

	// The snapshot is taken after the destination state's on-entry action
	// has run, so it reflects the signals that action just drove, not the
	// ones in effect the instant the trigger fired.
	m.hist = append(m.hist, TransitionRecord{From: from, To: to, Trigger: trigger, At: now, Signals: m.bus.Snapshot()})
	if to == Idle {
		m.hist = nil
	}
}

func (m *Machine) enter(s StateName) {
	switch s {
	case Idle:
		m.set(e84.LReq, false)
		m.set(e84.UReq, false)
		m.set(e84.Ready, false)
		m.op = OpNone
	case HandshakeInitiated:
		loadReady, _ := m.adapter.LoadReady()
		unloadReady, _ := m.adapter.UnloadReady()
		switch {
		case loadReady:
			m.set(e84.LReq, true)
			m.set(e84.UReq, false)
			m.op = OpLoad
		case unloadReady:
			m.set(e84.UReq, true)
			m.set(e84.LReq, false)
			m.op = OpUnload
		}
	case TransferReady:
		m.set(e84.Ready, true)
	case TransferCompleted:
		m.set(e84.Ready, false)
	case IdleUnavbl, ErrorHandling, Timeout:
		m.set(e84.Ready, false)
		m.set(e84.LReq, false)
		m.set(e84.UReq, false)
	case HoUnavbl:
		m.set(e84.HoAvbl, false)
	case Reset:
		m.set(e84.LReq, false)
		m.set(e84.UReq, false)
		m.set(e84.Ready, false)
		m.set(e84.HoAvbl, true)
		m.set(e84.ES, true)
	}
}

func (m *Machine) lptReadyNoError() bool {
	s, err := m.adapter.Status()
	if err != nil {
		m.log.Error("handshake: adapter status failed", e84.Int("port", m.portID), e84.Err(err))
		return false
	}
	return s.LptReady && !s.LptError
}

// Poll evaluates timeouts first, then the single happy-path trigger that
// applies to the current state, advancing at most one transition. It is a
// pure function of the current signal snapshot and state, called once per
// controller poll cycle for whichever machine is selected.
func (m *Machine) Poll(now time.Time) error {
	if !m.deadline.IsZero() && now.After(m.deadline) {
		from := m.state
		def := stateDefs[from]
		m.log.Warn("handshake: timeout expired", e84.Int("port", m.portID), e84.Str("which", def.which), e84.Str("state", string(from)))
		m.move(now, "_handle_timeout", Timeout)
		return &e84.TimeoutError{Port: m.portID, State: string(from), Which: def.which}
	}

	switch m.state {
	case Idle:
		ho, _ := m.adapter.HoAvailable()
		if ho && !m.get(e84.TrReq) && !m.get(e84.Busy) && !m.get(e84.Compt) {
			m.move(now, "start_handshake", HandshakeInitiated)
		}
	case HandshakeInitiated:
		if (m.get(e84.CS0) || m.get(e84.CS1)) && m.get(e84.Valid) && m.get(e84.TrReq) {
			m.move(now, "tr_req_received", TrReqOn)
		}
	case TrReqOn:
		if m.lptReadyNoError() {
			m.move(now, "ready_for_transfer", TransferReady)
		}
	case TransferReady:
		if (m.get(e84.CS0) || m.get(e84.CS1)) && m.get(e84.Valid) && m.get(e84.TrReq) && m.get(e84.Busy) {
			m.move(now, "busy_on", Busy)
		}
	case Busy:
		return m.CarrierDetectedEvent(now)
	case CarrierDetected:
		if m.get(e84.Compt) && !m.get(e84.Busy) && !m.get(e84.TrReq) {
			m.move(now, "transfer_done", TransferCompleted)
		}
	case TransferCompleted:
		if !m.get(e84.Valid) {
			m.move(now, "transfer_completed", Idle)
		}
	}
	return nil
}

// CarrierDetectedEvent fires the carrier_detected_event trigger from Busy,
// guarded by the operation in progress matching the observed carrier
// presence. The controller calls this directly on a carrier-present edge
// for low latency; Poll also calls it every cycle while in Busy so the
// transition is never missed between edges.
func (m *Machine) CarrierDetectedEvent(now time.Time) error {
	if m.state != Busy {
		return nil
	}
	s, err := m.adapter.Status()
	if err != nil {
		return err
	}
	guard := (m.op == OpLoad && s.CarrierPresent) || (m.op == OpUnload && !s.CarrierPresent)
	if guard {
		m.move(now, "carrier_detected_event", CarrierDetected)
	}
	return nil
}

// ToHoUnavbl fires to_HO_UNAVBL from any state, unguarded.
func (m *Machine) ToHoUnavbl(now time.Time) {
	m.move(now, "to_HO_UNAVBL", HoUnavbl)
}

// ToIdleUnavbl fires to_IDLE_UNAVBL from Idle, HoUnavbl or ErrorHandling,
// guarded by ¬lpt_ready.
func (m *Machine) ToIdleUnavbl(now time.Time) error {
	if m.state != Idle && m.state != HoUnavbl && m.state != ErrorHandling {
		return fmt.Errorf("%w: to_IDLE_UNAVBL from %s", e84.ErrInvalidTransition, m.state)
	}
	s, err := m.adapter.Status()
	if err != nil {
		return err
	}
	if s.LptReady {
		return e84.ErrGuardFailed
	}
	m.move(now, "to_IDLE_UNAVBL", IdleUnavbl)
	return nil
}

// ToErrorHandling fires to_ERROR_HANDLING from any state, unguarded.
func (m *Machine) ToErrorHandling(now time.Time) {
	m.move(now, "to_ERROR_HANDLING", ErrorHandling)
}

// recoverable implements the auto-recovery predicate: if no operation is in
// progress, recover when lpt_ready ∧ ¬lpt_error. If one is in flight,
// additionally require ¬VALID so an AGV mid-handshake is never interrupted.
func (m *Machine) recoverable() bool {
	if !m.lptReadyNoError() {
		return false
	}
	if m.op != OpNone && m.get(e84.Valid) {
		return false
	}
	return true
}

// AttemptRecovery fires attempt_recovery from ErrorHandling to Idle when
// the machine is auto-recoverable.
func (m *Machine) AttemptRecovery(now time.Time) error {
	if m.state != ErrorHandling {
		return fmt.Errorf("%w: attempt_recovery from %s", e84.ErrInvalidTransition, m.state)
	}
	if !m.recoverable() {
		return e84.ErrGuardFailed
	}
	m.move(now, "attempt_recovery", Idle)
	return nil
}

// ToErrorRecovery fires the manual to_ERROR_RECOVERY trigger from
// ErrorHandling.
func (m *Machine) ToErrorRecovery(now time.Time) error {
	if m.state != ErrorHandling {
		return fmt.Errorf("%w: to_ERROR_RECOVERY from %s", e84.ErrInvalidTransition, m.state)
	}
	m.move(now, "to_ERROR_RECOVERY", ErrorRecovery)
	return nil
}

// HoAvblReturnIdle fires ho_avbl_return_idle from HoUnavbl back to Idle,
// guarded by "ready and no error".
func (m *Machine) HoAvblReturnIdle(now time.Time) error {
	if m.state != HoUnavbl {
		return fmt.Errorf("%w: ho_avbl_return_idle from %s", e84.ErrInvalidTransition, m.state)
	}
	if !m.lptReadyNoError() {
		return e84.ErrGuardFailed
	}
	m.move(now, "ho_avbl_return_idle", Idle)
	return nil
}

// IdleUnavblReturnIdle fires idle_unavbl_return_idle from IdleUnavbl back
// to Idle, guarded by "ready and no error".
func (m *Machine) IdleUnavblReturnIdle(now time.Time) error {
	if m.state != IdleUnavbl {
		return fmt.Errorf("%w: idle_unavbl_return_idle from %s", e84.ErrInvalidTransition, m.state)
	}
	if !m.lptReadyNoError() {
		return e84.ErrGuardFailed
	}
	m.move(now, "idle_unavbl_return_idle", Idle)
	return nil
}

// ToIdle fires a plain, unconditional transition to Idle. Unlike Reset, it
// does not pass through the Reset state, so HO_AVBL and ES are left alone:
// it is the arbiter's post-handshake "no issues detected" outcome, not a
// full reset.
func (m *Machine) ToIdle(now time.Time) {
	m.move(now, "to_IDLE", Idle)
}

// Reset fires the unconditional reset trigger from any state. It passes
// through the Reset state — whose on-entry action restores every passive
// output to its default — before landing in Idle, matching the on-entry
// table's entry for Reset.
func (m *Machine) Reset(now time.Time) {
	m.move(now, "reset", Reset)
	m.move(now, "reset", Idle)
}
