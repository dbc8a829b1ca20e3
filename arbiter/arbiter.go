package arbiter

import (
	"time"

	e84 "github.com/semiline/e84bridge"
	"github.com/semiline/e84bridge/handshake"
)

// Reader is the subset of *bus.Bus the arbiter needs to build Conditions.
type Reader interface {
	Get(name e84.Name) (bool, error)
}

// Machine is the subset of *handshake.Machine the arbiter drives. Defined
// locally so this package has no compile dependency on a concrete machine
// type, only on handshake.StateName for state comparisons.
type Machine interface {
	State() handshake.StateName
	ToHoUnavbl(now time.Time)
	ToIdleUnavbl(now time.Time) error
	ToErrorHandling(now time.Time)
	ToIdle(now time.Time)
	AttemptRecovery(now time.Time) error
	HoAvblReturnIdle(now time.Time) error
	IdleUnavblReturnIdle(now time.Time) error
}

// Arbiter owns no signals of its own; it reads the Signal Bus and drives
// the two port machines.
type Arbiter struct {
	bus      Reader
	machines [2]Machine
	log      e84.Logger
}

// New builds an Arbiter over the two port machines, indexed by port ID.
func New(b Reader, port0, port1 Machine, log e84.Logger) *Arbiter {
	if log == nil {
		log = e84.NopLogger{}
	}
	return &Arbiter{bus: b, machines: [2]Machine{port0, port1}, log: log}
}

func (a *Arbiter) machine(portID int) Machine { return a.machines[portID] }
func (a *Arbiter) other(portID int) Machine   { return a.machines[1-portID] }

func (a *Arbiter) get(name e84.Name) bool {
	v, _ := a.bus.Get(name)
	return v
}

// Condition builds the current Condition snapshot for portID.
func (a *Arbiter) Condition(portID int) Condition {
	return Condition{
		PortID:         portID,
		LptReady:       a.get(e84.PortSignal(e84.LptReadyBase, portID)),
		LptError:       a.get(e84.PortSignal(e84.LptErrorBase, portID)),
		CarrierPresent: a.get(e84.PortSignal(e84.CarrierPresentBase, portID)),
		Valid:          a.get(e84.Valid),
		HoAvbl:         a.get(e84.HoAvbl),
	}
}

// PostHandshakeCleanup runs for each port the moment VALID falls true→false.
// A port in error routes to ErrorHandling and a not-ready port routes to
// IdleUnavbl, whatever HO_AVBL reads; a healthy port with HO_AVBL off stays
// where it is; otherwise the machine returns to Idle if it isn't already
// there.
func (a *Arbiter) PostHandshakeCleanup(now time.Time) {
	for portID := 0; portID < 2; portID++ {
		c := a.Condition(portID)
		m := a.machine(portID)
		switch {
		case c.LptError:
			m.ToErrorHandling(now)
		case !c.LptReady:
			_ = m.ToIdleUnavbl(now)
		case !c.HoAvbl:
			// healthy port with HO_AVBL off: stays where it is
		default:
			if m.State() != handshake.Idle {
				m.ToIdle(now)
			}
		}
	}
}

type handler func(a *Arbiter, portID int, old, new Condition, selectedPort int, now time.Time)

var transitions = map[[2]State]handler{
	{Selected, HoOff}:     handleSelectedToHoOff,
	{Selected, Error}:     handleSelectedToHoOff,
	{Selected, NotReady}:  handleSelectedToHoOff,
	{HoOff, Available}:    handleHoOffToAvailable,
	{HoOff, Error}:        handleHoOffToError,
	{HoOff, NotReady}:     handleHoOffToNotReady,
	{Error, Available}:    handleErrorToAvailable,
	{Error, NotReady}:     handleErrorToNotReady,
	{Error, HoOff}:        handleErrorToHoOff,
	{NotReady, Available}: handleNotReadyToAvailable,
	{NotReady, Error}:     handleNotReadyToError,
	{NotReady, HoOff}:     handleNotReadyToHoOff,
	{Available, Error}:    handleAvailableToError,
	{Available, NotReady}: handleAvailableToNotReady,
	{Available, HoOff}:    handleAvailableToHoOff,
}

// HandleEdge dispatches an (old, new) Condition pair for portID through the
// transition table. selectedPort is the port ID currently driving an
// active handshake, or -1 if none; it feeds the AVAILABLE/HO_OFF handler,
// which behaves differently for the active port than for the idle one.
// Identical old/new states are a no-op; states with no table entry are
// logged and ignored — they must never silently advance anything.
func (a *Arbiter) HandleEdge(portID int, old, new Condition, selectedPort int, now time.Time) {
	oldState, newState := old.State(), new.State()
	if oldState == newState {
		return
	}
	h, ok := transitions[[2]State{oldState, newState}]
	if !ok {
		a.log.Warn("arbiter: unhandled state transition",
			e84.Int("port", portID), e84.Str("from", string(oldState)), e84.Str("to", string(newState)))
		return
	}
	h(a, portID, old, new, selectedPort, now)
}

func handleSelectedToHoOff(a *Arbiter, portID int, old, new Condition, _ int, now time.Time) {
	m := a.machine(portID)
	if !new.Valid {
		if m.State() == handshake.HoUnavbl && new.LptReady && !new.LptError {
			_ = m.HoAvblReturnIdle(now)
		}
	}
	if new.Valid {
		m.ToHoUnavbl(now)
	}
}

func handleHoOffToAvailable(a *Arbiter, portID int, old, new Condition, _ int, now time.Time) {
	m := a.machine(portID)
	if !new.Valid && m.State() == handshake.HoUnavbl && new.LptReady && !new.LptError {
		_ = m.HoAvblReturnIdle(now)
	}
}

func handleHoOffToError(a *Arbiter, portID int, old, new Condition, _ int, now time.Time) {
	m := a.machine(portID)
	if new.LptError && m.State() == handshake.HoUnavbl {
		m.ToErrorHandling(now)
	}
}

func handleHoOffToNotReady(a *Arbiter, portID int, old, new Condition, _ int, now time.Time) {
	m := a.machine(portID)
	if !new.LptReady && m.State() == handshake.HoUnavbl {
		_ = m.ToIdleUnavbl(now)
	}
}

func handleErrorToAvailable(a *Arbiter, portID int, old, new Condition, _ int, now time.Time) {
	m := a.machine(portID)
	if !new.Valid && m.State() == handshake.ErrorHandling {
		_ = m.AttemptRecovery(now)
	}
}

func handleErrorToNotReady(a *Arbiter, portID int, old, new Condition, _ int, now time.Time) {
	m := a.machine(portID)
	if !new.Valid && m.State() == handshake.ErrorHandling {
		_ = m.ToIdleUnavbl(now)
	}
}

// handleErrorToHoOff escalates HO_AVBL only when both ports are stuck in
// ERROR_HANDLING at once — a single port in error never takes the whole
// handoff offline.
func handleErrorToHoOff(a *Arbiter, portID int, old, new Condition, _ int, now time.Time) {
	m, o := a.machine(portID), a.other(portID)
	if m.State() == handshake.ErrorHandling && o.State() == handshake.ErrorHandling {
		m.ToHoUnavbl(now)
		o.ToHoUnavbl(now)
	}
}

func handleNotReadyToAvailable(a *Arbiter, portID int, old, new Condition, _ int, now time.Time) {
	m := a.machine(portID)
	if new.Valid {
		return
	}
	switch m.State() {
	case handshake.IdleUnavbl:
		_ = m.IdleUnavblReturnIdle(now)
	case handshake.HoUnavbl:
		_ = m.HoAvblReturnIdle(now)
	}
}

func handleNotReadyToError(a *Arbiter, portID int, old, new Condition, _ int, now time.Time) {
	m := a.machine(portID)
	if m.State() == handshake.IdleUnavbl {
		m.ToErrorHandling(now)
	}
}

// handleNotReadyToHoOff, symmetrically with handleErrorToHoOff, only
// escalates HO_AVBL when both ports are simultaneously NOT_READY.
func handleNotReadyToHoOff(a *Arbiter, portID int, old, new Condition, _ int, now time.Time) {
	m, o := a.machine(portID), a.other(portID)
	if m.State() == handshake.IdleUnavbl && o.State() == handshake.IdleUnavbl {
		m.ToHoUnavbl(now)
		o.ToHoUnavbl(now)
	}
}

func handleAvailableToError(a *Arbiter, portID int, old, new Condition, _ int, now time.Time) {
	if !new.Valid {
		a.machine(portID).ToErrorHandling(now)
	}
}

func handleAvailableToNotReady(a *Arbiter, portID int, old, new Condition, _ int, now time.Time) {
	m := a.machine(portID)
	if m.State() != handshake.Idle {
		return
	}
	_ = m.ToIdleUnavbl(now)
}

func handleAvailableToHoOff(a *Arbiter, portID int, old, new Condition, selectedPort int, now time.Time) {
	m := a.machine(portID)
	if new.Valid && selectedPort == portID {
		m.ToHoUnavbl(now)
		return
	}
	if !new.Valid && new.LptError {
		m.ToHoUnavbl(now)
	}
}
