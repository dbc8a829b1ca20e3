// Package controller implements the Controller (SPEC_FULL.md §4.6): the
// glue that selects which port's handshake machine is driving the current
// handoff, keeps the global HO_AVBL signal honest, and advances the
// selected machine one step per poll cycle.
package controller

import (
	"time"

	e84 "github.com/semiline/e84bridge"
	"github.com/semiline/e84bridge/arbiter"
	"github.com/semiline/e84bridge/bus"
	"github.com/semiline/e84bridge/carriertracker"
	"github.com/semiline/e84bridge/handshake"
)

// Machine is the subset of *handshake.Machine the Controller drives
// directly (the arbiter drives the rest through its own narrower
// interface).
type Machine interface {
	State() handshake.StateName
	Poll(now time.Time) error
	CarrierDetectedEvent(now time.Time) error
	ToHoUnavbl(now time.Time)
	Reset(now time.Time)
}

// Adapter is the subset of *port.Adapter the Controller needs for
// selection and full reset.
type Adapter interface {
	HoAvailable() (bool, error)
	Reset() error
}

// Bus is the subset of *bus.Bus the Controller reads, writes and watches.
type Bus interface {
	Get(name e84.Name) (bool, error)
	Set(name e84.Name, v bool) error
	Watch(name e84.Name, source string, w bus.Watcher) error
	ResetAll()
}

// Controller wires one Bus to two port machines and the arbiter that
// governs them outside an active handshake.
type Controller struct {
	bus      Bus
	machines [2]Machine
	adapters [2]Adapter
	arb      *arbiter.Arbiter
	log      e84.Logger
	tracker  carriertracker.Tracker

	selected int // -1, 0 or 1
}

// New builds a Controller and registers its signal watchers. No port is
// selected until SelectPort runs (directly, or on a VALID rising edge). The Controller
// notifies carriertracker.Nop{} on every carrier edge unless SetTracker is
// called with a real collaborator.
func New(b Bus, m0, m1 Machine, a0, a1 Adapter, arb *arbiter.Arbiter, log e84.Logger) *Controller {
	if log == nil {
		log = e84.NopLogger{}
	}
	c := &Controller{
		bus:      b,
		machines: [2]Machine{m0, m1},
		adapters: [2]Adapter{a0, a1},
		arb:      arb,
		log:      log,
		tracker:  carriertracker.Nop{},
		selected: -1,
	}
	c.wire()
	return c
}

// SetTracker installs the E87 carrier-tracking collaborator notified on
// every CARRIER_PRESENT_p edge.
func (c *Controller) SetTracker(t carriertracker.Tracker) {
	if t == nil {
		t = carriertracker.Nop{}
	}
	c.tracker = t
}

func (c *Controller) wire() {
	_ = c.bus.Watch(e84.Valid, "controller", c.onValidEdge)
	_ = c.bus.Watch(e84.PortSignal(e84.CarrierPresentBase, 0), "controller", c.onCarrierEdge)
	_ = c.bus.Watch(e84.PortSignal(e84.CarrierPresentBase, 1), "controller", c.onCarrierEdge)
	_ = c.bus.Watch(e84.HoAvbl, "controller", c.onHoAvblEdge)
	for p := 0; p < 2; p++ {
		_ = c.bus.Watch(e84.PortSignal(e84.LptReadyBase, p), "controller", c.onPortHealthEdge)
		_ = c.bus.Watch(e84.PortSignal(e84.LptErrorBase, p), "controller", c.onPortHealthEdge)
	}
}

// Selected returns the currently selected port ID, or -1 if none.
func (c *Controller) Selected() int { return c.selected }

func (c *Controller) portIDFor(name e84.Name) int {
	if name == e84.PortSignal(e84.CarrierPresentBase, 0) ||
		name == e84.PortSignal(e84.LptReadyBase, 0) ||
		name == e84.PortSignal(e84.LptErrorBase, 0) {
		return 0
	}
	return 1
}

// SelectPort implements select_port(): if both CS_0 and CS_1 are set, no
// machine is selected; if exactly one is set, that machine is selected; if
// neither, none. After selection, a port whose ho_available disagrees with
// HO_AVBL is pushed to HoUnavbl.
func (c *Controller) SelectPort(now time.Time) {
	cs0, _ := c.bus.Get(e84.CS0)
	cs1, _ := c.bus.Get(e84.CS1)

	switch {
	case cs0 && cs1:
		c.selected = -1
	case cs0:
		c.selected = 0
	case cs1:
		c.selected = 1
	default:
		c.selected = -1
	}

	if c.selected == -1 {
		return
	}
	ho, err := c.adapters[c.selected].HoAvailable()
	if err != nil {
		c.log.Error("controller: select_port: ho_available check failed", e84.Int("port", c.selected), e84.Err(err))
		return
	}
	hoAvbl, _ := c.bus.Get(e84.HoAvbl)
	if ho != hoAvbl {
		c.machines[c.selected].ToHoUnavbl(now)
	}
}

func (c *Controller) onValidEdge(_ e84.Name, newV, oldV bool) {
	now := time.Now()
	if oldV && !newV {
		_ = c.bus.Set(e84.HoAvbl, true)
		if c.arb != nil {
			c.arb.PostHandshakeCleanup(now)
		}
		return
	}
	if !oldV && newV {
		c.SelectPort(now)
	}
}

func (c *Controller) onCarrierEdge(name e84.Name, newV, _ bool) {
	p := c.portIDFor(name)
	c.tracker.OnCarrierPresence(p, newV)

	if c.selected == -1 || p != c.selected {
		return
	}
	if c.machines[c.selected].State() != handshake.Busy {
		return
	}
	_ = c.machines[c.selected].CarrierDetectedEvent(time.Now())
}

// onPortHealthEdge feeds the arbiter's §4.5 transition table on every
// LPT_READY_p/LPT_ERROR_p edge, then re-evaluates the global unavailability
// check (HO_AVBL) now that the port's own condition may have changed.
func (c *Controller) onPortHealthEdge(name e84.Name, newV, oldV bool) {
	p := c.portIDFor(name)
	old, new := c.conditionPair(p, name, oldV)
	c.arb.HandleEdge(p, old, new, c.selected, time.Now())
	c.globalUnavailabilityCheck()
}

// onHoAvblEdge feeds the arbiter's transition table for both ports whenever
// the shared HO_AVBL signal changes, since HO_AVBL is not scoped to one
// port's own Condition the way LPT_READY_p/LPT_ERROR_p are.
func (c *Controller) onHoAvblEdge(name e84.Name, newV, oldV bool) {
	now := time.Now()
	for p := 0; p < 2; p++ {
		old, new := c.conditionPair(p, name, oldV)
		c.arb.HandleEdge(p, old, new, c.selected, now)
	}
}

// conditionPair builds the (old, new) Condition pair for portID around a
// single changed signal: new reflects the bus's current (post-Set) state,
// old is new with just that one field rolled back to its prior value.
func (c *Controller) conditionPair(portID int, name e84.Name, oldV bool) (old, new arbiter.Condition) {
	new = c.arb.Condition(portID)
	old = new
	switch name {
	case e84.PortSignal(e84.LptReadyBase, portID):
		old = old.WithLptReady(oldV)
	case e84.PortSignal(e84.LptErrorBase, portID):
		old = old.WithLptError(oldV)
	case e84.HoAvbl:
		old = old.WithHoAvbl(oldV)
	}
	return old, new
}

// globalUnavailabilityCheck drives HO_AVBL false when both ports are
// lpt_error ∨ ¬lpt_ready, true otherwise.
func (c *Controller) globalUnavailabilityCheck() {
	bothBad := true
	for p := 0; p < 2; p++ {
		lptError, _ := c.bus.Get(e84.PortSignal(e84.LptErrorBase, p))
		lptReady, _ := c.bus.Get(e84.PortSignal(e84.LptReadyBase, p))
		if !(lptError || !lptReady) {
			bothBad = false
			break
		}
	}
	_ = c.bus.Set(e84.HoAvbl, !bothBad)
}

// PollCycle is invoked by a timer, typically every 100ms: if VALID is
// asserted and a machine is selected, it advances that machine's handshake
// one step.
func (c *Controller) PollCycle(now time.Time) error {
	valid, _ := c.bus.Get(e84.Valid)
	if !valid || c.selected == -1 {
		return nil
	}
	return c.machines[c.selected].Poll(now)
}

// FullReset resets both adapters and both machines to Idle, then resets
// every Signal Bus signal to its default.
func (c *Controller) FullReset(now time.Time) {
	for p := 0; p < 2; p++ {
		if err := c.adapters[p].Reset(); err != nil {
			c.log.Error("controller: full_reset: adapter reset failed", e84.Int("port", p), e84.Err(err))
		}
		c.machines[p].Reset(now)
	}
	c.bus.ResetAll()
	c.selected = -1
}
