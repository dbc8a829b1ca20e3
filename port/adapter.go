// Package port implements the Load-Port Adapter (SPEC_FULL.md §4.3): the
// derived-capability view over a port's four input signals.
//
// A single Adapter type serves both deployment variants the spec
// describes. Parallel deployments feed CARRIER_PRESENT_p / LATCH_LOCKED_p /
// LPT_READY_p / LPT_ERROR_p from GPIO polling (package iobridge); serial
// deployments feed the same four signals by decoding status frames from a
// load-port controller (package serialdialect). Either way, the Adapter
// itself only ever reads the Signal Bus, so the handshake machine and
// arbiter treat both variants identically, never knowing which one they
// have.
package port

import (
	"fmt"

	e84 "github.com/semiline/e84bridge"
)

// Reader is the subset of *bus.Bus an Adapter needs. Kept as an interface
// so tests can supply a stub without constructing a real Bus.
type Reader interface {
	Get(name e84.Name) (bool, error)
	Set(name e84.Name, v bool) error
}

// Status is the instantaneous reading of a port's four input signals.
type Status struct {
	CarrierPresent bool
	LatchLocked    bool
	LptReady       bool
	LptError       bool
}

// Adapter is a derived-capability view over one port's four input signals.
type Adapter struct {
	bus    Reader
	portID int
}

// New builds an Adapter for portID (0 or 1) backed by bus.
func New(b Reader, portID int) *Adapter {
	return &Adapter{bus: b, portID: portID}
}

// ID returns the port number this adapter serves.
func (a *Adapter) ID() int { return a.portID }

// Status reads the port's four input signals.
func (a *Adapter) Status() (Status, error) {
	carrierPresent, err := a.bus.Get(e84.PortSignal(e84.CarrierPresentBase, a.portID))
	if err != nil {
		return Status{}, fmt.Errorf("port %d: %w", a.portID, err)
	}
	latchLocked, err := a.bus.Get(e84.PortSignal(e84.LatchLockedBase, a.portID))
	if err != nil {
		return Status{}, fmt.Errorf("port %d: %w", a.portID, err)
	}
	lptReady, err := a.bus.Get(e84.PortSignal(e84.LptReadyBase, a.portID))
	if err != nil {
		return Status{}, fmt.Errorf("port %d: %w", a.portID, err)
	}
	lptError, err := a.bus.Get(e84.PortSignal(e84.LptErrorBase, a.portID))
	if err != nil {
		return Status{}, fmt.Errorf("port %d: %w", a.portID, err)
	}
	return Status{
		CarrierPresent: carrierPresent,
		LatchLocked:    latchLocked,
		LptReady:       lptReady,
		LptError:       lptError,
	}, nil
}

// LoadReady reports whether an empty, healthy port is ready to receive a
// carrier: ¬carrier_present ∧ ¬latch_locked ∧ ¬lpt_error ∧ lpt_ready.
func (a *Adapter) LoadReady() (bool, error) {
	s, err := a.Status()
	if err != nil {
		return false, err
	}
	return !s.CarrierPresent && !s.LatchLocked && !s.LptError && s.LptReady, nil
}

// UnloadReady reports whether a carrier-occupied, healthy port is ready to
// give up its carrier: carrier_present ∧ ¬latch_locked ∧ ¬lpt_error ∧
// lpt_ready.
func (a *Adapter) UnloadReady() (bool, error) {
	s, err := a.Status()
	if err != nil {
		return false, err
	}
	return s.CarrierPresent && !s.LatchLocked && !s.LptError && s.LptReady, nil
}

// HoAvailable reports whether this port can be offered to the AGV at all:
// lpt_ready ∧ ¬lpt_error.
func (a *Adapter) HoAvailable() (bool, error) {
	s, err := a.Status()
	if err != nil {
		return false, err
	}
	return s.LptReady && !s.LptError, nil
}

// Reset restores the port's input signals to their defaults (lpt_ready =
// true, everything else false) through the Signal Bus.
func (a *Adapter) Reset() error {
	if err := a.bus.Set(e84.PortSignal(e84.CarrierPresentBase, a.portID), false); err != nil {
		return err
	}
	if err := a.bus.Set(e84.PortSignal(e84.LatchLockedBase, a.portID), false); err != nil {
		return err
	}
	if err := a.bus.Set(e84.PortSignal(e84.LptErrorBase, a.portID), false); err != nil {
		return err
	}
	return a.bus.Set(e84.PortSignal(e84.LptReadyBase, a.portID), true)
}
