// Package handshake implements the per-port Handshake State Machine
// (SPEC_FULL.md §4.4): the thirteen-state table that carries one load or
// unload operation from an AGV's initial CS_x/VALID assertion through to
// TRANSFER_COMPLETED, plus its unavailability, error and reset branches.
//
// The shape is a per-state table (stateDefs: tags and entry timeout) plus
// one on-entry action per state, driven by a single poll-style step
// function rather than a goroutine-per-state event loop; there are no
// exit actions. On-entry
// actions run once when a state is entered, and every other trigger is an
// explicit method the controller or arbiter calls when its guard might now
// hold. A state never calls into another state directly.
package handshake

import (
	"time"

	"github.com/semiline/e84bridge/bus"
)

// StateName identifies one of the thirteen states in the fixed table.
type StateName string

const (
	Idle               StateName = "IDLE"
	HandshakeInitiated StateName = "HANDSHAKE_INITIATED"
	TrReqOn            StateName = "TR_REQ_ON"
	TransferReady      StateName = "TRANSFER_READY"
	Busy               StateName = "BUSY"
	CarrierDetected    StateName = "CARRIER_DETECTED"
	TransferCompleted  StateName = "TRANSFER_COMPLETED"
	IdleUnavbl         StateName = "IDLE_UNAVBL"
	HoUnavbl           StateName = "HO_UNAVBL"
	ErrorHandling      StateName = "ERROR_HANDLING"
	ErrorRecovery      StateName = "ERROR_RECOVERY"
	Timeout            StateName = "TIMEOUT"
	Reset              StateName = "RESET"
)

// Operation records which kind of handoff a machine is carrying, decided on
// entry to HandshakeInitiated and cleared on return to Idle.
type Operation string

const (
	OpNone   Operation = ""
	OpLoad   Operation = "LOAD"
	OpUnload Operation = "UNLOAD"
)

// Tag marks a state with one of the cross-cutting properties the arbiter
// and controller query — e.g. "is an operation active right now" — without
// having to enumerate state names themselves.
type Tag string

const (
	TagHandshake   Tag = "handshake"
	TagActive      Tag = "active"
	TagHandoff     Tag = "handoff"
	TagUnavbl      Tag = "unavbl"
	TagHoOff       Tag = "ho_off"
	TagActiveError Tag = "active_error"
)

type stateDef struct {
	tags    []Tag
	timeout time.Duration // 0 means no entry timeout is armed
	which   string        // "TP1".."TP5", empty if timeout == 0
}

var stateDefs = map[StateName]stateDef{
	Idle:               {},
	HandshakeInitiated: {tags: []Tag{TagHandshake}, timeout: 2 * time.Second, which: "TP1"},
	TrReqOn:            {tags: []Tag{TagHandshake}},
	TransferReady:      {tags: []Tag{TagHandshake, TagActive}, timeout: 2 * time.Second, which: "TP2"},
	Busy:               {tags: []Tag{TagHandshake, TagHandoff, TagActive}, timeout: 60 * time.Second, which: "TP3"},
	CarrierDetected:    {tags: []Tag{TagHandshake, TagHandoff, TagActive}, timeout: 60 * time.Second, which: "TP4"},
	TransferCompleted:  {tags: []Tag{TagHandshake}, timeout: 2 * time.Second, which: "TP5"},
	IdleUnavbl:         {tags: []Tag{TagUnavbl}},
	HoUnavbl:           {tags: []Tag{TagUnavbl, TagHoOff}},
	ErrorHandling:      {tags: []Tag{TagActiveError}},
	ErrorRecovery:      {tags: []Tag{TagActiveError}},
	Timeout:            {tags: []Tag{TagActiveError}},
	Reset:              {},
}

// ConfigureTimeouts overrides the five armed timeouts (TP1-TP5) from their
// package defaults. Call once at startup, before constructing any Machine;
// it is not safe to call concurrently with a running Machine.
func ConfigureTimeouts(tp1, tp2, tp3, tp4, tp5 time.Duration) {
	byWhich := map[string]time.Duration{"TP1": tp1, "TP2": tp2, "TP3": tp3, "TP4": tp4, "TP5": tp5}
	for name, def := range stateDefs {
		if def.which == "" {
			continue
		}
		def.timeout = byWhich[def.which]
		stateDefs[name] = def
	}
}

// HasTag reports whether state s carries tag.
func HasTag(s StateName, tag Tag) bool {
	for _, t := range stateDefs[s].tags {
		if t == tag {
			return true
		}
	}
	return false
}

// TransitionRecord is one entry in a machine's transition log, matching the
// original system's StateTransitionRecord: old state, new state, trigger,
// timestamp, and a full signal snapshot taken immediately after the
// destination state's on-entry action has run.
type TransitionRecord struct {
	From    StateName
	To      StateName
	Trigger string
	At      time.Time
	Signals []bus.Pair
}
