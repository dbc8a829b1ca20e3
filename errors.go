package e84

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the core of the taxonomy in spec §7. Components
// wrap these with fmt.Errorf("...: %w", ...) to add context; callers use
// errors.Is to classify.
var (
	// ErrUnknownSignal is returned by Bus.Get/Set for a name outside the
	// fixed universe. This is a programming error, not an operating
	// condition, and surfaces at the call site.
	ErrUnknownSignal = errors.New("e84: unknown signal")

	// ErrInvalidTransition is returned when a trigger is fired from a state
	// that does not declare it. No state change occurs.
	ErrInvalidTransition = errors.New("e84: invalid transition")

	// ErrGuardFailed is returned when a trigger was valid for the current
	// state but its guard evaluated false. No state change occurs.
	ErrGuardFailed = errors.New("e84: guard failed")
)

// TimeoutError reports that timeout TPn expired while a machine was in
// state S, per spec §4.4 and §7.
type TimeoutError struct {
	Port  int
	State string
	Which string // "TP1".."TP5"
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("e84: port %d: %s expired in state %s", e.Port, e.Which, e.State)
}

// TransportError wraps a hardware I/O failure, serial timeout, or malformed
// response observed by the I/O Bridge or the serial load-port dialect. The
// affected input retains its previous value; a persistent TransportError is
// expected to surface as LPT_ERROR_p by the caller.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("e84: transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// WatcherFault records a panic or error recovered from inside a signal
// watcher. It is never returned to the caller of Bus.Set — it is only ever
// logged — but is exported so tests can assert on the shape of what gets
// logged.
type WatcherFault struct {
	Signal Name
	Source string
	Err    error
}

func (e *WatcherFault) Error() string {
	return fmt.Sprintf("e84: watcher fault for %s (source %s): %v", e.Signal, e.Source, e.Err)
}

func (e *WatcherFault) Unwrap() error { return e.Err }
