// Package carriertracker implements the E87 carrier-tracking wrapper
// (SPEC_FULL.md §4.14): a thin pass-through extension point, not a tracking
// implementation. E87 carrier-ID state itself is out of scope (spec.md
// Non-goals); this package only defines the seam an external collaborator
// plugs into.
package carriertracker

// Tracker receives a notification on every CARRIER_PRESENT_p edge the
// Controller observes. Implementations may forward the event to an
// external carrier-ID system; this package supplies no tracking logic.
type Tracker interface {
	OnCarrierPresence(portID int, present bool)
}

// Nop is the default Tracker: it discards every notification. Components
// constructed without an explicit Tracker use this rather than a nil
// interface, so callers never need a nil check before notifying.
type Nop struct{}

func (Nop) OnCarrierPresence(int, bool) {}
