// Package sim implements the signal simulators (SPEC_FULL.md §4.13): an
// auto-responder that mimics equipment reacting to a carrier transfer, a
// random load-port error injector, and a scripted AGV sequence for
// deterministic end-to-end scenarios. All signals flow through the same
// Signal Bus real hardware would use, so the Controller cannot tell a
// simulated signal source from a real one.
package sim

import (
	e84 "github.com/semiline/e84bridge"
	"github.com/semiline/e84bridge/bus"
)

// Bus is the subset of *bus.Bus the simulators read, write and watch.
type Bus interface {
	Get(name e84.Name) (bool, error)
	Set(name e84.Name, v bool) error
	Watch(name e84.Name, source string, w bus.Watcher) error
}

func csSignal(portID int) e84.Name {
	if portID == 0 {
		return e84.CS0
	}
	return e84.CS1
}
