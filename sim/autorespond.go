package sim

import (
	"time"

	e84 "github.com/semiline/e84bridge"
)

// AutoResponder toggles CARRIER_PRESENT_p for the currently selected port
// a fixed delay after BUSY rises, mirroring equipment reacting to the AGV
// placing or removing a carrier mid-transfer.
type AutoResponder struct {
	bus      Bus
	delay    time.Duration
	selected func() int
	log      e84.Logger

	sleep func(time.Duration) // overridden in tests to avoid real sleeps
}

// NewAutoResponder builds an AutoResponder. selected must return the
// currently active port ID, or -1 if none, at the moment BUSY rises.
func NewAutoResponder(b Bus, delay time.Duration, selected func() int, log e84.Logger) *AutoResponder {
	if log == nil {
		log = e84.NopLogger{}
	}
	return &AutoResponder{bus: b, delay: delay, selected: selected, log: log, sleep: time.Sleep}
}

// Start registers the BUSY watcher. Call once before the handshake begins.
func (r *AutoResponder) Start() error {
	return r.bus.Watch(e84.Busy, "sim_auto_respond", r.onBusyEdge)
}

func (r *AutoResponder) onBusyEdge(_ e84.Name, newV, oldV bool) {
	if oldV || !newV {
		return
	}
	p := r.selected()
	if p < 0 {
		return
	}
	go r.respond(p)
}

func (r *AutoResponder) respond(portID int) {
	r.sleep(r.delay)
	name := e84.PortSignal(e84.CarrierPresentBase, portID)
	cur, err := r.bus.Get(name)
	if err != nil {
		r.log.Error("sim: auto-respond read failed", e84.Int("port", portID), e84.Err(err))
		return
	}
	if err := r.bus.Set(name, !cur); err != nil {
		r.log.Error("sim: auto-respond write failed", e84.Int("port", portID), e84.Err(err))
	}
}
