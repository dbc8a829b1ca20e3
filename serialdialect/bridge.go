package serialdialect

import (
	"context"
	"time"

	e84 "github.com/semiline/e84bridge"
)

// Bus is the subset of *bus.Bus Bridge writes into.
type Bus interface {
	Set(name e84.Name, v bool) error
}

// Bridge polls one serial-connected load port's status on a fixed period
// and folds it into the four per-port input signals, the serial
// counterpart to iobridge.Bridge's input-polling worker.
type Bridge struct {
	conn   *Conn
	bus    Bus
	portID int
	period time.Duration
	log    e84.Logger
}

// NewBridge builds a Bridge for portID, polling conn every period.
func NewBridge(conn *Conn, b Bus, portID int, period time.Duration, log e84.Logger) *Bridge {
	if log == nil {
		log = e84.NopLogger{}
	}
	br := &Bridge{conn: conn, bus: b, portID: portID, period: period, log: log}
	conn.OnAsyncEvent(br.handleEvent)
	return br
}

// handleEvent folds a recognized AERS/ARS line straight into the bus
// without waiting for the next poll, so a POD_ARRIVED event is visible
// immediately rather than up to one period late.
func (br *Bridge) handleEvent(ev Event) {
	switch ev.Kind {
	case PodArrived:
		br.set(e84.PortSignal(e84.CarrierPresentBase, br.portID), true)
	case PodRemoved:
		br.set(e84.PortSignal(e84.CarrierPresentBase, br.portID), false)
	case CmplLock:
		br.set(e84.PortSignal(e84.LatchLockedBase, br.portID), true)
	case CmplUnlock:
		br.set(e84.PortSignal(e84.LatchLockedBase, br.portID), false)
	}
	if ev.Alarm {
		br.log.Warn("serialdialect: alarm line observed",
			e84.Int("port", br.portID), e84.Str("id", ev.ID), e84.Str("text", ev.Text))
	}
}

func (br *Bridge) set(name e84.Name, v bool) {
	if err := br.bus.Set(name, v); err != nil {
		br.log.Error("serialdialect: bus set failed", e84.Str("signal", string(name)), e84.Err(err))
	}
}

// poll issues one status request and folds the result into the bus.
func (br *Bridge) poll() {
	st, err := br.conn.Status()
	if err != nil {
		br.log.Error("serialdialect: status poll failed", e84.Int("port", br.portID), e84.Err(err))
		return
	}
	br.set(e84.PortSignal(e84.CarrierPresentBase, br.portID), st.CarrierPresent)
	br.set(e84.PortSignal(e84.LatchLockedBase, br.portID), st.LatchLocked)
	br.set(e84.PortSignal(e84.LptReadyBase, br.portID), st.LptReady)
	br.set(e84.PortSignal(e84.LptErrorBase, br.portID), st.LptError)
}

// Run polls on Bridge's period until ctx is cancelled.
func (br *Bridge) Run(ctx context.Context) {
	ticker := time.NewTicker(br.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			br.poll()
		}
	}
}
