package handshake

import (
	"errors"
	"testing"
	"time"

	e84 "github.com/semiline/e84bridge"
	"github.com/semiline/e84bridge/bus"
	"github.com/semiline/e84bridge/port"
)

func newTestMachine(t *testing.T) (*Machine, *bus.Bus) {
	t.Helper()
	b := bus.New(nil)
	a := port.New(b, 0)
	return New(0, b, a, nil), b
}

func TestHappyPathLoad(t *testing.T) {
	m, b := newTestMachine(t)
	now := time.Unix(0, 0)

	if m.State() != Idle {
		t.Fatalf("initial state = %s, want Idle", m.State())
	}

	// start_handshake: port is ho_available and no active input set.
	if err := m.Poll(now); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if m.State() != HandshakeInitiated {
		t.Fatalf("state = %s, want HandshakeInitiated", m.State())
	}
	if m.Operation() != OpLoad {
		t.Fatalf("operation = %s, want LOAD (port defaults to empty/ready)", m.Operation())
	}
	if v, _ := b.Get(e84.LReq); !v {
		t.Fatalf("L_REQ = false after entering HandshakeInitiated for a load, want true")
	}

	// tr_req_received
	_ = b.Set(e84.CS0, true)
	_ = b.Set(e84.Valid, true)
	_ = b.Set(e84.TrReq, true)
	now = now.Add(time.Second)
	if err := m.Poll(now); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if m.State() != TrReqOn {
		t.Fatalf("state = %s, want TrReqOn", m.State())
	}

	// ready_for_transfer: lpt_ready && !lpt_error already true by default.
	if err := m.Poll(now); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if m.State() != TransferReady {
		t.Fatalf("state = %s, want TransferReady", m.State())
	}
	if v, _ := b.Get(e84.Ready); !v {
		t.Fatalf("READY = false after entering TransferReady, want true")
	}

	// busy_on
	_ = b.Set(e84.Busy, true)
	if err := m.Poll(now); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if m.State() != Busy {
		t.Fatalf("state = %s, want Busy", m.State())
	}

	// carrier_detected_event: op is LOAD, so wait for carrier_present.
	_ = b.Set(e84.PortSignal(e84.CarrierPresentBase, 0), true)
	if err := m.Poll(now); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if m.State() != CarrierDetected {
		t.Fatalf("state = %s, want CarrierDetected", m.State())
	}

	// transfer_done
	_ = b.Set(e84.Compt, true)
	_ = b.Set(e84.Busy, false)
	_ = b.Set(e84.TrReq, false)
	if err := m.Poll(now); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if m.State() != TransferCompleted {
		t.Fatalf("state = %s, want TransferCompleted", m.State())
	}
	if v, _ := b.Get(e84.Ready); v {
		t.Fatalf("READY = true after entering TransferCompleted, want false")
	}

	// transfer_completed: back to Idle once the AGV drops VALID.
	_ = b.Set(e84.Valid, false)
	if err := m.Poll(now); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if m.State() != Idle {
		t.Fatalf("state = %s, want Idle", m.State())
	}
	if m.Operation() != OpNone {
		t.Fatalf("operation = %s after returning to Idle, want OpNone", m.Operation())
	}
	if len(m.History()) != 0 {
		t.Fatalf("history not cleared on Idle entry, got %d entries", len(m.History()))
	}
}

func TestTransitionRecordCapturesSignalSnapshotAfterEntry(t *testing.T) {
	m, b := newTestMachine(t)
	now := time.Unix(0, 0)

	if err := m.Poll(now); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if m.State() != HandshakeInitiated {
		t.Fatalf("state = %s, want HandshakeInitiated", m.State())
	}

	hist := m.History()
	if len(hist) != 1 {
		t.Fatalf("len(History()) = %d, want 1", len(hist))
	}
	rec := hist[0]
	if rec.From != Idle || rec.To != HandshakeInitiated || rec.Trigger != "start_handshake" {
		t.Fatalf("record = %+v, want From=Idle To=HandshakeInitiated Trigger=start_handshake", rec)
	}
	if len(rec.Signals) != len(e84.AllSignals()) {
		t.Fatalf("len(Signals) = %d, want %d (full bus snapshot)", len(rec.Signals), len(e84.AllSignals()))
	}

	var sawLReq bool
	for _, pair := range rec.Signals {
		if pair.Name == e84.LReq {
			sawLReq = true
			if !pair.Value {
				t.Fatalf("snapshot L_REQ = false, want true (snapshot taken after on-entry action set it)")
			}
		}
	}
	if !sawLReq {
		t.Fatalf("snapshot missing L_REQ entirely")
	}
	if v, _ := b.Get(e84.LReq); !v {
		t.Fatalf("setup: L_REQ on bus = false, want true")
	}
}

func TestTimeoutExpiresToTimeoutState(t *testing.T) {
	m, b := newTestMachine(t)
	now := time.Unix(0, 0)

	_ = b.Set(e84.CS0, true)
	_ = b.Set(e84.Valid, true)

	if err := m.Poll(now); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if m.State() != HandshakeInitiated {
		t.Fatalf("state = %s, want HandshakeInitiated", m.State())
	}

	// TP1 is 2s; nothing else changes, so advancing past it must fire the
	// synthetic timeout trigger.
	later := now.Add(3 * time.Second)
	err := m.Poll(later)
	if err == nil {
		t.Fatalf("Poll past TP1: want a TimeoutError, got nil")
	}
	var te *e84.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("Poll past TP1: err = %v, want *e84.TimeoutError", err)
	}
	if te.Which != "TP1" {
		t.Fatalf("TimeoutError.Which = %s, want TP1", te.Which)
	}
	if m.State() != Timeout {
		t.Fatalf("state = %s, want Timeout", m.State())
	}
}

func TestToHoUnavblFromAnyState(t *testing.T) {
	m, _ := newTestMachine(t)
	now := time.Unix(0, 0)
	m.ToHoUnavbl(now)
	if m.State() != HoUnavbl {
		t.Fatalf("state = %s, want HoUnavbl", m.State())
	}
}

func TestToIdleUnavblGuardRejectsWhenReady(t *testing.T) {
	m, _ := newTestMachine(t)
	now := time.Unix(0, 0)
	// lpt_ready defaults to true, so the guard (¬lpt_ready) must fail.
	if err := m.ToIdleUnavbl(now); !errors.Is(err, e84.ErrGuardFailed) {
		t.Fatalf("ToIdleUnavbl with lpt_ready=true: err = %v, want ErrGuardFailed", err)
	}
	if m.State() != Idle {
		t.Fatalf("state changed despite failed guard: %s", m.State())
	}
}

func TestToIdleUnavblSucceedsWhenNotReady(t *testing.T) {
	m, b := newTestMachine(t)
	now := time.Unix(0, 0)
	_ = b.Set(e84.PortSignal(e84.LptReadyBase, 0), false)
	if err := m.ToIdleUnavbl(now); err != nil {
		t.Fatalf("ToIdleUnavbl: %v", err)
	}
	if m.State() != IdleUnavbl {
		t.Fatalf("state = %s, want IdleUnavbl", m.State())
	}
}

func TestAttemptRecoveryRequiresNotValidMidOperation(t *testing.T) {
	m, b := newTestMachine(t)
	now := time.Unix(0, 0)

	// Drive into an in-flight LOAD, then force an error.
	_ = b.Set(e84.CS0, true)
	_ = b.Set(e84.Valid, true)
	_ = m.Poll(now) // -> HandshakeInitiated, op=LOAD
	m.ToErrorHandling(now)
	if m.State() != ErrorHandling {
		t.Fatalf("state = %s, want ErrorHandling", m.State())
	}

	// lpt_ready stays true (default) and op is still LOAD, but VALID is
	// still asserted: recovery must not interrupt the AGV.
	if err := m.AttemptRecovery(now); !errors.Is(err, e84.ErrGuardFailed) {
		t.Fatalf("AttemptRecovery mid-operation with VALID on: err = %v, want ErrGuardFailed", err)
	}

	_ = b.Set(e84.Valid, false)
	if err := m.AttemptRecovery(now); err != nil {
		t.Fatalf("AttemptRecovery once VALID drops: %v", err)
	}
	if m.State() != Idle {
		t.Fatalf("state = %s, want Idle", m.State())
	}
}

func TestResetPassesThroughResetStateToIdle(t *testing.T) {
	m, b := newTestMachine(t)
	now := time.Unix(0, 0)
	_ = b.Set(e84.HoAvbl, false)
	_ = b.Set(e84.ES, false)

	m.ToErrorHandling(now)
	m.Reset(now)

	if m.State() != Idle {
		t.Fatalf("state = %s, want Idle", m.State())
	}
	if v, _ := b.Get(e84.HoAvbl); !v {
		t.Fatalf("HO_AVBL = false after Reset, want true (Reset state restores passive defaults)")
	}
	if v, _ := b.Get(e84.ES); !v {
		t.Fatalf("ES = false after Reset, want true")
	}
}
