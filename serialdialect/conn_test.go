package serialdialect

import (
	"errors"
	"testing"
	"time"
)

type fakeLine struct {
	written []string
	replies []string
	errs    []error
	idx     int
}

func (f *fakeLine) WriteLine(line string) error {
	f.written = append(f.written, line)
	return nil
}

func (f *fakeLine) ReadLine(time.Duration) (string, error) {
	if f.idx >= len(f.replies) {
		return "", errors.New("fakeLine: no more replies queued")
	}
	r, err := f.replies[f.idx], f.errs[f.idx]
	f.idx++
	return r, err
}

func (f *fakeLine) Close() error { return nil }

func (f *fakeLine) queue(reply string, err error) {
	f.replies = append(f.replies, reply)
	f.errs = append(f.errs, err)
}

func TestCommandSucceedsOnHCAOK(t *testing.T) {
	fl := &fakeLine{}
	fl.queue("HCA OK", nil)
	c := NewConn(fl, time.Second, 2)

	if err := c.Lock(); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if fl.written[0] != "HCS LOCK" {
		t.Fatalf("written = %q, want %q", fl.written[0], "HCS LOCK")
	}
}

func TestCommandRetriesOnBadResponse(t *testing.T) {
	fl := &fakeLine{}
	fl.queue("HCA ERR", nil)
	fl.queue("HCA OK", nil)
	c := NewConn(fl, time.Second, 2)

	if err := c.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if len(fl.written) != 2 {
		t.Fatalf("written %d lines, want 2 (one retry)", len(fl.written))
	}
}

func TestCommandFailsAfterExhaustingRetries(t *testing.T) {
	fl := &fakeLine{}
	fl.queue("HCA ERR", nil)
	fl.queue("HCA ERR", nil)
	c := NewConn(fl, time.Second, 1)

	if err := c.Recovery(); err == nil {
		t.Fatalf("Recovery: expected error after exhausting retries, got nil")
	}
}

func TestEnableLoadFormatsPortID(t *testing.T) {
	fl := &fakeLine{}
	fl.queue("HCA OK", nil)
	c := NewConn(fl, time.Second, 0)

	if err := c.EnableLoad(1); err != nil {
		t.Fatalf("EnableLoad: %v", err)
	}
	if fl.written[0] != "HCS ENABLE LOAD P1" {
		t.Fatalf("written = %q, want %q", fl.written[0], "HCS ENABLE LOAD P1")
	}
}

func TestStatusParsesFSDLine(t *testing.T) {
	fl := &fakeLine{}
	fl.queue("FSD PIP=TRUE PRTST=LOCK READY=TRUE ALMID=0000", nil)
	c := NewConn(fl, time.Second, 0)

	st, err := c.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !st.CarrierPresent || !st.LatchLocked || !st.LptReady || st.LptError {
		t.Fatalf("Status() = %+v, want all true except LptError", st)
	}
}

func TestStatusDispatchesAsyncEventsBeforeFSD(t *testing.T) {
	fl := &fakeLine{}
	fl.queue("AERS POD_ARRIVED", nil)
	fl.queue("FSD PIP=FALSE PRTST=UNLK READY=FALSE ALMID=0001", nil)
	c := NewConn(fl, time.Second, 0)

	var got Event
	c.OnAsyncEvent(func(ev Event) { got = ev })

	st, err := c.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if got.Kind != PodArrived {
		t.Fatalf("async event kind = %s, want %s", got.Kind, PodArrived)
	}
	if !st.LptError {
		t.Fatalf("LptError = false, want true (ALMID != 0000)")
	}
}

func TestParseEventAlarmLine(t *testing.T) {
	ev, ok := ParseEvent("ARS 1234 latch jam")
	if !ok {
		t.Fatalf("ParseEvent: expected ok=true for ARS line")
	}
	if !ev.Alarm || ev.ID != "1234" || ev.Text != "latch jam" {
		t.Fatalf("ParseEvent() = %+v, want Alarm=true ID=1234 Text=%q", ev, "latch jam")
	}
}

func TestParseEventIgnoresUnrelatedLine(t *testing.T) {
	if _, ok := ParseEvent("FSD PIP=TRUE"); ok {
		t.Fatalf("ParseEvent: expected ok=false for an FSD line")
	}
}
