package iobridge

import (
	"context"
	"sync"
	"testing"
	"time"

	e84 "github.com/semiline/e84bridge"
	"github.com/semiline/e84bridge/bus"
)

type fakeHardware struct {
	mu      sync.Mutex
	inputs  map[e84.Name]bool
	written map[e84.Name]bool
	readErr error
}

func newFakeHardware() *fakeHardware {
	return &fakeHardware{inputs: map[e84.Name]bool{}, written: map[e84.Name]bool{}}
}

func (f *fakeHardware) ReadInputs() (map[e84.Name]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	out := make(map[e84.Name]bool, len(f.inputs))
	for k, v := range f.inputs {
		out[k] = v
	}
	return out, nil
}

func (f *fakeHardware) WriteOutputs(values map[e84.Name]bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, v := range values {
		f.written[k] = v
	}
	return nil
}

func (f *fakeHardware) setInput(name e84.Name, v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs[name] = v
}

func (f *fakeHardware) wrote(name e84.Name) (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.written[name]
	return v, ok
}

func TestStartPublishesHardwareInputsIntoBus(t *testing.T) {
	b := bus.New(nil)
	hw := newFakeHardware()
	hw.setInput(e84.PortSignal(e84.LptReadyBase, 0), false)

	br := New(b, hw, time.Millisecond, nil)
	if err := br.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	v, _ := b.Get(e84.PortSignal(e84.LptReadyBase, 0))
	if v {
		t.Fatalf("LPT_READY_0 = true after Start, want false (hardware input wins)")
	}
}

func TestStartPushesBusOutputsToHardware(t *testing.T) {
	b := bus.New(nil)
	_ = b.Set(e84.HoAvbl, true)
	hw := newFakeHardware()

	br := New(b, hw, time.Millisecond, nil)
	if err := br.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	v, ok := hw.wrote(e84.HoAvbl)
	if !ok || !v {
		t.Fatalf("hardware HO_AVBL = %v, %v, want true, true", v, ok)
	}
}

func TestStartMirrorsSubsequentOutputWrites(t *testing.T) {
	b := bus.New(nil)
	hw := newFakeHardware()
	br := New(b, hw, time.Millisecond, nil)
	if err := br.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := b.Set(e84.Ready, true); err != nil {
		t.Fatalf("Set READY: %v", err)
	}

	v, ok := hw.wrote(e84.Ready)
	if !ok || !v {
		t.Fatalf("hardware READY = %v, %v, want true, true after mirrored bus write", v, ok)
	}
}

func TestRunPollsInputsIntoBus(t *testing.T) {
	b := bus.New(nil)
	hw := newFakeHardware()
	br := New(b, hw, 5*time.Millisecond, nil)
	if err := br.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		br.Run(ctx)
		close(done)
	}()

	hw.setInput(e84.CS0, true)
	time.Sleep(40 * time.Millisecond)
	cancel()
	<-done

	v, _ := b.Get(e84.CS0)
	if !v {
		t.Fatalf("CS_0 = false after poll cycle observed hardware true, want true")
	}
}

func TestRunDrivesSafeOutputsOnShutdown(t *testing.T) {
	b := bus.New(nil)
	_ = b.Set(e84.Ready, true)
	_ = b.Set(e84.HoAvbl, false)
	hw := newFakeHardware()
	br := New(b, hw, 5*time.Millisecond, nil)
	if err := br.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		br.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	if v, _ := hw.wrote(e84.Ready); v {
		t.Fatalf("hardware READY = true after shutdown, want false")
	}
	if v, _ := hw.wrote(e84.HoAvbl); !v {
		t.Fatalf("hardware HO_AVBL = false after shutdown, want true")
	}
}
