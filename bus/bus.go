// Package bus implements the Signal Bus (SPEC_FULL.md §4.1): the single
// source of truth for every E84 signal value, with edge-triggered watcher
// fan-out. Everything else in this module — the handshake state machine,
// the arbiter, the I/O bridge — reads and writes signals exclusively
// through a Bus rather than holding its own copy.
package bus

import (
	"fmt"
	"sync"

	e84 "github.com/semiline/e84bridge"
)

// Watcher is notified after a signal's value changes. newValue and oldValue
// are always different; Set never fires a watcher for a same-value write.
type Watcher func(name e84.Name, newValue, oldValue bool)

type registration struct {
	source   string
	watcher  Watcher
	failures int
}

// Bus holds every signal's current value and the watchers registered
// against it. The zero value is not usable; construct with New.
type Bus struct {
	log e84.Logger

	mu          sync.Mutex
	values      map[e84.Name]bool
	watchers    map[e84.Name][]*registration
	dispatching map[e84.Name]bool
}

// New builds a Bus seeded with the default value of every signal in the
// fixed universe (e84.Defaults).
func New(log e84.Logger) *Bus {
	if log == nil {
		log = e84.NopLogger{}
	}
	b := &Bus{
		log:         log,
		values:      make(map[e84.Name]bool),
		watchers:    make(map[e84.Name][]*registration),
		dispatching: make(map[e84.Name]bool),
	}
	for name, v := range e84.Defaults() {
		b.values[name] = v
	}
	return b
}

// Get returns the current value of name, or e84.ErrUnknownSignal if name is
// outside the fixed universe.
func (b *Bus) Get(name e84.Name) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.values[name]
	if !ok {
		return false, fmt.Errorf("%w: %s", e84.ErrUnknownSignal, name)
	}
	return v, nil
}

// Set writes v to name. If v equals the stored value, Set is a no-op: no
// watcher runs. Otherwise the value is written first, then every watcher
// registered against name is invoked in registration order, synchronously,
// before Set returns.
//
// If a watcher invoked from within this call turns around and calls Set on
// the same signal (directly, or transitively through another watcher), the
// nested call is dropped: it neither changes the value nor runs any
// watcher. This mirrors SPEC_FULL.md §4.1/§8 (testable property S5): an
// on-entry action that sets a signal must win over a watcher's attempt to
// re-drive the same signal mid-dispatch.
func (b *Bus) Set(name e84.Name, v bool) error {
	b.mu.Lock()
	old, ok := b.values[name]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", e84.ErrUnknownSignal, name)
	}
	if b.dispatching[name] {
		b.mu.Unlock()
		b.log.Warn("dropped recursive signal write", e84.Str("signal", string(name)), e84.Bool("attempted", v))
		return nil
	}
	if old == v {
		b.mu.Unlock()
		return nil
	}
	b.values[name] = v
	b.dispatching[name] = true
	regs := append([]*registration(nil), b.watchers[name]...)
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.dispatching, name)
		b.mu.Unlock()
	}()

	for _, r := range regs {
		b.invoke(name, r, v, old)
	}
	return nil
}

func (b *Bus) invoke(name e84.Name, r *registration, newV, oldV bool) {
	defer func() {
		if rec := recover(); rec != nil {
			b.recordFailure(name, r, fmt.Errorf("panic: %v", rec))
		}
	}()
	r.watcher(name, newV, oldV)
}

func (b *Bus) recordFailure(name e84.Name, r *registration, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r.failures++
	fault := &e84.WatcherFault{Signal: name, Source: r.source, Err: err}
	b.log.Error("watcher fault", e84.Str("signal", string(name)), e84.Str("source", r.source), e84.Err(fault))
	if r.failures < 3 {
		return
	}
	remaining := b.watchers[name][:0]
	for _, x := range b.watchers[name] {
		if x != r {
			remaining = append(remaining, x)
		}
	}
	b.watchers[name] = remaining
	b.log.Warn("watcher evicted after repeated failures", e84.Str("signal", string(name)), e84.Str("source", r.source))
}

// Watch registers w against name, tagged with source for logging and later
// removal via Unwatch. Watchers for a given signal run in registration
// order.
func (b *Bus) Watch(name e84.Name, source string, w Watcher) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.values[name]; !ok {
		return fmt.Errorf("%w: %s", e84.ErrUnknownSignal, name)
	}
	b.watchers[name] = append(b.watchers[name], &registration{source: source, watcher: w})
	return nil
}

// Unwatch removes every watcher registered against name under source.
func (b *Bus) Unwatch(name e84.Name, source string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.values[name]; !ok {
		return fmt.Errorf("%w: %s", e84.ErrUnknownSignal, name)
	}
	remaining := b.watchers[name][:0]
	for _, r := range b.watchers[name] {
		if r.source != source {
			remaining = append(remaining, r)
		}
	}
	b.watchers[name] = remaining
	return nil
}

// Pair is one signal/value observation, returned by Snapshot.
type Pair struct {
	Name  e84.Name
	Value bool
}

// Snapshot returns the current value of every signal in the fixed universe,
// in e84.AllSignals order. Each pair is read independently; Snapshot does
// not freeze the whole bus for the duration of the call.
func (b *Bus) Snapshot() []Pair {
	all := e84.AllSignals()
	out := make([]Pair, len(all))
	for i, n := range all {
		b.mu.Lock()
		v := b.values[n]
		b.mu.Unlock()
		out[i] = Pair{Name: n, Value: v}
	}
	return out
}

// ResetAll drives every signal back to its e84.Defaults value, firing
// watchers for every signal that actually changes.
func (b *Bus) ResetAll() {
	for name, v := range e84.Defaults() {
		_ = b.Set(name, v)
	}
}

// ResetPassive drives just the five passive outputs (e84.PassiveOutputs)
// back to their reset values, firing watchers for any that change, leaving
// active inputs and per-port signals untouched.
func (b *Bus) ResetPassive() {
	for name, v := range e84.PassiveDefaults() {
		_ = b.Set(name, v)
	}
}
