package sim

import (
	"context"
	"math/rand"
	"time"

	e84 "github.com/semiline/e84bridge"
)

// ErrorInjector flips LPT_ERROR_p on each port, independently, with
// probability rate on every tick of period. It is seeded with an injected
// *rand.Rand so tests can pin the sequence of outcomes.
type ErrorInjector struct {
	bus    Bus
	rate   float64
	period time.Duration
	rng    *rand.Rand
	log    e84.Logger
}

// NewErrorInjector builds an ErrorInjector. rng must not be nil; the
// caller decides whether it is seeded from real entropy or a fixed seed.
func NewErrorInjector(b Bus, rate float64, period time.Duration, rng *rand.Rand, log e84.Logger) *ErrorInjector {
	if log == nil {
		log = e84.NopLogger{}
	}
	return &ErrorInjector{bus: b, rate: rate, period: period, rng: rng, log: log}
}

// Tick evaluates one round of the injector against both ports, independent
// of any ticker — exported so tests can drive it deterministically without
// waiting on a timer.
func (e *ErrorInjector) Tick() {
	for p := 0; p < 2; p++ {
		if e.rng.Float64() >= e.rate {
			continue
		}
		name := e84.PortSignal(e84.LptErrorBase, p)
		cur, err := e.bus.Get(name)
		if err != nil {
			e.log.Error("sim: error injector read failed", e84.Int("port", p), e84.Err(err))
			continue
		}
		if err := e.bus.Set(name, !cur); err != nil {
			e.log.Error("sim: error injector write failed", e84.Int("port", p), e84.Err(err))
		}
	}
}

// Run calls Tick once per period until ctx is cancelled.
func (e *ErrorInjector) Run(ctx context.Context) {
	ticker := time.NewTicker(e.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Tick()
		}
	}
}
