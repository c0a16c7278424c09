package stream

import (
	"context"
	"sync/atomic"
	"time"
)

// DefaultRate is the default stream frame rate (frames per second)
const DefaultRate = 10.0

// Pacer runs a tick function at a fixed rate using absolute deadlines, so the
// time spent inside a tick does not accumulate as drift
type Pacer struct {
	period time.Duration
	ticks  atomic.Uint64
	resync atomic.Uint64
}

// NewPacer creates a pacer running at rate ticks per second
func NewPacer(rate float64) *Pacer {
	if rate <= 0 {
		rate = DefaultRate
	}
	return &Pacer{period: time.Duration(float64(time.Second) / rate)}
}

// Period returns the interval between ticks
func (p *Pacer) Period() time.Duration {
	return p.period
}

// Ticks returns the number of ticks run so far
func (p *Pacer) Ticks() uint64 {
	return p.ticks.Load()
}

// Resyncs returns how often the pacer fell more than a period behind and
// dropped the missed deadlines
func (p *Pacer) Resyncs() uint64 {
	return p.resync.Load()
}

// Run calls tick once per period until ctx is cancelled or tick returns an
// error. Returns the tick error, or nil on cancellation.
func (p *Pacer) Run(ctx context.Context, tick func() error) error {
	timer := time.NewTimer(p.period)
	defer timer.Stop()

	next := time.Now()
	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := tick(); err != nil {
			return err
		}
		p.ticks.Add(1)

		next = next.Add(p.period)
		now := time.Now()
		wait := next.Sub(now)
		if wait < -p.period {
			// Too far behind to catch up; restart the schedule from now
			next = now
			wait = 0
			p.resync.Add(1)
		}
		if wait <= 0 {
			continue
		}

		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
	}
}
