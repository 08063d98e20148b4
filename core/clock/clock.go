// Package clock provides the logical tick source used for every delay,
// expiry and paid-through comparison in the ledger.
package clock

import (
	"sync"
	"time"
)

// Clock returns a non-decreasing logical tick.
type Clock interface {
	Now() uint64
}

// Manual is a clock advanced explicitly. Tests use it to step through delays
// without sleeping.
type Manual struct {
	mu   sync.Mutex
	tick uint64
}

// NewManual returns a manual clock starting at the supplied tick.
func NewManual(start uint64) *Manual { return &Manual{tick: start} }

// Now implements Clock.
func (m *Manual) Now() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tick
}

// Advance moves the clock forward by delta ticks and returns the new tick.
func (m *Manual) Advance(delta uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tick += delta
	return m.tick
}

// Set moves the clock to tick. Attempts to move backwards are ignored.
func (m *Manual) Set(tick uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tick > m.tick {
		m.tick = tick
	}
}

// Interval derives ticks from wall time: one tick per interval elapsed since
// the genesis instant. Readings never go backwards even if the wall clock
// does.
type Interval struct {
	genesis  time.Time
	interval time.Duration
	nowFn    func() time.Time

	mu   sync.Mutex
	last uint64
}

// NewInterval returns a wall-time derived clock. A non-positive interval
// defaults to one second.
func NewInterval(genesis time.Time, interval time.Duration) *Interval {
	if interval <= 0 {
		interval = time.Second
	}
	return &Interval{genesis: genesis.UTC(), interval: interval, nowFn: time.Now}
}

// SetNowFunc overrides the wall time source. Passing nil restores time.Now.
func (c *Interval) SetNowFunc(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now == nil {
		now = time.Now
	}
	c.nowFn = now
}

// Now implements Clock.
func (c *Interval) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	elapsed := c.nowFn().UTC().Sub(c.genesis)
	var tick uint64
	if elapsed > 0 {
		tick = uint64(elapsed / c.interval)
	}
	if tick < c.last {
		return c.last
	}
	c.last = tick
	return tick
}
