package engine

import (
	"context"
	"time"
)

// Timebase abstracts wall time so the scheduler can be driven by a
// fake clock in tests. The production implementation is RealTime.
type Timebase interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep blocks for d or until ctx is cancelled, returning ctx.Err()
	// in the latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// RealTime is the production Timebase backed by the system clock.
type RealTime struct{}

// Now implements Timebase.
func (RealTime) Now() time.Time { return time.Now() }

// Sleep implements Timebase.
func (RealTime) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Clock is the experiment clock: the sole source of elapsed time for
// routines and snapshot cadence. It is pausable, and pausing gates the
// clock itself: while a wait alarm holds, elapsed time does not grow,
// so routines resume exactly where they stopped instead of catching up.
//
// Owned exclusively by the scheduler goroutine; not safe for concurrent
// use.
type Clock struct {
	tb       Timebase
	start    time.Time
	pausedAt time.Time
	paused   bool
	stoppage time.Duration // total time spent paused
	started  bool
}

// NewClock creates a clock on the given timebase. The clock does not
// run until Start.
func NewClock(tb Timebase) *Clock {
	return &Clock{tb: tb}
}

// Start begins (or restarts) timekeeping at zero elapsed.
func (c *Clock) Start() {
	c.start = c.tb.Now()
	c.paused = false
	c.stoppage = 0
	c.started = true
}

// Elapsed returns experiment time in seconds: wall time since Start
// minus all paused stoppage. While paused, Elapsed holds constant.
func (c *Clock) Elapsed() float64 {
	if !c.started {
		return 0
	}
	if c.paused {
		return (c.pausedAt.Sub(c.start) - c.stoppage).Seconds()
	}
	return (c.tb.Now().Sub(c.start) - c.stoppage).Seconds()
}

// Pause freezes elapsed time. Pausing an already-paused clock is a
// no-op.
func (c *Clock) Pause() {
	if c.paused || !c.started {
		return
	}
	c.pausedAt = c.tb.Now()
	c.paused = true
}

// Resume unfreezes elapsed time, accounting the pause as stoppage.
// Resuming a running clock is a no-op.
func (c *Clock) Resume() {
	if !c.paused {
		return
	}
	c.stoppage += c.tb.Now().Sub(c.pausedAt)
	c.paused = false
}

// Paused reports whether the clock is currently frozen.
func (c *Clock) Paused() bool { return c.paused }
