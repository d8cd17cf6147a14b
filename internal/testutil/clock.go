// Package testutil provides deterministic stand-ins for the pieces of
// the scheduler that touch the outside world: wall time and instrument
// hardware.
package testutil

import (
	"context"
	"sync"
	"time"
)

// FakeTime is a deterministic timebase. Now returns a logical instant
// that advances only through Sleep or Advance, so scheduler tests run
// instantly and produce identical elapsed times on every run.
//
// Thread-safety: all methods are safe for concurrent use.
type FakeTime struct {
	mu     sync.Mutex
	now    time.Time
	slept  []time.Duration
	budget int // remaining Sleep calls before Sleep reports cancellation; <0 means unlimited
}

// NewFakeTime creates a fake timebase starting at a fixed epoch.
func NewFakeTime() *FakeTime {
	return &FakeTime{
		now:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		budget: -1,
	}
}

// Now returns the current logical instant.
func (f *FakeTime) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Sleep advances the logical clock by d immediately. When a sleep
// budget is set and exhausted, Sleep returns context.Canceled so a
// test can bound an otherwise endless tick loop.
func (f *FakeTime) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.budget == 0 {
		return context.Canceled
	}
	if f.budget > 0 {
		f.budget--
	}
	f.now = f.now.Add(d)
	f.slept = append(f.slept, d)
	return nil
}

// Advance moves the logical clock forward without recording a sleep.
func (f *FakeTime) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// SleepBudget limits how many Sleep calls succeed before Sleep starts
// returning context.Canceled.
func (f *FakeTime) SleepBudget(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.budget = n
}

// Slept returns a copy of the durations passed to Sleep, in order.
func (f *FakeTime) Slept() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration{}, f.slept...)
}
