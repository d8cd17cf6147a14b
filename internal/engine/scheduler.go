// Package engine contains the scheduler: the single-writer tick loop
// that sequences routine advancement, instrument I/O, expression
// refresh, alarm evaluation and snapshot emission on one shared
// experiment clock.
//
// CRITICAL: All registry mutations happen in the Run loop goroutine.
// External callers interact through Stop/RequestPause/RequestResume,
// which are honored at the next tick boundary, never mid-instrument-call.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/quenchlab/rig/internal/alarm"
	"github.com/quenchlab/rig/internal/instrument"
	"github.com/quenchlab/rig/internal/registry"
	"github.com/quenchlab/rig/internal/routine"
	"github.com/quenchlab/rig/internal/sink"
)

// State is the scheduler lifecycle state.
type State int32

const (
	// Idle means Run has not been called yet.
	Idle State = iota
	// Running means the tick loop is advancing the experiment.
	Running
	// Paused means a wait alarm or an external pause request gates the
	// experiment clock. Meters are still read and alarms re-evaluated.
	Paused
	// Terminated is final: normal completion, abort, or stop.
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Terminated:
		return "terminated"
	}
	return "unknown"
}

// Defaults for Config fields left zero.
const (
	// DefaultMaxHoldRetries bounds consecutive hold-and-retry ticks
	// before escalating to abort.
	DefaultMaxHoldRetries = 5

	// DefaultMaxIORetries bounds consecutive failing instrument
	// operations before the run terminates with IOAbortError.
	DefaultMaxIORetries = 3
)

// Output couples a sink dispatcher with its emission cadence in ticks.
// A runcard's save interval and plot interval become two Outputs.
type Output struct {
	Name       string
	Interval   int // ticks between snapshots; <= 0 disables
	Dispatcher *sink.Dispatcher
}

// Config carries the scheduler's scalar settings.
type Config struct {
	// RunID stamps every snapshot; assigned by the store at run start.
	RunID string

	// StepInterval is the minimum spacing between tick starts. A tick
	// whose I/O runs longer simply runs long; ticks are never dropped
	// to catch up.
	StepInterval time.Duration

	// MaxTicks bounds the run length; 0 means run until all routines
	// complete (or forever, if there are none, until Stop).
	MaxTicks int64

	// MaxHoldRetries and MaxIORetries override the defaults when > 0.
	MaxHoldRetries int
	MaxIORetries   int
}

// Scheduler drives one experiment run.
type Scheduler struct {
	cfg      Config
	reg      *registry.Registry
	drivers  map[string]instrument.Driver
	routines []routine.Routine
	monitor  *alarm.Monitor
	outputs  []Output
	clock    *Clock
	tb       Timebase

	state    atomic.Int32
	stopReq  atomic.Bool
	pauseReq atomic.Bool

	tick        int64
	knobVars    []*registry.Variable
	meterVars   []*registry.Variable
	prevSafe    map[string]float64 // last knob values confirmed safe by a clear tick
	wroteThis   map[string]float64 // knob writes of the current tick
	holdRetries int
	ioFailures  map[string]int // consecutive failures per variable's instrument operation

	lastSnapshot     time.Time
	lastSnapshotSeen bool
}

// New assembles a scheduler. The routines slice must already have
// passed routine.CheckConflicts; the registry must already resolve
// without cycles. Both are validation-time guarantees of the runcard
// loader.
func New(
	cfg Config,
	reg *registry.Registry,
	drivers map[string]instrument.Driver,
	routines []routine.Routine,
	monitor *alarm.Monitor,
	outputs []Output,
	tb Timebase,
) *Scheduler {
	if tb == nil {
		tb = RealTime{}
	}
	if cfg.MaxHoldRetries <= 0 {
		cfg.MaxHoldRetries = DefaultMaxHoldRetries
	}
	if cfg.MaxIORetries <= 0 {
		cfg.MaxIORetries = DefaultMaxIORetries
	}

	s := &Scheduler{
		cfg:        cfg,
		reg:        reg,
		drivers:    drivers,
		routines:   append([]routine.Routine{}, routines...),
		monitor:    monitor,
		outputs:    outputs,
		clock:      NewClock(tb),
		tb:         tb,
		prevSafe:   map[string]float64{},
		ioFailures: map[string]int{},
	}
	s.state.Store(int32(Idle))

	for _, name := range reg.Names() {
		v := reg.Lookup(name)
		switch v.Kind {
		case registry.Knob:
			s.knobVars = append(s.knobVars, v)
		case registry.Meter:
			s.meterVars = append(s.meterVars, v)
		}
	}
	return s
}

// State returns the current lifecycle state. Safe from any goroutine.
func (s *Scheduler) State() State { return State(s.state.Load()) }

// Tick returns the number of completed ticks. Safe only for
// post-mortem inspection after Run returns.
func (s *Scheduler) Tick() int64 { return s.tick }

// Stop requests termination at the next tick boundary. Safe from any
// goroutine. In-flight instrument I/O completes before teardown.
func (s *Scheduler) Stop() { s.stopReq.Store(true) }

// RequestPause gates the experiment clock at the next tick boundary,
// as if a wait alarm were active. Safe from any goroutine.
func (s *Scheduler) RequestPause() { s.pauseReq.Store(true) }

// RequestResume lifts an external pause. The scheduler still stays
// paused while any wait alarm remains triggered.
func (s *Scheduler) RequestResume() { s.pauseReq.Store(false) }

// Run executes the experiment until completion, abort, stop, or ctx
// cancellation. Must be called exactly once, from one goroutine.
//
// On any return path, pending snapshots are flushed before Run gives
// back control.
func (s *Scheduler) Run(ctx context.Context) (err error) {
	if !s.state.CompareAndSwap(int32(Idle), int32(Running)) {
		return fmt.Errorf("scheduler already started (state %s)", s.State())
	}

	slog.Info("experiment starting",
		"run_id", s.cfg.RunID,
		"step_interval", s.cfg.StepInterval,
		"routines", len(s.routines),
		"alarms", len(s.monitor.Alarms()),
	)

	defer func() {
		s.state.Store(int32(Terminated))
		flushErr := s.flushOutputs()
		if err == nil {
			err = flushErr
		}
		slog.Info("experiment terminated", "run_id", s.cfg.RunID, "ticks", s.tick, "error", err)
	}()

	if err := s.applyPresets(ctx); err != nil {
		return err
	}
	s.clock.Start()

	for {
		select {
		case <-ctx.Done():
			slog.Info("experiment stopping: context cancelled", "run_id", s.cfg.RunID)
			return ctx.Err()
		default:
		}
		if s.stopReq.Load() {
			slog.Info("experiment stopping: stop requested", "run_id", s.cfg.RunID)
			return nil
		}

		tickStart := s.tb.Now()
		done, err := s.runTick(ctx)
		sink.ObserveTickDuration(s.tb.Now().Sub(tickStart).Seconds())
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		// Step interval is minimum spacing, not a deadline: a long
		// tick just starts the next one immediately.
		if remaining := s.cfg.StepInterval - s.tb.Now().Sub(tickStart); remaining > 0 {
			if err := s.tb.Sleep(ctx, remaining); err != nil {
				return err
			}
		}
	}
}

// runTick performs one tick in the fixed order: routines, knob writes,
// meter reads, expression refresh, alarms, snapshot emission. Returns
// done=true on normal completion.
func (s *Scheduler) runTick(ctx context.Context) (done bool, err error) {
	s.tick++
	waiting := s.State() == Paused
	elapsed := s.clock.Elapsed()

	slog.Debug("tick", "n", s.tick, "elapsed", elapsed, "waiting", waiting)

	// (1)+(2) Advance routines and write knob targets, unless gated.
	s.wroteThis = map[string]float64{}
	if !waiting {
		if err := s.advanceRoutines(ctx, elapsed); err != nil {
			return false, err
		}
	}

	// (3) Read all meters. This continues even while waiting so the
	// gating condition can clear.
	if err := s.readMeters(ctx); err != nil {
		return false, err
	}

	// (4) Recompute expressions in dependency order.
	if err := s.reg.Refresh(); err != nil {
		return false, fmt.Errorf("tick %d: %w", s.tick, err)
	}

	// (5) Alarms observe exactly the values a snapshot would record.
	triggered, err := s.monitor.Triggered(s.reg)
	if err != nil {
		return false, fmt.Errorf("tick %d: %w", s.tick, err)
	}
	waitActive, abort := s.applyAlarms(ctx, triggered)
	if abort != nil {
		// Controlled abort: persist the terminal state before leaving.
		s.emitSnapshots(true)
		if s.lastSnapshotSeen {
			abort.LastSnapshot = s.lastSnapshot
		}
		return false, abort
	}

	// Reconcile the paused state from wait alarms + external requests.
	s.reconcilePause(waitActive)

	// (6) Emit snapshots at each output's cadence.
	s.emitSnapshots(false)

	if s.cfg.MaxTicks > 0 && s.tick >= s.cfg.MaxTicks {
		slog.Info("experiment complete: tick budget reached", "ticks", s.tick)
		return true, nil
	}
	if len(s.routines) > 0 && s.State() != Paused && s.allRoutinesComplete(s.clock.Elapsed()) {
		slog.Info("experiment complete: all routines finished", "ticks", s.tick)
		return true, nil
	}
	return false, nil
}

// applyPresets writes each knob's preset through its driver before the
// first tick, establishing the starting safe values.
func (s *Scheduler) applyPresets(ctx context.Context) error {
	for _, v := range s.knobVars {
		if v.Preset == nil {
			continue
		}
		d := s.drivers[v.Instrument]
		if err := d.Set(ctx, v.Param, *v.Preset); err != nil {
			return fmt.Errorf("apply preset %q: %w", v.Name, err)
		}
		s.prevSafe[v.Name] = *v.Preset
		slog.Debug("preset applied", "variable", v.Name, "value", *v.Preset)
	}
	return nil
}

// advanceRoutines samples each non-complete routine at the elapsed time
// and writes the target through the instrument layer, one write per
// target variable per tick.
func (s *Scheduler) advanceRoutines(ctx context.Context, elapsed float64) error {
	for _, r := range s.routines {
		if r.CompleteAt(elapsed) {
			continue
		}
		target := r.Value(elapsed)
		v := s.reg.Lookup(r.Target())
		d := s.drivers[v.Instrument]

		if err := d.Set(ctx, v.Param, target); err != nil {
			if ioErr := s.recordIOFailure(v.Name, err); ioErr != nil {
				return ioErr
			}
			continue
		}
		delete(s.ioFailures, v.Name)
		if err := s.reg.Set(v.Name, target); err != nil {
			return err
		}
		s.wroteThis[v.Name] = target
	}
	return nil
}

// readMeters refreshes every meter variable from its instrument.
func (s *Scheduler) readMeters(ctx context.Context) error {
	for _, v := range s.meterVars {
		d := s.drivers[v.Instrument]
		value, err := d.Measure(ctx, v.Param)
		if err != nil {
			if ioErr := s.recordIOFailure(v.Name, err); ioErr != nil {
				return ioErr
			}
			continue
		}
		delete(s.ioFailures, v.Name)
		if err := s.reg.Set(v.Name, value); err != nil {
			return err
		}
	}
	return nil
}

// recordIOFailure counts a failed instrument operation for one
// variable. Each variable's operation retries independently on the
// next tick; after MaxIORetries consecutive failures of the same
// operation it returns the fatal IOAbortError.
func (s *Scheduler) recordIOFailure(name string, err error) error {
	s.ioFailures[name]++
	n := s.ioFailures[name]
	slog.Error("instrument I/O failed",
		"tick", s.tick,
		"variable", name,
		"consecutive", n,
		"error", err,
	)
	if n >= s.cfg.MaxIORetries {
		return &IOAbortError{Attempts: n, Err: err}
	}
	return nil
}

// applyAlarms applies the triggered alarms' protocols. The monitor
// already ordered them by declaration and short-circuited after the
// first non-wait alarm, so at most the last entry is non-wait.
//
// Returns waitActive when at least one wait alarm currently holds, and
// a non-nil abort error when the experiment must terminate.
func (s *Scheduler) applyAlarms(ctx context.Context, triggered []*alarm.Alarm) (waitActive bool, abort *AlarmAbortError) {
	for _, a := range triggered {
		value, _ := s.reg.Get(a.Variable)

		switch a.Protocol {
		case alarm.ProtocolWait:
			waitActive = true
			slog.Warn("wait alarm active",
				"alarm", a.Name, "variable", a.Variable, "value", value, "condition", a.Cond.String())

		case alarm.ProtocolHold:
			s.holdRetries++
			slog.Warn("hold alarm triggered: rewriting previous safe values",
				"alarm", a.Name, "variable", a.Variable, "value", value,
				"retry", s.holdRetries, "max", s.cfg.MaxHoldRetries)
			if s.holdRetries > s.cfg.MaxHoldRetries {
				return false, s.abortError(a, value, true)
			}
			s.rewriteSafeValues(ctx)
			return waitActive, nil

		case alarm.ProtocolAbort:
			slog.Error("abort alarm triggered",
				"alarm", a.Name, "variable", a.Variable, "value", value, "condition", a.Cond.String())
			return false, s.abortError(a, value, false)
		}
	}

	// A clear tick (no hold alarm) confirms this tick's writes as the
	// new safe values and resets the retry budget.
	if s.holdRetries > 0 {
		slog.Info("hold alarm cleared", "after_retries", s.holdRetries)
	}
	s.holdRetries = 0
	for name, v := range s.wroteThis {
		s.prevSafe[name] = v
	}
	return waitActive, nil
}

func (s *Scheduler) abortError(a *alarm.Alarm, value float64, escalated bool) *AlarmAbortError {
	return &AlarmAbortError{
		Alarm:     a.Name,
		Variable:  a.Variable,
		Value:     value,
		Tick:      s.tick,
		Escalated: escalated,
	}
}

// rewriteSafeValues re-issues the previous safe value for every knob
// written this tick: the hold-and-retry protocol's "retry with the
// previous safe value instead of the new target".
func (s *Scheduler) rewriteSafeValues(ctx context.Context) {
	for name := range s.wroteThis {
		safe, ok := s.prevSafe[name]
		if !ok {
			continue // knob had no confirmed-safe value yet
		}
		v := s.reg.Lookup(name)
		d := s.drivers[v.Instrument]
		if err := d.Set(ctx, v.Param, safe); err != nil {
			slog.Error("safe-value rewrite failed", "variable", name, "value", safe, "error", err)
			continue
		}
		_ = s.reg.Set(name, safe)
		slog.Info("knob held at previous safe value", "variable", name, "value", safe)
	}
}

// reconcilePause moves between Running and Paused based on wait alarms
// and the external pause request, gating the experiment clock.
func (s *Scheduler) reconcilePause(waitActive bool) {
	shouldPause := waitActive || s.pauseReq.Load()
	switch {
	case shouldPause && s.State() == Running:
		s.clock.Pause()
		s.state.Store(int32(Paused))
		slog.Info("experiment paused", "tick", s.tick, "elapsed", s.clock.Elapsed())
	case !shouldPause && s.State() == Paused:
		s.clock.Resume()
		s.state.Store(int32(Running))
		slog.Info("experiment resumed", "tick", s.tick, "elapsed", s.clock.Elapsed())
	}
}

// emitSnapshots hands the current registry state to every output whose
// cadence divides the tick count. With force set (abort path) every
// output gets a final snapshot regardless of cadence.
func (s *Scheduler) emitSnapshots(force bool) {
	var snap *sink.Snapshot
	for _, out := range s.outputs {
		if out.Dispatcher == nil || out.Interval <= 0 {
			continue
		}
		if !force && s.tick%int64(out.Interval) != 0 {
			continue
		}
		if snap == nil {
			// One immutable copy shared by all outputs for this tick.
			snap = &sink.Snapshot{
				RunID:   s.cfg.RunID,
				Tick:    s.tick,
				Elapsed: s.clock.Elapsed(),
				Wall:    s.tb.Now(),
				Values:  s.reg.Snapshot(),
			}
		}
		out.Dispatcher.Emit(*snap)
	}
	if snap != nil {
		s.lastSnapshot = snap.Wall
		s.lastSnapshotSeen = true
	}
}

// flushOutputs drains and flushes every output dispatcher, bounded so
// a stuck sink cannot hold termination hostage.
func (s *Scheduler) flushOutputs() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var firstErr error
	for _, out := range s.outputs {
		if out.Dispatcher == nil {
			continue
		}
		if err := out.Dispatcher.Close(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("flush output %q: %w", out.Name, err)
		}
	}
	return firstErr
}

// allRoutinesComplete reports whether every routine has passed its last
// control point.
func (s *Scheduler) allRoutinesComplete(elapsed float64) bool {
	for _, r := range s.routines {
		if !r.CompleteAt(elapsed) {
			return false
		}
	}
	return true
}
