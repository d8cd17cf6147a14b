// Package routine implements time-parameterized setpoint schedules.
// A routine maps elapsed experiment time to a target value for one
// knob variable; the scheduler samples it once per tick and writes the
// result through the instrument layer.
package routine

import (
	"fmt"
	"sort"
)

// State tracks a routine through its lifecycle. Transitions are
// one-way: Pending -> Active -> Complete.
type State int

const (
	// Pending means elapsed time has not reached the first control point.
	Pending State = iota
	// Active means the routine is interpolating between control points.
	Active
	// Complete means elapsed time passed the last control point; the
	// final value holds and no further writes occur.
	Complete
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Active:
		return "active"
	case Complete:
		return "complete"
	}
	return "unknown"
}

// Routine drives one knob's target value over experiment time.
type Routine interface {
	// Name returns the routine's runcard name.
	Name() string

	// Target returns the name of the knob variable this routine writes.
	Target() string

	// Value returns the target value at the given elapsed time, clamped
	// to the first/last control value outside the schedule's range.
	Value(elapsed float64) float64

	// CompleteAt reports whether elapsed time has passed the last
	// control point.
	CompleteAt(elapsed float64) bool
}

// StateAt derives the lifecycle state of a routine at an elapsed time.
func StateAt(r Routine, elapsed float64) State {
	if r.CompleteAt(elapsed) {
		return Complete
	}
	if t, ok := r.(interface{ startTime() float64 }); ok && elapsed < t.startTime() {
		return Pending
	}
	return Active
}

// Timecourse is a piecewise-linear schedule over ordered control
// points, the runcard's "Timecourse" routine type. Between bracketing
// points the value is linearly interpolated; outside the time range it
// clamps to the first/last value.
type Timecourse struct {
	name   string
	target string
	times  []float64
	values []float64
}

// NewTimecourse builds a Timecourse. Times must be non-decreasing and
// values must be the same length; both are checked again at runcard
// validation so configuration errors never reach the tick loop.
func NewTimecourse(name, target string, times, values []float64) (*Timecourse, error) {
	if len(times) == 0 {
		return nil, fmt.Errorf("routine %q: needs at least one control point", name)
	}
	if len(times) != len(values) {
		return nil, fmt.Errorf("routine %q: %d times but %d values", name, len(times), len(values))
	}
	if !sort.Float64sAreSorted(times) {
		return nil, fmt.Errorf("routine %q: times must be non-decreasing", name)
	}
	return &Timecourse{
		name:   name,
		target: target,
		times:  append([]float64{}, times...),
		values: append([]float64{}, values...),
	}, nil
}

// Name implements Routine.
func (tc *Timecourse) Name() string { return tc.name }

// Target implements Routine.
func (tc *Timecourse) Target() string { return tc.target }

func (tc *Timecourse) startTime() float64 { return tc.times[0] }

// Value implements Routine.
func (tc *Timecourse) Value(elapsed float64) float64 {
	n := len(tc.times)
	if elapsed <= tc.times[0] {
		return tc.values[0]
	}
	if elapsed >= tc.times[n-1] {
		return tc.values[n-1]
	}

	// First control point strictly after elapsed.
	i := sort.SearchFloat64s(tc.times, elapsed)
	if tc.times[i] == elapsed {
		return tc.values[i]
	}

	t0, t1 := tc.times[i-1], tc.times[i]
	v0, v1 := tc.values[i-1], tc.values[i]
	if t1 == t0 {
		// Step discontinuity: take the later value.
		return v1
	}
	return v0 + (v1-v0)*(elapsed-t0)/(t1-t0)
}

// CompleteAt implements Routine.
func (tc *Timecourse) CompleteAt(elapsed float64) bool {
	return elapsed > tc.times[len(tc.times)-1]
}

// Duration returns the time of the last control point.
func (tc *Timecourse) Duration() float64 { return tc.times[len(tc.times)-1] }

// Hold pins a knob to a constant value between a start and an end time.
type Hold struct {
	name   string
	target string
	start  float64
	end    float64
	value  float64
}

// NewHold builds a Hold routine holding value from start to end.
func NewHold(name, target string, start, end, value float64) (*Hold, error) {
	if end < start {
		return nil, fmt.Errorf("routine %q: end %v before start %v", name, end, start)
	}
	return &Hold{name: name, target: target, start: start, end: end, value: value}, nil
}

// Name implements Routine.
func (h *Hold) Name() string { return h.name }

// Target implements Routine.
func (h *Hold) Target() string { return h.target }

func (h *Hold) startTime() float64 { return h.start }

// Value implements Routine.
func (h *Hold) Value(elapsed float64) float64 { return h.value }

// CompleteAt implements Routine.
func (h *Hold) CompleteAt(elapsed float64) bool { return elapsed > h.end }

// Ramp linearly sweeps a knob from one value to another over a time
// window, clamped outside it.
type Ramp struct {
	tc *Timecourse
}

// NewRamp builds a Ramp from (start, from) to (end, to).
func NewRamp(name, target string, start, end, from, to float64) (*Ramp, error) {
	if end <= start {
		return nil, fmt.Errorf("routine %q: end %v not after start %v", name, end, start)
	}
	tc, err := NewTimecourse(name, target, []float64{start, end}, []float64{from, to})
	if err != nil {
		return nil, err
	}
	return &Ramp{tc: tc}, nil
}

// Name implements Routine.
func (r *Ramp) Name() string { return r.tc.Name() }

// Target implements Routine.
func (r *Ramp) Target() string { return r.tc.Target() }

func (r *Ramp) startTime() float64 { return r.tc.startTime() }

// Value implements Routine.
func (r *Ramp) Value(elapsed float64) float64 { return r.tc.Value(elapsed) }

// CompleteAt implements Routine.
func (r *Ramp) CompleteAt(elapsed float64) bool { return r.tc.CompleteAt(elapsed) }

// Sweep cycles a knob through a fixed list of values inside a time
// window. Each sample inside the window steps to the next value,
// wrapping around when the list is exhausted; before the window the
// first value holds.
type Sweep struct {
	name   string
	target string
	start  float64
	end    float64
	values []float64
	cursor int
}

// NewSweep builds a Sweep over values between start and end.
func NewSweep(name, target string, start, end float64, values []float64) (*Sweep, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("routine %q: needs at least one value", name)
	}
	if end <= start {
		return nil, fmt.Errorf("routine %q: end %v not after start %v", name, end, start)
	}
	return &Sweep{
		name:   name,
		target: target,
		start:  start,
		end:    end,
		values: append([]float64{}, values...),
	}, nil
}

// Name implements Routine.
func (s *Sweep) Name() string { return s.name }

// Target implements Routine.
func (s *Sweep) Target() string { return s.target }

func (s *Sweep) startTime() float64 { return s.start }

// Value implements Routine. Sampling inside the window advances the
// sweep one step, so the scheduler's once-per-tick sampling paces the
// cycle at one value per tick.
func (s *Sweep) Value(elapsed float64) float64 {
	if elapsed < s.start {
		return s.values[0]
	}
	v := s.values[s.cursor%len(s.values)]
	s.cursor++
	return v
}

// CompleteAt implements Routine.
func (s *Sweep) CompleteAt(elapsed float64) bool { return elapsed > s.end }

// ConflictingRoutineError reports two routines declared against the
// same target knob. Raised at validation time, never at runtime.
type ConflictingRoutineError struct {
	Target   string
	Routines []string
}

func (e *ConflictingRoutineError) Error() string {
	return fmt.Sprintf("variable %q targeted by multiple routines %v", e.Target, e.Routines)
}

// CheckConflicts fails with *ConflictingRoutineError if any knob is
// targeted by more than one routine.
func CheckConflicts(routines []Routine) error {
	byTarget := map[string][]string{}
	for _, r := range routines {
		byTarget[r.Target()] = append(byTarget[r.Target()], r.Name())
	}
	for target, names := range byTarget {
		if len(names) > 1 {
			sort.Strings(names)
			return &ConflictingRoutineError{Target: target, Routines: names}
		}
	}
	return nil
}
