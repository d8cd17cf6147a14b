package engine

import (
	"errors"
	"fmt"
	"time"
)

// AlarmAbortError is the controlled-termination result of an abort
// alarm (or a hold-and-retry alarm that exhausted its retries). It is
// not a defect: the scheduler flushed pending snapshots before
// returning it.
type AlarmAbortError struct {
	// Alarm is the name of the alarm that fired.
	Alarm string
	// Variable is the watched variable.
	Variable string
	// Value is the variable's value at the triggering tick.
	Value float64
	// Tick is the tick at which the abort happened.
	Tick int64
	// LastSnapshot is the wall time of the last successfully emitted
	// snapshot; zero if none was emitted.
	LastSnapshot time.Time
	// Escalated is true when a hold-and-retry alarm ran out of retries.
	Escalated bool
}

func (e *AlarmAbortError) Error() string {
	kind := "abort alarm"
	if e.Escalated {
		kind = "hold-and-retry alarm exhausted retries"
	}
	return fmt.Sprintf("%s %q: variable %q = %v at tick %d", kind, e.Alarm, e.Variable, e.Value, e.Tick)
}

// IsAlarmAbort reports whether err is a controlled alarm termination.
// Uses errors.As to handle wrapped errors.
func IsAlarmAbort(err error) bool {
	var ae *AlarmAbortError
	return errors.As(err, &ae)
}

// IOAbortError reports instrument I/O that kept failing past the retry
// bound and terminated the run.
type IOAbortError struct {
	// Attempts is the number of consecutive ticks the operation failed.
	Attempts int
	Err      error
}

func (e *IOAbortError) Error() string {
	return fmt.Sprintf("instrument I/O failed %d consecutive ticks: %v", e.Attempts, e.Err)
}

func (e *IOAbortError) Unwrap() error { return e.Err }

// IsIOAbort reports whether err is a fatal instrument I/O termination.
func IsIOAbort(err error) bool {
	var ie *IOAbortError
	return errors.As(err, &ie)
}
