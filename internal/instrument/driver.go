// Package instrument defines the boundary between the engine and the
// hardware (or simulation) it controls: a Driver exposes named knobs
// (writable parameters) and meters (readable sensors), and a registry
// maps runcard type names to driver constructors.
//
// No retry logic lives at this layer. A failed Set or Measure surfaces
// as *IOError and the scheduler decides whether to hold, retry, or
// abort.
package instrument

import (
	"context"
	"errors"
	"fmt"
)

// Driver is one connected instrument. Implementations are constructed
// once at experiment start via the registry and torn down at experiment
// end or on fatal error.
//
// Set and Measure are blocking calls; transport latency suspends the
// caller. Implementations honor ctx cancellation where their transport
// allows it.
type Driver interface {
	// Name returns the driver's type name (e.g. "HenonMapper").
	Name() string

	// Knobs lists the writable parameter names this driver exposes.
	Knobs() []string

	// Meters lists the readable sensor names this driver exposes.
	Meters() []string

	// Set writes a knob value. Fails with *IOError on transport
	// failure or an unknown knob name.
	Set(ctx context.Context, knob string, value float64) error

	// Measure reads a meter. Fails with *IOError on transport failure
	// or an unknown meter name.
	Measure(ctx context.Context, meter string) (float64, error)

	// Disconnect releases the connection. Idempotent.
	Disconnect() error
}

// IOError reports an instrument transport failure or a reference to a
// parameter the instrument does not expose.
type IOError struct {
	Instrument string // instrument name from the runcard
	Param      string // knob or meter name
	Op         string // "set", "measure", "connect", "disconnect"
	Err        error
}

func (e *IOError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("instrument %s: %s %q: %v", e.Instrument, e.Op, e.Param, e.Err)
	}
	return fmt.Sprintf("instrument %s: %s %q failed", e.Instrument, e.Op, e.Param)
}

func (e *IOError) Unwrap() error { return e.Err }

// IsIOError reports whether err is an instrument I/O error.
// Uses errors.As to handle wrapped errors.
func IsIOError(err error) bool {
	var ioe *IOError
	return errors.As(err, &ioe)
}

// HasKnob reports whether the driver exposes the named knob.
func HasKnob(d Driver, knob string) bool { return contains(d.Knobs(), knob) }

// HasMeter reports whether the driver exposes the named meter.
func HasMeter(d Driver, meter string) bool { return contains(d.Meters(), meter) }

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
