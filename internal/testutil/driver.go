package testutil

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/quenchlab/rig/internal/instrument"
)

var (
	errUnknownParam = errors.New("unknown parameter")
	errScripted     = errors.New("scripted failure")
)

// ScriptedDriver is an in-memory instrument for scheduler tests. Knob
// writes land in a map; meter reads return values from a per-meter
// script, repeating the last entry once exhausted. Individual
// operations can be made to fail a fixed number of times.
//
// Thread-safety: all methods are safe for concurrent use.
type ScriptedDriver struct {
	mu sync.Mutex

	name   string
	knobs  []string
	meters []string

	knobValues map[string]float64
	knobLog    []KnobWrite
	scripts    map[string][]float64
	cursor     map[string]int
	failures   map[string]int // remaining forced failures per param
}

// KnobWrite records one Set call in arrival order.
type KnobWrite struct {
	Knob  string
	Value float64
}

// NewScriptedDriver creates a driver exposing the given knobs and
// meters. Meter scripts start empty; reads of an unscripted meter
// return zero.
func NewScriptedDriver(name string, knobs, meters []string) *ScriptedDriver {
	return &ScriptedDriver{
		name:       name,
		knobs:      append([]string{}, knobs...),
		meters:     append([]string{}, meters...),
		knobValues: map[string]float64{},
		scripts:    map[string][]float64{},
		cursor:     map[string]int{},
		failures:   map[string]int{},
	}
}

// Script sets the sequence of values a meter returns, one per Measure
// call, repeating the final value afterwards.
func (d *ScriptedDriver) Script(meter string, values ...float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scripts[meter] = append([]float64{}, values...)
	d.cursor[meter] = 0
}

// FailNext forces the next n operations on param (knob or meter) to
// return an instrument I/O error.
func (d *ScriptedDriver) FailNext(param string, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[param] = n
}

func (d *ScriptedDriver) Name() string     { return d.name }
func (d *ScriptedDriver) Knobs() []string  { return append([]string{}, d.knobs...) }
func (d *ScriptedDriver) Meters() []string { return append([]string{}, d.meters...) }

// Set records a knob write.
func (d *ScriptedDriver) Set(_ context.Context, knob string, value float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !slices.Contains(d.knobs, knob) {
		return &instrument.IOError{Instrument: d.name, Param: knob, Op: "set", Err: errUnknownParam}
	}
	if err := d.takeFailure(knob, "set"); err != nil {
		return err
	}
	d.knobValues[knob] = value
	d.knobLog = append(d.knobLog, KnobWrite{Knob: knob, Value: value})
	return nil
}

// Measure returns the next scripted value for the meter.
func (d *ScriptedDriver) Measure(_ context.Context, meter string) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !slices.Contains(d.meters, meter) {
		return 0, &instrument.IOError{Instrument: d.name, Param: meter, Op: "measure", Err: errUnknownParam}
	}
	if err := d.takeFailure(meter, "measure"); err != nil {
		return 0, err
	}
	script := d.scripts[meter]
	if len(script) == 0 {
		return 0, nil
	}
	i := d.cursor[meter]
	if i >= len(script) {
		i = len(script) - 1
	} else {
		d.cursor[meter]++
	}
	return script[i], nil
}

// Disconnect is a no-op.
func (d *ScriptedDriver) Disconnect() error { return nil }

// KnobValue returns the most recent value written to a knob.
func (d *ScriptedDriver) KnobValue(knob string) (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.knobValues[knob]
	return v, ok
}

// KnobLog returns a copy of every knob write in arrival order.
func (d *ScriptedDriver) KnobLog() []KnobWrite {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]KnobWrite{}, d.knobLog...)
}

// takeFailure consumes one forced failure if any remain. Caller holds mu.
func (d *ScriptedDriver) takeFailure(param, op string) error {
	if d.failures[param] > 0 {
		d.failures[param]--
		return &instrument.IOError{Instrument: d.name, Param: param, Op: op, Err: errScripted}
	}
	return nil
}
