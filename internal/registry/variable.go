// Package registry holds the live value and metadata of every declared
// experiment variable and resolves expression dependencies into a safe
// evaluation order.
//
// The registry is the single shared mutable structure of the engine.
// Only the scheduler goroutine mutates it: knob writes, meter reads and
// expression refreshes are all funneled through tick steps, so no
// locking is needed. Sink consumers only ever see immutable Snapshot
// copies.
package registry

import "github.com/quenchlab/rig/internal/expr"

// Kind distinguishes the three variable classes of a runcard.
type Kind int

const (
	// Knob is a writable instrument parameter.
	Knob Kind = iota + 1
	// Meter is a readable instrument sensor.
	Meter
	// Expression is a value derived from other variables by a formula.
	Expression
)

func (k Kind) String() string {
	switch k {
	case Knob:
		return "knob"
	case Meter:
		return "meter"
	case Expression:
		return "expression"
	}
	return "unknown"
}

// Variable is one declared experiment variable. A Knob or Meter
// references exactly one instrument parameter; an Expression carries a
// compiled formula plus the mapping from formula symbols to the
// variables they bind to.
type Variable struct {
	Name string
	Kind Kind

	// Knob/Meter: owning instrument and parameter name.
	Instrument string
	Param      string

	// Knob only: initial value applied once before the first tick.
	Preset *float64

	// Expression only.
	Formula  string
	Compiled *expr.Expr
	// Defs maps formula symbols to the names of referenced variables,
	// e.g. {"x": "Coordinate x"}.
	Defs map[string]string
}

// value is the registry's storage cell: numeric, undefined until the
// first write or read touches it.
type value struct {
	v       float64
	defined bool
}
