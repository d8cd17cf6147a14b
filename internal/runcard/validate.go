package runcard

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/quenchlab/rig/internal/alarm"
	"github.com/quenchlab/rig/internal/expr"
	"github.com/quenchlab/rig/internal/instrument"
	"github.com/quenchlab/rig/internal/registry"
	"github.com/quenchlab/rig/internal/routine"
	"github.com/quenchlab/rig/internal/sink"
)

// Semantic validation codes. E0xx are document-level load codes; the
// E1xx range covers cross-section rules the structural schema cannot
// express.
const (
	ErrCodeUnknownInstrumentType = "E101" // instrument type has no registered driver
	ErrCodeVariableUnion         = "E102" // variable must be exactly one of knob, meter, expression
	ErrCodeUnknownInstrument     = "E103" // variable references an undeclared instrument
	ErrCodeBadExpression         = "E104" // formula does not parse
	ErrCodeUnknownReference      = "E105" // reference to an undeclared variable
	ErrCodeCyclicDependency      = "E106" // expression dependency cycle
	ErrCodeExpressionDryRun      = "E107" // formula fails on preset/zero values
	ErrCodeBadCondition          = "E108" // alarm condition does not parse
	ErrCodeBadProtocol           = "E109" // alarm protocol is not wait, hold-and-retry or abort
	ErrCodeRoutineTarget         = "E110" // routine target is not a knob variable
	ErrCodeBadRoutine            = "E111" // routine breakpoints are malformed
	ErrCodeRoutineConflict       = "E112" // two routines drive the same knob
	ErrCodeMissingDefinition     = "E113" // formula symbol has no definition
	ErrCodeBadSettings           = "E114" // settings out of range
)

// ValidationError is one semantic rule violation, located by its
// section-qualified path, e.g. "Variables.Coordinate x".
type ValidationError struct {
	Code    string
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Path, e.Message)
}

// Validate applies every semantic rule to a structurally sound runcard
// and collects all violations. No instrument is touched: driver types
// are checked against the constructor registry only.
//
// Errors are ordered by section, then name, so reports are stable.
func Validate(rc *Runcard) []error {
	v := &validator{rc: rc}
	v.instruments()
	v.variables()
	v.dependencies()
	v.alarms()
	v.routines()
	v.plots()
	v.settings()
	return v.errs
}

type validator struct {
	rc   *Runcard
	errs []error

	// canonical variable name -> declared kind, filled by variables().
	kinds map[string]registry.Kind
}

func (v *validator) add(code, path, format string, args ...any) {
	v.errs = append(v.errs, &ValidationError{
		Code:    code,
		Path:    path,
		Message: fmt.Sprintf(format, args...),
	})
}

func (v *validator) instruments() {
	known := instrument.TypeNames()
	for _, name := range sortedKeys(v.rc.Instruments) {
		decl := v.rc.Instruments[name]
		if !contains(known, decl.Type) {
			v.add(ErrCodeUnknownInstrumentType, "Instruments."+name,
				"unknown instrument type %q (known: %s)", decl.Type, strings.Join(known, ", "))
		}
	}
}

// variables checks each declaration's union shape and instrument
// references, recording the kind map for cross-section checks.
func (v *validator) variables() {
	v.kinds = map[string]registry.Kind{}
	for _, name := range sortedKeys(v.rc.Variables) {
		decl := v.rc.Variables[name]
		path := "Variables." + name

		kind, ok := declKind(decl)
		if !ok {
			v.add(ErrCodeVariableUnion, path,
				"declare exactly one of knob, meter or expression")
			continue
		}
		v.kinds[registry.Canonical(name)] = kind

		switch kind {
		case registry.Knob, registry.Meter:
			if decl.Instrument == "" {
				v.add(ErrCodeUnknownInstrument, path, "instrument is required")
			} else if _, declared := v.rc.Instruments[decl.Instrument]; !declared {
				v.add(ErrCodeUnknownInstrument, path,
					"instrument %q is not declared", decl.Instrument)
			}
			if kind == registry.Meter && decl.Preset != nil {
				v.add(ErrCodeVariableUnion, path, "preset is only valid on knobs")
			}
			if len(decl.Definitions) > 0 {
				v.add(ErrCodeVariableUnion, path, "definitions are only valid on expressions")
			}

		case registry.Expression:
			if decl.Instrument != "" || decl.Preset != nil {
				v.add(ErrCodeVariableUnion, path,
					"instrument and preset are not valid on expressions")
			}
		}
	}
}

// declKind classifies a declaration, reporting ok=false when the union
// is violated.
func declKind(decl VariableDecl) (registry.Kind, bool) {
	n := 0
	var kind registry.Kind
	if decl.Knob != "" {
		n, kind = n+1, registry.Knob
	}
	if decl.Meter != "" {
		n, kind = n+1, registry.Meter
	}
	if decl.Expression != "" {
		n, kind = n+1, registry.Expression
	}
	return kind, n == 1
}

// dependencies parses every formula, checks its symbol definitions,
// detects reference cycles and dry-runs each expression on preset/zero
// bindings. Formulas are static, so anything that fails here would
// fail identically on every tick.
func (v *validator) dependencies() {
	compiledOK := true
	reg := registry.New()

	for _, name := range sortedKeys(v.rc.Variables) {
		decl := v.rc.Variables[name]
		kind, ok := declKind(decl)
		if !ok {
			compiledOK = false
			continue
		}
		path := "Variables." + name

		variable := &registry.Variable{Name: name, Kind: kind, Preset: decl.Preset}
		if kind == registry.Expression {
			compiled, err := expr.Parse(decl.Expression)
			if err != nil {
				v.add(ErrCodeBadExpression, path, "%v", err)
				compiledOK = false
				continue
			}
			for _, symbol := range compiled.Vars() {
				if _, defined := decl.Definitions[symbol]; !defined {
					v.add(ErrCodeMissingDefinition, path,
						"formula symbol %q has no definition", symbol)
					compiledOK = false
				}
			}
			for symbol, ref := range decl.Definitions {
				if _, declared := v.rc.Variables[ref]; !declared {
					v.add(ErrCodeUnknownReference, path,
						"definition %q references undeclared variable %q", symbol, ref)
					compiledOK = false
				}
			}
			variable.Formula = decl.Expression
			variable.Compiled = compiled
			variable.Defs = decl.Definitions
		}
		if err := reg.Register(variable); err != nil {
			v.add(ErrCodeVariableUnion, path, "%v", err)
			compiledOK = false
		}
	}

	// Cycle detection and dry-run only make sense on a well-formed
	// dependency graph.
	if !compiledOK {
		return
	}

	if _, err := reg.ResolveOrder(); err != nil {
		var cyc *registry.CyclicDependencyError
		if errors.As(err, &cyc) {
			v.add(ErrCodeCyclicDependency, "Variables",
				"expression dependency cycle: %s", strings.Join(cyc.Path, " -> "))
		} else {
			v.add(ErrCodeUnknownReference, "Variables", "%v", err)
		}
		return
	}

	v.dryRun()
}

// dryRun evaluates every expression with knob presets where declared
// and zero everywhere else, surfacing static evaluation defects (a
// constant division by zero, a formula that can only produce NaN)
// before any instrument is touched.
func (v *validator) dryRun() {
	values := map[string]float64{}
	for name, decl := range v.rc.Variables {
		if decl.Knob != "" && decl.Preset != nil {
			values[registry.Canonical(name)] = *decl.Preset
		}
	}

	for _, name := range sortedKeys(v.rc.Variables) {
		decl := v.rc.Variables[name]
		if decl.Expression == "" {
			continue
		}
		compiled, err := expr.Parse(decl.Expression)
		if err != nil {
			continue // already reported
		}
		bindings := map[string]float64{}
		for symbol, ref := range decl.Definitions {
			bindings[symbol] = values[registry.Canonical(ref)]
		}
		if _, err := compiled.Eval(bindings); err != nil {
			v.add(ErrCodeExpressionDryRun, "Variables."+name,
				"formula fails on preset/zero values: %v", err)
		}
	}
}

func (v *validator) alarms() {
	for _, name := range sortedKeys(v.rc.Alarms) {
		decl := v.rc.Alarms[name]
		path := "Alarms." + name

		if _, declared := v.kinds[registry.Canonical(decl.Variable)]; !declared {
			v.add(ErrCodeUnknownReference, path,
				"watches undeclared variable %q", decl.Variable)
		}
		if _, err := alarm.ParseCondition(decl.Condition); err != nil {
			v.add(ErrCodeBadCondition, path, "%v", err)
		}
		if _, err := alarm.ParseProtocol(decl.Protocol); err != nil {
			v.add(ErrCodeBadProtocol, path, "%v", err)
		}
	}
}

func (v *validator) routines() {
	var built []routine.Routine
	for _, name := range sortedKeys(v.rc.Routines) {
		decl := v.rc.Routines[name]
		path := "Routines." + name

		kind, declared := v.kinds[registry.Canonical(decl.Variable)]
		switch {
		case !declared:
			v.add(ErrCodeRoutineTarget, path,
				"drives undeclared variable %q", decl.Variable)
			continue
		case kind != registry.Knob:
			v.add(ErrCodeRoutineTarget, path,
				"target %q must be a knob (declared as %s)", decl.Variable, kind)
			continue
		}

		r, err := buildRoutine(name, decl)
		if err != nil {
			v.add(ErrCodeBadRoutine, path, "%v", err)
			continue
		}
		built = append(built, r)
	}

	if err := routine.CheckConflicts(built); err != nil {
		var conflict *routine.ConflictingRoutineError
		if errors.As(err, &conflict) {
			v.add(ErrCodeRoutineConflict, "Routines", "%v", conflict)
		} else {
			v.add(ErrCodeRoutineConflict, "Routines", "%v", err)
		}
	}
}

func (v *validator) plots() {
	for _, name := range sortedKeys(v.rc.Plots) {
		decl := v.rc.Plots[name]
		path := "Plots." + name
		for _, axis := range []struct{ label, ref string }{{"x", decl.X}, {"y", decl.Y}} {
			if axis.ref == sink.TimeAxis {
				continue
			}
			if _, declared := v.kinds[registry.Canonical(axis.ref)]; !declared {
				v.add(ErrCodeUnknownReference, path,
					"%s axis references undeclared variable %q", axis.label, axis.ref)
			}
		}
	}
}

func (v *validator) settings() {
	s := v.rc.Settings
	if s.StepInterval < 0 {
		v.add(ErrCodeBadSettings, "Settings", "step interval must be positive")
	}
	if s.PlotInterval < 0 || s.SaveInterval < 0 {
		v.add(ErrCodeBadSettings, "Settings", "plot and save intervals must be non-negative")
	}
}

// Report renders validation errors as a stable, line-per-error text
// block for CLI output and tests.
func Report(errs []error) string {
	if len(errs) == 0 {
		return "runcard is valid\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "runcard is invalid: %d error(s)\n", len(errs))
	for _, err := range errs {
		fmt.Fprintf(&b, "  %v\n", err)
	}
	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
