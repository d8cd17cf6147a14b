package runcard

import (
	"fmt"
	"time"

	"github.com/quenchlab/rig/internal/alarm"
	"github.com/quenchlab/rig/internal/expr"
	"github.com/quenchlab/rig/internal/instrument"
	"github.com/quenchlab/rig/internal/registry"
	"github.com/quenchlab/rig/internal/routine"
	"github.com/quenchlab/rig/internal/sink"
)

// DefaultStepInterval applies when the runcard's Settings omit one.
const DefaultStepInterval = 100 * time.Millisecond

// Experiment is the runtime form of a validated runcard: connected
// drivers, a populated variable registry, built routines and alarms,
// and the plot series for the sink layer.
type Experiment struct {
	Runcard  *Runcard
	Registry *registry.Registry
	Drivers  map[string]instrument.Driver
	Routines []routine.Routine
	Monitor  *alarm.Monitor
	Plots    []sink.PlotSeries

	StepInterval time.Duration
	SaveInterval int
	PlotInterval int
	FollowUp     string
}

// Build connects instruments and assembles the runtime objects from a
// runcard that already passed Validate. Driver construction is the
// only side effect; on any failure, already-connected drivers are
// disconnected before returning.
func Build(rc *Runcard) (exp *Experiment, err error) {
	exp = &Experiment{
		Runcard:      rc,
		Registry:     registry.New(),
		Drivers:      map[string]instrument.Driver{},
		StepInterval: DefaultStepInterval,
		SaveInterval: rc.Settings.SaveInterval,
		PlotInterval: rc.Settings.PlotInterval,
		FollowUp:     rc.Settings.FollowUp,
	}
	if rc.Settings.StepInterval > 0 {
		exp.StepInterval = time.Duration(rc.Settings.StepInterval * float64(time.Second))
	}

	// Error paths return nil for the named result, so keep a stable
	// reference for cleanup.
	built := exp
	defer func() {
		if err != nil {
			built.Disconnect()
			exp = nil
		}
	}()

	for _, name := range sortedKeys(rc.Instruments) {
		decl := rc.Instruments[name]
		driver, cerr := instrument.New(decl.Type, decl.Address)
		if cerr != nil {
			return nil, fmt.Errorf("connect instrument %q: %w", name, cerr)
		}
		exp.Drivers[name] = driver
	}

	for _, name := range sortedKeys(rc.Variables) {
		variable, verr := buildVariable(name, rc.Variables[name], exp.Drivers)
		if verr != nil {
			return nil, verr
		}
		if rerr := exp.Registry.Register(variable); rerr != nil {
			return nil, rerr
		}
	}
	if _, oerr := exp.Registry.ResolveOrder(); oerr != nil {
		return nil, oerr
	}

	for _, name := range sortedKeys(rc.Routines) {
		r, rerr := buildRoutine(name, rc.Routines[name])
		if rerr != nil {
			return nil, fmt.Errorf("routine %q: %w", name, rerr)
		}
		exp.Routines = append(exp.Routines, r)
	}
	if cerr := routine.CheckConflicts(exp.Routines); cerr != nil {
		return nil, cerr
	}

	// YAML mappings are unordered, so sorted names define the alarm
	// evaluation order.
	var alarms []*alarm.Alarm
	for _, name := range sortedKeys(rc.Alarms) {
		a, aerr := buildAlarm(name, rc.Alarms[name])
		if aerr != nil {
			return nil, fmt.Errorf("alarm %q: %w", name, aerr)
		}
		alarms = append(alarms, a)
	}
	exp.Monitor = alarm.NewMonitor(alarms)

	for _, name := range sortedKeys(rc.Plots) {
		exp.Plots = append(exp.Plots, buildPlot(name, rc.Plots[name]))
	}

	return exp, nil
}

// Disconnect releases every connected driver, keeping the first error.
func (e *Experiment) Disconnect() error {
	var firstErr error
	for _, name := range sortedKeys(e.Drivers) {
		if err := e.Drivers[name].Disconnect(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("disconnect instrument %q: %w", name, err)
		}
	}
	return firstErr
}

func buildVariable(name string, decl VariableDecl, drivers map[string]instrument.Driver) (*registry.Variable, error) {
	kind, _ := declKind(decl)
	if kind == registry.Knob || kind == registry.Meter {
		if _, connected := drivers[decl.Instrument]; !connected {
			return nil, fmt.Errorf("variable %q: instrument %q is not declared", name, decl.Instrument)
		}
	}
	switch kind {
	case registry.Knob:
		if d := drivers[decl.Instrument]; !instrument.HasKnob(d, decl.Knob) {
			return nil, fmt.Errorf("variable %q: instrument %q has no knob %q",
				name, decl.Instrument, decl.Knob)
		}
		return &registry.Variable{
			Name: name, Kind: registry.Knob,
			Instrument: decl.Instrument, Param: decl.Knob, Preset: decl.Preset,
		}, nil

	case registry.Meter:
		if d := drivers[decl.Instrument]; !instrument.HasMeter(d, decl.Meter) {
			return nil, fmt.Errorf("variable %q: instrument %q has no meter %q",
				name, decl.Instrument, decl.Meter)
		}
		return &registry.Variable{
			Name: name, Kind: registry.Meter,
			Instrument: decl.Instrument, Param: decl.Meter,
		}, nil

	default:
		compiled, err := expr.Parse(decl.Expression)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", name, err)
		}
		return &registry.Variable{
			Name: name, Kind: registry.Expression,
			Formula: decl.Expression, Compiled: compiled, Defs: decl.Definitions,
		}, nil
	}
}

func buildRoutine(name string, decl RoutineDecl) (routine.Routine, error) {
	target := registry.Canonical(decl.Variable)
	switch decl.Type {
	case "Timecourse":
		return routine.NewTimecourse(name, target, decl.Times, decl.Values)
	case "Hold":
		return routine.NewHold(name, target, decl.Start, decl.End, decl.Value)
	case "Ramp":
		return routine.NewRamp(name, target, decl.Start, decl.End, decl.From, decl.To)
	case "Sweep":
		return routine.NewSweep(name, target, decl.Start, decl.End, decl.Values)
	default:
		return nil, fmt.Errorf("unknown routine type %q", decl.Type)
	}
}

func buildAlarm(name string, decl AlarmDecl) (*alarm.Alarm, error) {
	cond, err := alarm.ParseCondition(decl.Condition)
	if err != nil {
		return nil, err
	}
	protocol, err := alarm.ParseProtocol(decl.Protocol)
	if err != nil {
		return nil, err
	}
	return &alarm.Alarm{
		Name:     name,
		Variable: registry.Canonical(decl.Variable),
		Cond:     cond,
		Protocol: protocol,
	}, nil
}

func buildPlot(name string, decl PlotDecl) sink.PlotSeries {
	canon := func(axis string) string {
		if axis == sink.TimeAxis {
			return axis
		}
		return registry.Canonical(axis)
	}
	hints := map[string]string{}
	for key, val := range map[string]string{
		"xlabel": decl.XLabel,
		"ylabel": decl.YLabel,
		"style":  decl.Style,
		"marker": decl.Marker,
	} {
		if val != "" {
			hints[key] = val
		}
	}
	return sink.PlotSeries{Name: name, X: canon(decl.X), Y: canon(decl.Y), Hints: hints}
}
