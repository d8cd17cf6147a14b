// Package runcard loads, validates and builds the declarative
// experiment description: instruments, variables, alarms, plots,
// routines and settings. A runcard contains no executable logic; every
// behavior is interpreted by the scheduler at runtime.
package runcard

// Runcard is the decoded document. Section keys map unique names to
// configuration objects.
type Runcard struct {
	Description string                    `yaml:"Description"`
	Instruments map[string]InstrumentDecl `yaml:"Instruments"`
	Variables   map[string]VariableDecl   `yaml:"Variables"`
	Alarms      map[string]AlarmDecl      `yaml:"Alarms"`
	Plots       map[string]PlotDecl       `yaml:"Plots"`
	Routines    map[string]RoutineDecl    `yaml:"Routines"`
	Settings    Settings                  `yaml:"Settings"`

	// Path is where the document was read from; set by Load, not part
	// of the document itself.
	Path string `yaml:"-"`
}

// InstrumentDecl selects a driver class and its connection address.
type InstrumentDecl struct {
	Type    string `yaml:"type"`
	Address string `yaml:"address"`
}

// VariableDecl is a union: exactly one of knob, meter or expression
// must be set. Validation enforces the union.
type VariableDecl struct {
	Instrument string   `yaml:"instrument"`
	Knob       string   `yaml:"knob"`
	Meter      string   `yaml:"meter"`
	Preset     *float64 `yaml:"preset"`

	Expression  string            `yaml:"expression"`
	Definitions map[string]string `yaml:"definitions"`
}

// AlarmDecl watches one variable against a comparison condition.
type AlarmDecl struct {
	Variable  string `yaml:"variable"`
	Condition string `yaml:"condition"`
	Protocol  string `yaml:"protocol"`
}

// PlotDecl names the x and y variables of one plot. Either axis may be
// the literal "Time". Display hints pass through opaquely to the plot
// sink.
type PlotDecl struct {
	X      string `yaml:"x"`
	Y      string `yaml:"y"`
	XLabel string `yaml:"xlabel"`
	YLabel string `yaml:"ylabel"`
	Style  string `yaml:"style"`
	Marker string `yaml:"marker"`
}

// RoutineDecl declares one time-based setpoint program. Type selects
// the interpolation kind: "Timecourse" uses times/values breakpoints,
// "Hold" pins a constant, "Ramp" interpolates linearly between two
// endpoints, "Sweep" cycles through a values list one step per tick.
type RoutineDecl struct {
	Type     string    `yaml:"type"`
	Variable string    `yaml:"variable"`
	Times    []float64 `yaml:"times"`
	Values   []float64 `yaml:"values"` // Timecourse breakpoints or Sweep cycle

	// Hold, Ramp and Sweep.
	Start float64 `yaml:"start"`
	End   float64 `yaml:"end"`

	// Hold only.
	Value float64 `yaml:"value"`

	// Ramp only.
	From float64 `yaml:"from"`
	To   float64 `yaml:"to"`
}

// Settings carries the scalar engine configuration.
type Settings struct {
	// StepInterval is the minimum spacing between tick starts, in
	// seconds.
	StepInterval float64 `yaml:"step interval"`

	// PlotInterval and SaveInterval are tick counts between snapshot
	// emissions to the respective sinks; 0 disables the sink.
	PlotInterval int `yaml:"plot interval"`
	SaveInterval int `yaml:"save interval"`

	// FollowUp is the path of the next runcard to chain after normal
	// completion, relative to this runcard's directory; empty means
	// none.
	FollowUp string `yaml:"follow-up"`
}
