package runcard

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quenchlab/rig/internal/registry"
)

func loadValid(t *testing.T) *Runcard {
	t.Helper()
	rc, errs := Load(filepath.Join("testdata", "henon.yaml"))
	require.Empty(t, errs)
	require.NotNil(t, rc)
	return rc
}

func TestLoad_DecodesAllSections(t *testing.T) {
	rc := loadValid(t)

	assert.Equal(t, "Chaotic map demonstration run", rc.Description)
	assert.Equal(t, "HenonMapper", rc.Instruments["mapper"].Type)
	assert.Len(t, rc.Variables, 5)
	assert.Len(t, rc.Alarms, 1)
	assert.Len(t, rc.Plots, 2)
	assert.Len(t, rc.Routines, 1)

	a := rc.Variables["Parameter a"]
	require.NotNil(t, a.Preset)
	assert.Equal(t, 1.4, *a.Preset)
	assert.Equal(t, "a", a.Knob)

	r := rc.Variables["Distance r"]
	assert.Equal(t, "sqrt(x^2 + y^2)", r.Expression)
	assert.Equal(t, "Coordinate x", r.Definitions["x"])

	assert.Equal(t, 0.1, rc.Settings.StepInterval)
	assert.Equal(t, 1, rc.Settings.SaveInterval)
	assert.Equal(t, 2, rc.Settings.PlotInterval)
}

func TestLoad_MissingFile(t *testing.T) {
	_, errs := Load(filepath.Join("testdata", "no-such.yaml"))
	require.Len(t, errs, 1)

	var loadErr *LoadError
	require.ErrorAs(t, errs[0], &loadErr)
	assert.Equal(t, ErrCodeReadFailed, loadErr.Code)
}

func TestParse_RejectsMalformedYAML(t *testing.T) {
	_, errs := Parse("bad.yaml", []byte("Instruments: [unclosed"))
	require.NotEmpty(t, errs)
}

func TestParse_SchemaRejectsBadProtocol(t *testing.T) {
	doc := []byte(`
Alarms:
  a:
    variable: x
    condition: "> 1"
    protocol: explode
`)
	_, errs := Parse("bad.yaml", doc)
	require.NotEmpty(t, errs)

	var loadErr *LoadError
	require.ErrorAs(t, errs[0], &loadErr)
	assert.Equal(t, ErrCodeSchema, loadErr.Code)
}

func TestParse_SchemaRejectsBadConditionFormat(t *testing.T) {
	doc := []byte(`
Alarms:
  a:
    variable: x
    condition: "way too hot"
    protocol: abort
`)
	_, errs := Parse("bad.yaml", doc)
	require.NotEmpty(t, errs)
}

func TestValidate_ValidRuncardHasNoErrors(t *testing.T) {
	assert.Empty(t, Validate(loadValid(t)))
}

func TestValidate_BrokenRuncardReport(t *testing.T) {
	rc, errs := Load(filepath.Join("testdata", "broken.yaml"))
	require.Empty(t, errs, "broken.yaml is structurally valid; its defects are semantic")

	verrs := Validate(rc)
	require.NotEmpty(t, verrs)

	codes := make([]string, 0, len(verrs))
	for _, err := range verrs {
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		codes = append(codes, verr.Code)
	}
	assert.Equal(t, []string{"E101", "E102", "E105", "E105", "E110", "E105"}, codes)

	g := goldie.New(t,
		goldie.WithFixtureDir(filepath.Join("testdata", "golden")),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "broken_report", []byte(Report(verrs)))
}

func TestValidate_DetectsExpressionCycle(t *testing.T) {
	rc := &Runcard{
		Variables: map[string]VariableDecl{
			"First":  {Expression: "s + 1", Definitions: map[string]string{"s": "Second"}},
			"Second": {Expression: "f * 2", Definitions: map[string]string{"f": "First"}},
		},
	}
	errs := Validate(rc)
	require.Len(t, errs, 1)

	var verr *ValidationError
	require.ErrorAs(t, errs[0], &verr)
	assert.Equal(t, ErrCodeCyclicDependency, verr.Code)
}

func TestValidate_DryRunCatchesStaticDivisionByZero(t *testing.T) {
	rc := &Runcard{
		Instruments: map[string]InstrumentDecl{
			"mapper": {Type: "HenonMapper"},
		},
		Variables: map[string]VariableDecl{
			"Coordinate x": {Instrument: "mapper", Meter: "x"},
			"Inverse":      {Expression: "1 / x", Definitions: map[string]string{"x": "Coordinate x"}},
		},
	}
	errs := Validate(rc)
	require.Len(t, errs, 1)

	var verr *ValidationError
	require.ErrorAs(t, errs[0], &verr)
	assert.Equal(t, ErrCodeExpressionDryRun, verr.Code)
	assert.Equal(t, "Variables.Inverse", verr.Path)
}

func TestValidate_RoutineConflict(t *testing.T) {
	rc := &Runcard{
		Instruments: map[string]InstrumentDecl{
			"mapper": {Type: "HenonMapper"},
		},
		Variables: map[string]VariableDecl{
			"Parameter a": {Instrument: "mapper", Knob: "a"},
		},
		Routines: map[string]RoutineDecl{
			"first":  {Type: "Hold", Variable: "Parameter a", Start: 0, End: 5, Value: 1},
			"second": {Type: "Ramp", Variable: "Parameter a", Start: 0, End: 5, From: 0, To: 1},
		},
	}
	errs := Validate(rc)
	require.Len(t, errs, 1)

	var verr *ValidationError
	require.ErrorAs(t, errs[0], &verr)
	assert.Equal(t, ErrCodeRoutineConflict, verr.Code)
}

func TestBuild_AssemblesExperiment(t *testing.T) {
	exp, err := Build(loadValid(t))
	require.NoError(t, err)
	defer exp.Disconnect()

	assert.Equal(t, 100*time.Millisecond, exp.StepInterval)
	assert.Equal(t, 1, exp.SaveInterval)
	assert.Equal(t, 2, exp.PlotInterval)
	assert.Empty(t, exp.FollowUp)

	require.Contains(t, exp.Drivers, "mapper")
	assert.Len(t, exp.Routines, 1)
	assert.Len(t, exp.Monitor.Alarms(), 1)

	// Plot names come out in sorted order.
	require.Len(t, exp.Plots, 2)
	assert.Equal(t, "drift", exp.Plots[0].Name)
	assert.Equal(t, "orbit", exp.Plots[1].Name)
	assert.Equal(t, "Time", exp.Plots[0].X)
	assert.Equal(t, "distance from origin", exp.Plots[0].Hints["ylabel"])

	// Knob presets land in the registry immediately.
	v, err := exp.Registry.Get("Parameter a")
	require.NoError(t, err)
	assert.Equal(t, 1.4, v)

	rv := exp.Registry.Lookup("Distance r")
	require.NotNil(t, rv)
	assert.Equal(t, registry.Expression, rv.Kind)
	require.NotNil(t, rv.Compiled)
}

func TestBuild_SweepRoutine(t *testing.T) {
	rc := &Runcard{
		Instruments: map[string]InstrumentDecl{
			"mapper": {Type: "HenonMapper"},
		},
		Variables: map[string]VariableDecl{
			"Parameter a": {Instrument: "mapper", Knob: "a"},
		},
		Routines: map[string]RoutineDecl{
			"scan": {Type: "Sweep", Variable: "Parameter a", Start: 0, End: 30, Values: []float64{1.0, 1.2, 1.4}},
		},
	}
	require.Empty(t, Validate(rc))

	exp, err := Build(rc)
	require.NoError(t, err)
	defer exp.Disconnect()

	require.Len(t, exp.Routines, 1)
	r := exp.Routines[0]
	assert.Equal(t, "scan", r.Name())
	assert.Equal(t, "Parameter a", r.Target())
	assert.Equal(t, 1.0, r.Value(0))
	assert.Equal(t, 1.2, r.Value(1))

	// An empty values list never reaches the engine.
	rc.Routines["scan"] = RoutineDecl{Type: "Sweep", Variable: "Parameter a", Start: 0, End: 30}
	errs := Validate(rc)
	require.Len(t, errs, 1)
	var verr *ValidationError
	require.ErrorAs(t, errs[0], &verr)
	assert.Equal(t, ErrCodeBadRoutine, verr.Code)
}

func TestBuild_RejectsUnknownKnobParam(t *testing.T) {
	rc := &Runcard{
		Instruments: map[string]InstrumentDecl{
			"mapper": {Type: "HenonMapper"},
		},
		Variables: map[string]VariableDecl{
			"Bogus": {Instrument: "mapper", Knob: "q"},
		},
	}
	_, err := Build(rc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `has no knob "q"`)
}

func TestBuild_DefaultStepInterval(t *testing.T) {
	rc := &Runcard{}
	exp, err := Build(rc)
	require.NoError(t, err)
	assert.Equal(t, DefaultStepInterval, exp.StepInterval)
}
