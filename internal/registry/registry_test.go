package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quenchlab/rig/internal/expr"
)

func mustExpr(t *testing.T, formula string) *expr.Expr {
	t.Helper()
	e, err := expr.Parse(formula)
	require.NoError(t, err)
	return e
}

func knob(name string, preset float64) *Variable {
	return &Variable{Name: name, Kind: Knob, Instrument: "henon", Param: "a", Preset: &preset}
}

func meter(name string) *Variable {
	return &Variable{Name: name, Kind: Meter, Instrument: "henon", Param: "x"}
}

func expression(t *testing.T, name, formula string, defs map[string]string) *Variable {
	t.Helper()
	return &Variable{
		Name:     name,
		Kind:     Expression,
		Formula:  formula,
		Compiled: mustExpr(t, formula),
		Defs:     defs,
	}
}

func TestRegister_Duplicate(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(meter("Coordinate x")))

	err := r.Register(meter("Coordinate x"))
	var de *DuplicateNameError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "Coordinate x", de.Name)
}

func TestGet_UndefinedUntilFirstSet(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(meter("Coordinate x")))

	_, err := r.Get("Coordinate x")
	var ue *UndefinedVariableError
	require.ErrorAs(t, err, &ue)

	require.NoError(t, r.Set("Coordinate x", 0.63))
	v, err := r.Get("Coordinate x")
	require.NoError(t, err)
	assert.Equal(t, 0.63, v)
}

func TestGet_UnknownName(t *testing.T) {
	r := New()
	_, err := r.Get("nope")
	var ue *UnknownVariableError
	assert.ErrorAs(t, err, &ue)
}

func TestKnobPreset_AppliedAtRegistration(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(knob("Parameter a", 1.4)))

	v, err := r.Get("Parameter a")
	require.NoError(t, err)
	assert.Equal(t, 1.4, v)
}

func TestResolveOrder_DependenciesFirst(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(meter("x")))
	require.NoError(t, r.Register(meter("y")))
	// Declared dependent-first on purpose: order must still come out
	// dependency-first.
	require.NoError(t, r.Register(expression(t, "top", "m + n",
		map[string]string{"m": "mid1", "n": "mid2"})))
	require.NoError(t, r.Register(expression(t, "mid1", "v * 2",
		map[string]string{"v": "base"})))
	require.NoError(t, r.Register(expression(t, "mid2", "v + 1",
		map[string]string{"v": "base"})))
	require.NoError(t, r.Register(expression(t, "base", "a + b",
		map[string]string{"a": "x", "b": "y"})))

	order, err := r.ResolveOrder()
	require.NoError(t, err)

	pos := map[string]int{}
	for i, name := range order {
		pos[name] = i
	}
	assert.Len(t, order, 4)
	assert.Less(t, pos["base"], pos["mid1"])
	assert.Less(t, pos["base"], pos["mid2"])
	assert.Less(t, pos["mid1"], pos["top"])
	assert.Less(t, pos["mid2"], pos["top"])
}

func TestResolveOrder_Cycle(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(expression(t, "a", "v + 1", map[string]string{"v": "b"})))
	require.NoError(t, r.Register(expression(t, "b", "v + 1", map[string]string{"v": "c"})))
	require.NoError(t, r.Register(expression(t, "c", "v + 1", map[string]string{"v": "a"})))

	_, err := r.ResolveOrder()
	require.Error(t, err)
	assert.True(t, IsCyclicDependency(err))

	var ce *CyclicDependencyError
	require.ErrorAs(t, err, &ce)
	// Cycle path starts and ends at the same variable.
	assert.Equal(t, ce.Path[0], ce.Path[len(ce.Path)-1])
	assert.GreaterOrEqual(t, len(ce.Path), 4)
}

func TestResolveOrder_SelfReference(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(expression(t, "a", "v + 1", map[string]string{"v": "a"})))

	_, err := r.ResolveOrder()
	assert.True(t, IsCyclicDependency(err))
}

func TestResolveOrder_UnknownReference(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(expression(t, "d", "v * 2", map[string]string{"v": "ghost"})))

	_, err := r.ResolveOrder()
	var ue *UnknownVariableError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "ghost", ue.Name)
	assert.Equal(t, "d", ue.ReferencedBy)
}

func TestResolveOrder_MissingDefinition(t *testing.T) {
	// Formula references a symbol with no entry in the definitions map.
	r := New()
	require.NoError(t, r.Register(meter("x")))
	require.NoError(t, r.Register(expression(t, "d", "v + w", map[string]string{"v": "x"})))

	_, err := r.ResolveOrder()
	var ue *UnknownVariableError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "w", ue.Name)
}

func TestRefresh_ComputesExpressions(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(meter("Coordinate x")))
	require.NoError(t, r.Register(meter("Coordinate y")))
	require.NoError(t, r.Register(expression(t, "Distance r", "sqrt(x^2 + y^2)",
		map[string]string{"x": "Coordinate x", "y": "Coordinate y"})))

	require.NoError(t, r.Set("Coordinate x", 3))
	require.NoError(t, r.Set("Coordinate y", 4))
	require.NoError(t, r.Refresh())

	v, err := r.Get("Distance r")
	require.NoError(t, err)
	assert.Equal(t, 5.0, v)
}

func TestRefresh_IdempotentWithinTick(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(meter("x")))
	require.NoError(t, r.Register(expression(t, "double", "v * 2", map[string]string{"v": "x"})))
	require.NoError(t, r.Register(expression(t, "quad", "v * 2", map[string]string{"v": "double"})))

	require.NoError(t, r.Set("x", 1.5))
	require.NoError(t, r.Refresh())
	first := r.Snapshot()

	// No meter refresh in between: a second refresh must not move values.
	require.NoError(t, r.Refresh())
	assert.Equal(t, first, r.Snapshot())
	assert.Equal(t, 6.0, first["quad"])
}

func TestRefresh_SkipsUndefinedInputs(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(meter("x")))
	require.NoError(t, r.Register(expression(t, "d", "v * 2", map[string]string{"v": "x"})))

	// Nothing measured yet: refresh succeeds, d stays undefined.
	require.NoError(t, r.Refresh())
	_, err := r.Get("d")
	var ue *UndefinedVariableError
	assert.ErrorAs(t, err, &ue)
}

func TestSnapshot_IsACopy(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(meter("x")))
	require.NoError(t, r.Set("x", 1))

	snap := r.Snapshot()
	snap["x"] = 99

	v, err := r.Get("x")
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)
}

func TestCanonical_NFCNames(t *testing.T) {
	r := New()
	// "é" composed vs decomposed must collide.
	require.NoError(t, r.Register(meter("température")))
	err := r.Register(meter("température"))
	var de *DuplicateNameError
	assert.ErrorAs(t, err, &de)
}
