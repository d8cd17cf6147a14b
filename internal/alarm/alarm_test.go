package alarm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quenchlab/rig/internal/registry"
)

func TestParseCondition(t *testing.T) {
	cases := []struct {
		in   string
		op   Op
		thr  float64
	}{
		{">1", OpGT, 1},
		{">= 0.5", OpGE, 0.5},
		{"< -2", OpLT, -2},
		{"<=100", OpLE, 100},
		{"== 0", OpEQ, 0},
		{"!= 3.5", OpNE, 3.5},
		{"  > 1e-3 ", OpGT, 0.001},
	}
	for _, tc := range cases {
		c, err := ParseCondition(tc.in)
		require.NoError(t, err, "condition %q", tc.in)
		assert.Equal(t, tc.op, c.Op, "condition %q", tc.in)
		assert.Equal(t, tc.thr, c.Threshold, "condition %q", tc.in)
	}
}

func TestParseCondition_Bad(t *testing.T) {
	for _, in := range []string{"", "1", "=> 1", "> one", ">"} {
		_, err := ParseCondition(in)
		assert.Error(t, err, "condition %q", in)
	}
}

func TestComparator_Holds(t *testing.T) {
	gt, _ := ParseCondition(">1")
	assert.True(t, gt.Holds(1.01))
	assert.False(t, gt.Holds(1))
	assert.False(t, gt.Holds(0.2))

	ne, _ := ParseCondition("!=0")
	assert.True(t, ne.Holds(-0.1))
	assert.False(t, ne.Holds(0))
}

func TestParseProtocol(t *testing.T) {
	for in, want := range map[string]Protocol{
		"wait":           ProtocolWait,
		"hold":           ProtocolHold,
		"hold-and-retry": ProtocolHold,
		"Abort":          ProtocolAbort,
	} {
		got, err := ParseProtocol(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseProtocol("panic")
	assert.Error(t, err)
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New()
	require.NoError(t, r.Register(&registry.Variable{Name: "Distance r", Kind: registry.Meter, Instrument: "henon", Param: "x"}))
	require.NoError(t, r.Register(&registry.Variable{Name: "Coordinate y", Kind: registry.Meter, Instrument: "henon", Param: "y"}))
	return r
}

func TestAlarm_Check(t *testing.T) {
	reg := newTestRegistry(t)
	cond, _ := ParseCondition(">1")
	a := &Alarm{Name: "overshoot", Variable: "Distance r", Cond: cond, Protocol: ProtocolWait}

	// Undefined variable counts as Clear.
	hit, err := a.Check(reg)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, reg.Set("Distance r", 1.2))
	hit, err = a.Check(reg)
	require.NoError(t, err)
	assert.True(t, hit)

	require.NoError(t, reg.Set("Distance r", 0.8))
	hit, err = a.Check(reg)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestAlarm_UnknownVariable(t *testing.T) {
	reg := newTestRegistry(t)
	cond, _ := ParseCondition(">1")
	a := &Alarm{Name: "ghost", Variable: "missing", Cond: cond}

	_, err := a.Check(reg)
	assert.Error(t, err)
}

func TestMonitor_DeclarationOrderShortCircuit(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.Set("Distance r", 5))
	require.NoError(t, reg.Set("Coordinate y", 5))

	gt1, _ := ParseCondition(">1")
	waitAlarm := &Alarm{Name: "w", Variable: "Distance r", Cond: gt1, Protocol: ProtocolWait}
	abortAlarm := &Alarm{Name: "a", Variable: "Coordinate y", Cond: gt1, Protocol: ProtocolAbort}
	neverChecked := &Alarm{Name: "n", Variable: "Coordinate y", Cond: gt1, Protocol: ProtocolAbort}

	m := NewMonitor([]*Alarm{waitAlarm, abortAlarm, neverChecked})
	triggered, err := m.Triggered(reg)
	require.NoError(t, err)

	// Wait alarms accumulate; the first non-wait alarm stops the scan.
	require.Len(t, triggered, 2)
	assert.Equal(t, "w", triggered[0].Name)
	assert.Equal(t, "a", triggered[1].Name)
}

func TestMonitor_AllClear(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.Set("Distance r", 0.5))

	gt1, _ := ParseCondition(">1")
	m := NewMonitor([]*Alarm{{Name: "w", Variable: "Distance r", Cond: gt1, Protocol: ProtocolWait}})

	triggered, err := m.Triggered(reg)
	require.NoError(t, err)
	assert.Empty(t, triggered)
}
