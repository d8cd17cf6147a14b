package routine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimecourse_Interpolation(t *testing.T) {
	tc, err := NewTimecourse("warmup", "Parameter a",
		[]float64{0, 3, 5.001, 60},
		[]float64{0.0, 0.0, 1.4, 1.4})
	require.NoError(t, err)

	// Flat segment.
	assert.Equal(t, 0.0, tc.Value(0))
	assert.Equal(t, 0.0, tc.Value(2))
	assert.Equal(t, 0.0, tc.Value(3))

	// Mid-ramp: strictly between the endpoints.
	v := tc.Value(4)
	assert.Greater(t, v, 0.0)
	assert.Less(t, v, 1.4)
	assert.InDelta(t, 1.4*(4-3)/(5.001-3), v, 1e-12)

	// Clamped at and beyond the final point.
	assert.Equal(t, 1.4, tc.Value(60))
	assert.Equal(t, 1.4, tc.Value(1e6))
}

func TestTimecourse_ClampsBeforeStart(t *testing.T) {
	tc, err := NewTimecourse("late", "k", []float64{10, 20}, []float64{2, 4})
	require.NoError(t, err)
	assert.Equal(t, 2.0, tc.Value(0))
	assert.Equal(t, 2.0, tc.Value(10))
	assert.Equal(t, 3.0, tc.Value(15))
}

func TestTimecourse_ExactControlPoint(t *testing.T) {
	tc, err := NewTimecourse("r", "k", []float64{0, 2, 4}, []float64{0, 10, 0})
	require.NoError(t, err)
	assert.Equal(t, 10.0, tc.Value(2))
}

func TestTimecourse_StepDiscontinuity(t *testing.T) {
	// Equal adjacent times form a step; just past it the later value wins.
	tc, err := NewTimecourse("step", "k", []float64{0, 1, 1, 2}, []float64{0, 0, 5, 5})
	require.NoError(t, err)
	assert.Equal(t, 0.0, tc.Value(0.5))
	assert.Equal(t, 5.0, tc.Value(1.5))
}

func TestTimecourse_Complete(t *testing.T) {
	tc, err := NewTimecourse("r", "k", []float64{0, 60}, []float64{0, 1})
	require.NoError(t, err)
	assert.False(t, tc.CompleteAt(0))
	assert.False(t, tc.CompleteAt(60))
	assert.True(t, tc.CompleteAt(60.01))
	assert.Equal(t, 60.0, tc.Duration())
}

func TestTimecourse_Validation(t *testing.T) {
	_, err := NewTimecourse("r", "k", []float64{}, []float64{})
	assert.Error(t, err)

	_, err = NewTimecourse("r", "k", []float64{0, 1}, []float64{0})
	assert.Error(t, err)

	_, err = NewTimecourse("r", "k", []float64{5, 1}, []float64{0, 1})
	assert.Error(t, err)
}

func TestStateAt(t *testing.T) {
	tc, err := NewTimecourse("r", "k", []float64{2, 4}, []float64{0, 1})
	require.NoError(t, err)

	assert.Equal(t, Pending, StateAt(tc, 1))
	assert.Equal(t, Active, StateAt(tc, 3))
	assert.Equal(t, Complete, StateAt(tc, 5))
}

func TestHold(t *testing.T) {
	h, err := NewHold("h", "k", 1, 5, 7.5)
	require.NoError(t, err)

	assert.Equal(t, 7.5, h.Value(0))
	assert.Equal(t, 7.5, h.Value(3))
	assert.False(t, h.CompleteAt(5))
	assert.True(t, h.CompleteAt(5.1))
	assert.Equal(t, Pending, StateAt(h, 0.5))
}

func TestRamp(t *testing.T) {
	r, err := NewRamp("warm", "k", 0, 10, 0, 100)
	require.NoError(t, err)

	assert.Equal(t, 0.0, r.Value(0))
	assert.Equal(t, 50.0, r.Value(5))
	assert.Equal(t, 100.0, r.Value(10))
	assert.Equal(t, 100.0, r.Value(11))
	assert.True(t, r.CompleteAt(10.5))

	_, err = NewRamp("bad", "k", 5, 5, 0, 1)
	assert.Error(t, err)
}

func TestSweep_CyclesThroughValues(t *testing.T) {
	s, err := NewSweep("scan", "k", 0, 100, []float64{1, 2, 3})
	require.NoError(t, err)

	// One step per sample, wrapping after the last value.
	got := make([]float64, 0, 7)
	for i := 0; i < 7; i++ {
		got = append(got, s.Value(float64(i)))
	}
	assert.Equal(t, []float64{1, 2, 3, 1, 2, 3, 1}, got)

	assert.False(t, s.CompleteAt(100))
	assert.True(t, s.CompleteAt(100.1))
}

func TestSweep_HoldsFirstValueBeforeStart(t *testing.T) {
	s, err := NewSweep("scan", "k", 10, 20, []float64{5, 6})
	require.NoError(t, err)

	// Pre-window samples do not consume steps.
	assert.Equal(t, 5.0, s.Value(0))
	assert.Equal(t, 5.0, s.Value(9))
	assert.Equal(t, Pending, StateAt(s, 9))

	assert.Equal(t, 5.0, s.Value(10))
	assert.Equal(t, 6.0, s.Value(11))
}

func TestSweep_Validation(t *testing.T) {
	_, err := NewSweep("scan", "k", 0, 10, nil)
	assert.Error(t, err)

	_, err = NewSweep("scan", "k", 10, 10, []float64{1})
	assert.Error(t, err)
}

func TestCheckConflicts(t *testing.T) {
	a, _ := NewTimecourse("a", "knob1", []float64{0, 1}, []float64{0, 1})
	b, _ := NewTimecourse("b", "knob2", []float64{0, 1}, []float64{0, 1})
	c, _ := NewTimecourse("c", "knob1", []float64{0, 1}, []float64{0, 1})

	assert.NoError(t, CheckConflicts([]Routine{a, b}))

	err := CheckConflicts([]Routine{a, b, c})
	var ce *ConflictingRoutineError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "knob1", ce.Target)
	assert.Equal(t, []string{"a", "c"}, ce.Routines)
}
