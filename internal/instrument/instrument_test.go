package instrument

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_New(t *testing.T) {
	d, err := New("HenonMapper", "")
	require.NoError(t, err)
	assert.Equal(t, "HenonMapper", d.Name())
	assert.Equal(t, []string{"a", "b"}, d.Knobs())
	assert.Equal(t, []string{"x", "y"}, d.Meters())
}

func TestRegistry_UnknownType(t *testing.T) {
	_, err := New("NoSuchHardware", "COM3")
	require.Error(t, err)
	var ute *UnknownTypeError
	require.ErrorAs(t, err, &ute)
	assert.Equal(t, "NoSuchHardware", ute.TypeName)
	assert.Contains(t, ute.Known, "HenonMapper")
}

func TestHenonMapper_Orbit(t *testing.T) {
	ctx := context.Background()
	h := NewHenonMapper()

	// First measurement from the canonical start point.
	x, err := h.Measure(ctx, "x")
	require.NoError(t, err)
	assert.InDelta(t, 1-1.4*0.63*0.63+0.19, x, 1e-12)

	// y reflects the same orbit point and does not advance the map.
	y1, err := h.Measure(ctx, "y")
	require.NoError(t, err)
	y2, err := h.Measure(ctx, "y")
	require.NoError(t, err)
	assert.Equal(t, y1, y2)
	assert.InDelta(t, 0.3*0.63, y1, 1e-12)
}

func TestHenonMapper_Knobs(t *testing.T) {
	ctx := context.Background()
	h := NewHenonMapper()

	require.NoError(t, h.Set(ctx, "a", 1.0))
	require.NoError(t, h.Set(ctx, "b", 0.3))

	// With a=1.0 the first step is x' = 1 - 1.0*0.63^2 + 0.19.
	x, err := h.Measure(ctx, "x")
	require.NoError(t, err)
	assert.InDelta(t, 1-0.63*0.63+0.19, x, 1e-12)
}

func TestHenonMapper_UnknownParams(t *testing.T) {
	ctx := context.Background()
	h := NewHenonMapper()

	err := h.Set(ctx, "c", 1)
	assert.True(t, IsIOError(err))

	_, err = h.Measure(ctx, "z")
	assert.True(t, IsIOError(err))
}

func TestHasKnobHasMeter(t *testing.T) {
	h := NewHenonMapper()
	assert.True(t, HasKnob(h, "a"))
	assert.False(t, HasKnob(h, "x"))
	assert.True(t, HasMeter(h, "y"))
	assert.False(t, HasMeter(h, "b"))
}
