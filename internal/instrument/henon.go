package instrument

import (
	"context"
	"sync"
)

// HenonMapper is a virtual instrument that iterates the 2D Henon map.
// It exposes the map parameters a and b as knobs and the orbit
// coordinates x and y as meters, which makes it useful for exercising
// the full engine without hardware.
//
// Measuring x advances the map one step:
//
//	x' = 1 - a*x^2 + y
//	y' = b*x
//
// Measuring y returns the current y without advancing, so a tick that
// reads x then y observes one coherent orbit point.
type HenonMapper struct {
	mu   sync.Mutex
	a, b float64
	x, y float64
}

// Canonical Henon parameters, and a start near the unstable fixed point.
const (
	henonDefaultA = 1.4
	henonDefaultB = 0.3
	henonStartX   = 0.63
	henonStartY   = 0.19
)

func init() {
	Register("HenonMapper", func(address string) (Driver, error) {
		// The address is unused: the instrument is purely virtual.
		return NewHenonMapper(), nil
	})
}

// NewHenonMapper creates a HenonMapper at the canonical parameters.
func NewHenonMapper() *HenonMapper {
	return &HenonMapper{
		a: henonDefaultA,
		b: henonDefaultB,
		x: henonStartX,
		y: henonStartY,
	}
}

// Name implements Driver.
func (h *HenonMapper) Name() string { return "HenonMapper" }

// Knobs implements Driver.
func (h *HenonMapper) Knobs() []string { return []string{"a", "b"} }

// Meters implements Driver.
func (h *HenonMapper) Meters() []string { return []string{"x", "y"} }

// Set implements Driver.
func (h *HenonMapper) Set(ctx context.Context, knob string, value float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch knob {
	case "a":
		h.a = value
	case "b":
		h.b = value
	default:
		return &IOError{Instrument: h.Name(), Param: knob, Op: "set"}
	}
	return nil
}

// Measure implements Driver.
func (h *HenonMapper) Measure(ctx context.Context, meter string) (float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch meter {
	case "x":
		xNew := 1 - h.a*h.x*h.x + h.y
		yNew := h.b * h.x
		h.x, h.y = xNew, yNew
		return h.x, nil
	case "y":
		return h.y, nil
	default:
		return 0, &IOError{Instrument: h.Name(), Param: meter, Op: "measure"}
	}
}

// Disconnect implements Driver. The HenonMapper holds no connection.
func (h *HenonMapper) Disconnect() error { return nil }
