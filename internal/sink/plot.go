package sink

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PlotSeries is one plot declared in the runcard. X and Y name
// variables, or the literal "Time" for elapsed experiment time.
// Display hints (labels, style, marker) are opaque to the engine and
// are recorded verbatim in the data file header for the renderer.
type PlotSeries struct {
	Name  string
	X     string
	Y     string
	Hints map[string]string
}

// TimeAxis is the literal axis name for elapsed experiment time.
const TimeAxis = "Time"

// PlotSink appends snapshot points to one whitespace-separated data
// file per declared plot, in gnuplot-friendly form. Rendering itself
// is out of scope; the files are the hand-off surface.
type PlotSink struct {
	dir    string
	series []PlotSeries

	files   map[string]*os.File
	writers map[string]*bufio.Writer
}

// NewPlotSink creates a plot sink writing under dir, one
// "<plot name>.dat" file per series. The directory is created if
// needed.
func NewPlotSink(dir string, series []PlotSeries) (*PlotSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create plot dir: %w", err)
	}

	p := &PlotSink{
		dir:     dir,
		series:  series,
		files:   make(map[string]*os.File, len(series)),
		writers: make(map[string]*bufio.Writer, len(series)),
	}

	for _, s := range series {
		path := filepath.Join(dir, fileName(s.Name))
		f, err := os.Create(path)
		if err != nil {
			p.closeAll()
			return nil, fmt.Errorf("create plot file %s: %w", path, err)
		}
		w := bufio.NewWriter(f)
		fmt.Fprintf(w, "# plot: %s\n", s.Name)
		fmt.Fprintf(w, "# x: %s\n# y: %s\n", s.X, s.Y)
		for k, v := range s.Hints {
			fmt.Fprintf(w, "# %s: %s\n", k, v)
		}
		p.files[s.Name] = f
		p.writers[s.Name] = w
	}
	return p, nil
}

// Name implements Sink.
func (p *PlotSink) Name() string { return "plot" }

// Write implements Sink. Points whose variables are missing from the
// snapshot (still undefined early in a run) are skipped for that plot.
func (p *PlotSink) Write(ctx context.Context, snap Snapshot) error {
	for _, s := range p.series {
		x, ok := axisValue(snap, s.X)
		if !ok {
			continue
		}
		y, ok := axisValue(snap, s.Y)
		if !ok {
			continue
		}
		if _, err := fmt.Fprintf(p.writers[s.Name], "%g %g\n", x, y); err != nil {
			return fmt.Errorf("plot %q: %w", s.Name, err)
		}
	}
	return nil
}

// Flush implements Sink: flushes buffers and closes the data files.
func (p *PlotSink) Flush(ctx context.Context) error {
	var firstErr error
	for name, w := range p.writers {
		if err := w.Flush(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("flush plot %q: %w", name, err)
		}
	}
	if err := p.closeAll(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (p *PlotSink) closeAll() error {
	var firstErr error
	for _, f := range p.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.files = map[string]*os.File{}
	return firstErr
}

func axisValue(snap Snapshot, axis string) (float64, bool) {
	if axis == TimeAxis {
		return snap.Elapsed, true
	}
	v, ok := snap.Values[axis]
	return v, ok
}

// fileName flattens a plot name into a safe file name.
func fileName(plot string) string {
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '_'
		}
		return r
	}, plot)
	return safe + ".dat"
}
