// Package sink carries timestamped variable snapshots from the tick
// loop to their consumers (persistence, plot files) without ever
// blocking instrument control.
//
// Snapshots are best-effort telemetry: each sink sits behind a bounded
// queue, and when a queue is full the oldest unconsumed snapshot is
// dropped and counted. The tick loop's Emit never blocks.
package sink

import (
	"context"
	"time"
)

// Snapshot is one immutable timestamped set of variable values. Values
// is owned by the snapshot; producers hand over a fresh map and never
// mutate it afterwards.
type Snapshot struct {
	// RunID identifies the experiment run this snapshot belongs to.
	RunID string

	// Tick is the scheduler tick that produced the snapshot.
	Tick int64

	// Elapsed is experiment time in seconds, excluding paused stoppage.
	Elapsed float64

	// Wall is the wall-clock time of the tick.
	Wall time.Time

	// Values maps variable name to its post-refresh value for the tick.
	// Variables still undefined at snapshot time are absent.
	Values map[string]float64
}

// Sink consumes an ordered stream of snapshots. Write runs on the
// dispatcher goroutine, off the tick loop, so it may block on disk or
// rendering without stalling instrument control.
type Sink interface {
	// Name identifies the sink in logs and metrics labels.
	Name() string

	// Write consumes one snapshot.
	Write(ctx context.Context, snap Snapshot) error

	// Flush finalizes any buffered output. Called once at run end.
	Flush(ctx context.Context) error
}
