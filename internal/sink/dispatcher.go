package sink

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultQueueCapacity bounds each sink's snapshot queue. Sized for
// minutes of backlog at typical save intervals; beyond that, dropping
// stale telemetry beats stalling the control loop.
const DefaultQueueCapacity = 256

// Dispatcher fans snapshots out to sinks, one consumer goroutine and
// one bounded queue per sink. Emit is non-blocking and safe to call
// from the tick loop; sink I/O happens on the consumer goroutines.
type Dispatcher struct {
	outputs []*output
	wg      sync.WaitGroup
	closed  bool
	mu      sync.Mutex
}

type output struct {
	sink Sink
	q    *queue
}

// NewDispatcher creates a dispatcher over the given sinks with the
// given per-sink queue capacity (DefaultQueueCapacity if <= 0) and
// starts one consumer goroutine per sink.
func NewDispatcher(sinks []Sink, capacity int) *Dispatcher {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}

	d := &Dispatcher{}
	for _, s := range sinks {
		out := &output{sink: s, q: newQueue(capacity)}
		d.outputs = append(d.outputs, out)
		d.wg.Add(1)
		go d.consume(out)
	}
	return d
}

// Emit hands a snapshot to every sink queue. Never blocks: a full
// queue drops its oldest entry instead.
func (d *Dispatcher) Emit(snap Snapshot) {
	for _, out := range d.outputs {
		before := out.q.droppedCount()
		if out.q.enqueue(snap) {
			snapshotsEmitted.WithLabelValues(out.sink.Name()).Inc()
		}
		if dropped := out.q.droppedCount() - before; dropped > 0 {
			snapshotsDropped.WithLabelValues(out.sink.Name()).Add(float64(dropped))
			slog.Warn("snapshot dropped: sink queue full",
				"sink", out.sink.Name(),
				"tick", snap.Tick,
				"dropped_total", out.q.droppedCount(),
			)
		}
	}
}

// Dropped returns the total snapshots dropped across all sinks.
func (d *Dispatcher) Dropped() int64 {
	var total int64
	for _, out := range d.outputs {
		total += out.q.droppedCount()
	}
	return total
}

// Close stops accepting snapshots, drains every queue, flushes every
// sink, and waits for the consumers to exit. The context bounds the
// drain; on expiry remaining snapshots are abandoned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	for _, out := range d.outputs {
		out.q.close()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		slog.Error("sink drain timed out", "error", ctx.Err())
		return ctx.Err()
	}

	var firstErr error
	for _, out := range d.outputs {
		if err := out.sink.Flush(ctx); err != nil {
			slog.Error("sink flush failed", "sink", out.sink.Name(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// consume drains one queue until it is closed and empty.
func (d *Dispatcher) consume(out *output) {
	defer d.wg.Done()

	// Sink writes get their own context: the tick loop's cancellation
	// must not abort in-flight persistence of already-emitted data.
	ctx := context.Background()

	for {
		snap, ok := out.q.tryDequeue()
		if ok {
			start := time.Now()
			if err := out.sink.Write(ctx, snap); err != nil {
				sinkWriteFailures.WithLabelValues(out.sink.Name()).Inc()
				slog.Error("sink write failed",
					"sink", out.sink.Name(),
					"tick", snap.Tick,
					"error", err,
				)
			}
			slog.Debug("snapshot consumed",
				"sink", out.sink.Name(),
				"tick", snap.Tick,
				"write_ms", time.Since(start).Milliseconds(),
			)
			continue
		}

		// Queue empty: wait for a signal. The channel closes when the
		// queue closes, so this always wakes up for shutdown.
		if _, open := <-out.q.wait(); !open {
			// Drain whatever arrived before close.
			for {
				snap, ok := out.q.tryDequeue()
				if !ok {
					return
				}
				if err := out.sink.Write(ctx, snap); err != nil {
					sinkWriteFailures.WithLabelValues(out.sink.Name()).Inc()
					slog.Error("sink write failed during drain",
						"sink", out.sink.Name(),
						"tick", snap.Tick,
						"error", err,
					)
				}
			}
		}
	}
}
