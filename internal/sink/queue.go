package sink

import (
	"sync"
	"sync/atomic"
)

// queue is a bounded FIFO of snapshots with drop-oldest overflow.
//
// The tick loop enqueues; one dispatcher goroutine dequeues. When the
// queue is at capacity, the oldest queued-but-unconsumed snapshot is
// dropped and the drop counter incremented: fresh telemetry is worth
// more than stale telemetry, and the producer must never block.
type queue struct {
	mu     sync.Mutex
	snaps  []Snapshot
	cap    int
	closed bool
	signal chan struct{} // coalesced availability signal (buffered, size 1)

	dropped atomic.Int64
}

func newQueue(capacity int) *queue {
	if capacity < 1 {
		capacity = 1
	}
	return &queue{
		snaps:  make([]Snapshot, 0, capacity),
		cap:    capacity,
		signal: make(chan struct{}, 1),
	}
}

// enqueue adds a snapshot, dropping the oldest if at capacity.
// Returns false if the queue is closed.
func (q *queue) enqueue(s Snapshot) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	if len(q.snaps) >= q.cap {
		// Drop the oldest; shift keeps FIFO order.
		copy(q.snaps, q.snaps[1:])
		q.snaps = q.snaps[:len(q.snaps)-1]
		q.dropped.Add(1)
	}
	q.snaps = append(q.snaps, s)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// tryDequeue removes the front snapshot without blocking.
func (q *queue) tryDequeue() (Snapshot, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.snaps) == 0 {
		return Snapshot{}, false
	}
	s := q.snaps[0]
	copy(q.snaps, q.snaps[1:])
	// Release the map reference so the GC can collect consumed values.
	q.snaps[len(q.snaps)-1] = Snapshot{}
	q.snaps = q.snaps[:len(q.snaps)-1]
	return s, true
}

// wait returns the availability signal channel. The channel is closed
// when the queue closes, so waiters always wake up.
func (q *queue) wait() <-chan struct{} { return q.signal }

// close marks the queue closed and wakes any waiter. Enqueues after
// close are rejected; remaining snapshots can still be drained.
func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.snaps)
}

// droppedCount returns how many snapshots were discarded to make room.
func (q *queue) droppedCount() int64 { return q.dropped.Load() }
