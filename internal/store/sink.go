package store

import (
	"context"

	"github.com/quenchlab/rig/internal/sink"
)

// SnapshotSink adapts the Store to the sink.Sink interface, making the
// database the save sink of an experiment run.
type SnapshotSink struct {
	store *Store
}

// NewSnapshotSink creates the save sink over an open store. The store's
// lifetime is owned by the caller.
func NewSnapshotSink(s *Store) *SnapshotSink {
	return &SnapshotSink{store: s}
}

// Name implements sink.Sink.
func (s *SnapshotSink) Name() string { return "sqlite" }

// Write implements sink.Sink.
func (s *SnapshotSink) Write(ctx context.Context, snap sink.Snapshot) error {
	return s.store.WriteSnapshot(ctx, snap)
}

// Flush implements sink.Sink. SQLite commits per snapshot; nothing is
// buffered here.
func (s *SnapshotSink) Flush(ctx context.Context) error { return nil }
