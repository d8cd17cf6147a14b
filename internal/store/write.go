package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quenchlab/rig/internal/sink"
)

// Run outcomes recorded in the runs table.
const (
	OutcomeCompleted = "completed"
	OutcomeAborted   = "aborted"
	OutcomeStopped   = "stopped"
	OutcomeFailed    = "failed"
)

// BeginRun records the start of an experiment run and returns its
// generated run ID. UUIDv7 keeps run IDs time-ordered, which makes ad
// hoc queries over the runs table read chronologically.
func (s *Store) BeginRun(ctx context.Context, runcard string, startedAt time.Time) (string, error) {
	id := uuid.Must(uuid.NewV7()).String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, runcard, started_at) VALUES (?, ?, ?)`,
		id, runcard, startedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return "", fmt.Errorf("begin run: %w", err)
	}
	return id, nil
}

// FinishRun stamps a run's end time and outcome.
func (s *Store) FinishRun(ctx context.Context, runID, outcome string, endedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET ended_at = ?, outcome = ? WHERE id = ?`,
		endedAt.UTC().Format(time.RFC3339), outcome, runID,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("finish run %s: no such run", runID)
	}
	return nil
}

// WriteSnapshot persists one snapshot in a single transaction, one row
// per variable. Re-writing the same (run, tick) is idempotent via
// INSERT OR REPLACE, which keeps a crashed-and-replayed drain safe.
func (s *Store) WriteSnapshot(ctx context.Context, snap sink.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO snapshots (run_id, tick, elapsed, wall, variable, value)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare snapshot insert: %w", err)
	}
	defer stmt.Close()

	wall := snap.Wall.UTC().Format(time.RFC3339Nano)
	for variable, value := range snap.Values {
		if _, err := stmt.ExecContext(ctx, snap.RunID, snap.Tick, snap.Elapsed, wall, variable, value); err != nil {
			return fmt.Errorf("insert snapshot tick=%d var=%q: %w", snap.Tick, variable, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot tick=%d: %w", snap.Tick, err)
	}
	return nil
}
