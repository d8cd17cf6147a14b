package store

import (
	"context"
	"fmt"
	"time"
)

// RunRecord is one row of the runs table.
type RunRecord struct {
	ID        string
	Runcard   string
	StartedAt time.Time
	EndedAt   *time.Time
	Outcome   *string
}

// ReadRun loads a run's metadata.
func (s *Store) ReadRun(ctx context.Context, runID string) (RunRecord, error) {
	var (
		rec            RunRecord
		started        string
		ended, outcome *string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, runcard, started_at, ended_at, outcome FROM runs WHERE id = ?`, runID,
	).Scan(&rec.ID, &rec.Runcard, &started, &ended, &outcome)
	if err != nil {
		return RunRecord{}, fmt.Errorf("read run %s: %w", runID, err)
	}

	rec.StartedAt, err = time.Parse(time.RFC3339, started)
	if err != nil {
		return RunRecord{}, fmt.Errorf("read run %s: bad started_at: %w", runID, err)
	}
	if ended != nil {
		t, err := time.Parse(time.RFC3339, *ended)
		if err != nil {
			return RunRecord{}, fmt.Errorf("read run %s: bad ended_at: %w", runID, err)
		}
		rec.EndedAt = &t
	}
	rec.Outcome = outcome
	return rec, nil
}

// SnapshotRow is one (tick, variable, value) sample.
type SnapshotRow struct {
	Tick     int64
	Elapsed  float64
	Variable string
	Value    float64
}

// ReadSnapshots returns all snapshot rows of a run ordered by tick,
// then variable name.
func (s *Store) ReadSnapshots(ctx context.Context, runID string) ([]SnapshotRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tick, elapsed, variable, value
		FROM snapshots
		WHERE run_id = ?
		ORDER BY tick, variable`, runID)
	if err != nil {
		return nil, fmt.Errorf("read snapshots of %s: %w", runID, err)
	}
	defer rows.Close()

	var out []SnapshotRow
	for rows.Next() {
		var r SnapshotRow
		if err := rows.Scan(&r.Tick, &r.Elapsed, &r.Variable, &r.Value); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountTicks returns how many distinct ticks a run persisted.
func (s *Store) CountTicks(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT tick) FROM snapshots WHERE run_id = ?`, runID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count ticks of %s: %w", runID, err)
	}
	return n, nil
}
