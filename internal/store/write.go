package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/xconform/internal/ir"
)

// RunState is the lifecycle state of a stored run.
type RunState string

const (
	RunRunning   RunState = "running"
	RunComplete  RunState = "complete"
	RunCancelled RunState = "cancelled"
	RunFailed    RunState = "failed"
)

// Run is one invocation of the harness.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
	State      RunState
	Params     map[string]any
	Host       map[string]any
}

// CatalogInfo identifies the catalog a suite was loaded from.
type CatalogInfo struct {
	Suite  string
	Format string
	Path   string
	Digest string
	Cases  int
}

// BeginRun inserts a run in the running state.
// Params and Host are serialized to canonical JSON.
func (s *Store) BeginRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return fmt.Errorf("begin run: empty run id")
	}
	params, err := marshalObject(run.Params)
	if err != nil {
		return fmt.Errorf("begin run %s: params: %w", run.ID, err)
	}
	host, err := marshalObject(run.Host)
	if err != nil {
		return fmt.Errorf("begin run %s: host: %w", run.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, state, params, host)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, formatTime(run.StartedAt), string(RunRunning), params, host)
	if err != nil {
		return fmt.Errorf("begin run %s: %w", run.ID, err)
	}
	return nil
}

// WriteCatalog records the catalog a suite of the run was loaded from.
func (s *Store) WriteCatalog(ctx context.Context, runID string, cat CatalogInfo) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO catalogs (run_id, suite, format, path, digest, cases)
		VALUES (?, ?, ?, ?, ?, ?)
	`, runID, cat.Suite, cat.Format, cat.Path, cat.Digest, cat.Cases)
	if err != nil {
		return fmt.Errorf("write catalog %s: %w", cat.Suite, err)
	}
	return nil
}

// WriteResult inserts one case outcome.
// A second result for the same (engine, suite, case) in a run violates the
// primary key and is returned as an error, never silently dropped.
func (s *Store) WriteResult(ctx context.Context, runID, engine, suite string, r ir.TestResult) error {
	if !r.Status.Valid() {
		return fmt.Errorf("write result %s: invalid status %q", r.ID(), r.Status)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO results (run_id, engine, suite, test_set, test_case, status, elapsed_ns, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, engine, suite, r.Set, r.Case, string(r.Status), int64(r.Elapsed), r.Message)
	if err != nil {
		return fmt.Errorf("write result %s: %w", r.ID(), err)
	}
	return nil
}

// FinishRun moves a running run to its final state.
func (s *Store) FinishRun(ctx context.Context, runID string, state RunState, at time.Time) error {
	switch state {
	case RunComplete, RunCancelled, RunFailed:
	default:
		return fmt.Errorf("finish run %s: invalid final state %q", runID, state)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET state = ?, finished_at = ?
		WHERE id = ? AND state = ?
	`, string(state), formatTime(at), runID, string(RunRunning))
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	if n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrRunNotRunning)
	}
	return nil
}
