package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/xconform/internal/ir"
	"github.com/roach88/xconform/internal/matrix"
)

var (
	// ErrRunNotFound is returned when no run has the requested ID.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunNotRunning is returned when finishing a run that already finished
	// or does not exist.
	ErrRunNotRunning = errors.New("run is not running")
)

const runColumns = `id, started_at, finished_at, state, params, host`

// GetRun retrieves a run by ID.
// Returns ErrRunNotFound if no such run exists.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE id = ?
	`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("get run %s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

// LatestRun returns the most recently started run.
// Returns ErrRunNotFound on an empty store.
func (s *Store) LatestRun(ctx context.Context) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY started_at DESC, id COLLATE BINARY DESC
		LIMIT 1
	`)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("latest run: %w", ErrRunNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("latest run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first. A limit of zero or less lists all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY started_at DESC, id COLLATE BINARY DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// ReadCatalogs returns the catalogs recorded for a run, ordered by suite.
func (s *Store) ReadCatalogs(ctx context.Context, runID string) ([]CatalogInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT suite, format, path, digest, cases
		FROM catalogs
		WHERE run_id = ?
		ORDER BY suite COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("read catalogs: %w", err)
	}
	defer rows.Close()

	var cats []CatalogInfo
	for rows.Next() {
		var c CatalogInfo
		if err := rows.Scan(&c.Suite, &c.Format, &c.Path, &c.Digest, &c.Cases); err != nil {
			return nil, fmt.Errorf("read catalogs: %w", err)
		}
		cats = append(cats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read catalogs: %w", err)
	}
	return cats, nil
}

// ReadReport rebuilds the compliance matrix of a stored run.
// The report is partial unless the run finished in the complete state.
func (s *Store) ReadReport(ctx context.Context, runID string) (matrix.Report, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return matrix.Report{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT engine, suite, test_set, test_case, status, elapsed_ns, message
		FROM results
		WHERE run_id = ?
		ORDER BY engine COLLATE BINARY, suite COLLATE BINARY,
		         test_set COLLATE BINARY, test_case COLLATE BINARY
	`, runID)
	if err != nil {
		return matrix.Report{}, fmt.Errorf("read report %s: %w", runID, err)
	}
	defer rows.Close()

	m := matrix.New()
	for rows.Next() {
		var engine, suite string
		r, err := scanResult(rows, &engine, &suite)
		if err != nil {
			return matrix.Report{}, fmt.Errorf("read report %s: %w", runID, err)
		}
		if err := m.Record(engine, suite, r); err != nil {
			return matrix.Report{}, fmt.Errorf("read report %s: %w", runID, err)
		}
	}
	if err := rows.Err(); err != nil {
		return matrix.Report{}, fmt.Errorf("read report %s: %w", runID, err)
	}

	if run.State == RunComplete {
		m.Complete()
	}
	return m.Snapshot(), nil
}

// CaseRecord is one historical outcome of a case.
type CaseRecord struct {
	RunID     string
	StartedAt time.Time
	Engine    string
	Result    ir.TestResult
}

// CaseHistory returns the outcomes of one case across runs, newest run
// first. A limit of zero or less returns all of them.
func (s *Store) CaseHistory(ctx context.Context, suite, set, name string, limit int) ([]CaseRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.run_id, runs.started_at, r.engine, r.suite,
		       r.test_set, r.test_case, r.status, r.elapsed_ns, r.message
		FROM results r
		JOIN runs ON runs.id = r.run_id
		WHERE r.suite = ? AND r.test_set = ? AND r.test_case = ?
		ORDER BY runs.started_at DESC, r.run_id COLLATE BINARY DESC,
		         r.engine COLLATE BINARY ASC
		LIMIT ?
	`, suite, set, name, limit)
	if err != nil {
		return nil, fmt.Errorf("case history: %w", err)
	}
	defer rows.Close()

	var history []CaseRecord
	for rows.Next() {
		var rec CaseRecord
		var started, suiteName string
		if err := rows.Scan(&rec.RunID, &started, &rec.Engine, &suiteName,
			&rec.Result.Set, &rec.Result.Case, &rec.Result.Status,
			(*int64)(&rec.Result.Elapsed), &rec.Result.Message); err != nil {
			return nil, fmt.Errorf("case history: %w", err)
		}
		if rec.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("case history: %w", err)
		}
		history = append(history, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("case history: %w", err)
	}
	return history, nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var run Run
	var started, state, params, host string
	var finished sql.NullString

	if err := row.Scan(&run.ID, &started, &finished, &state, &params, &host); err != nil {
		return Run{}, err
	}

	var err error
	if run.StartedAt, err = parseTime(started); err != nil {
		return Run{}, err
	}
	if finished.Valid {
		if run.FinishedAt, err = parseTime(finished.String); err != nil {
			return Run{}, err
		}
	}
	run.State = RunState(state)
	if run.Params, err = unmarshalObject(params); err != nil {
		return Run{}, err
	}
	if run.Host, err = unmarshalObject(host); err != nil {
		return Run{}, err
	}
	return run, nil
}

func scanResult(row scanner, engine, suite *string) (ir.TestResult, error) {
	var r ir.TestResult
	var status string
	var elapsed int64
	if err := row.Scan(engine, suite, &r.Set, &r.Case, &status, &elapsed, &r.Message); err != nil {
		return ir.TestResult{}, err
	}
	r.Status = ir.Status(status)
	r.Elapsed = time.Duration(elapsed)
	return r, nil
}
