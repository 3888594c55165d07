// Package matrix aggregates test results into an engine × suite compliance
// matrix and renders it as reports.
//
// Matrix is the single writer; every runner goroutine records into it.
// Renderers work from a Report, an immutable snapshot, so a report can be
// produced mid-run without blocking recording.
package matrix

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/xconform/internal/ir"
)

// ErrDuplicateResult is returned when a result for the same engine, suite
// and case has already been recorded.
var ErrDuplicateResult = errors.New("duplicate result")

type key struct {
	engine string
	suite  string
}

// Matrix collects results. It is safe for concurrent use.
type Matrix struct {
	mu       sync.Mutex
	results  map[key][]ir.TestResult
	seen     map[key]map[string]struct{}
	complete bool
	metrics  *Metrics
}

// Option configures a Matrix.
type Option func(*Matrix)

// WithMetrics observes every recorded result in m.
func WithMetrics(m *Metrics) Option {
	return func(mx *Matrix) { mx.metrics = m }
}

// New creates an empty matrix. It reports Partial until Complete is called.
func New(opts ...Option) *Matrix {
	m := &Matrix{
		results: make(map[key][]ir.TestResult),
		seen:    make(map[key]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Record adds one result. A result with an unknown status or a repeated
// (engine, suite, case) identity is rejected.
func (m *Matrix) Record(engine, suite string, r ir.TestResult) error {
	if !r.Status.Valid() {
		return fmt.Errorf("result %s: invalid status %q", r.ID(), r.Status)
	}
	k := key{engine: engine, suite: suite}

	m.mu.Lock()
	ids := m.seen[k]
	if ids == nil {
		ids = make(map[string]struct{})
		m.seen[k] = ids
	}
	if _, dup := ids[r.ID()]; dup {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s on %s/%s", ErrDuplicateResult, r.ID(), engine, suite)
	}
	ids[r.ID()] = struct{}{}
	m.results[k] = append(m.results[k], r)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.Observe(engine, suite, r)
	}
	return nil
}

// Complete marks the run as finished. Snapshots taken afterwards are not
// partial.
func (m *Matrix) Complete() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.complete = true
}

// Snapshot returns a copy of the current state, independent of the order
// results arrived in.
func (m *Matrix) Snapshot() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	rep := Report{Partial: !m.complete}
	for k, rs := range m.results {
		results := slices.Clone(rs)
		slices.SortFunc(results, func(a, b ir.TestResult) int {
			return strings.Compare(a.ID(), b.ID())
		})
		rep.Rows = append(rep.Rows, Row{
			Engine:  k.engine,
			Suite:   k.suite,
			Counts:  count(results),
			Results: results,
		})
	}
	sortRows(rep.Rows)
	return rep
}

// Report is an immutable view of a matrix.
type Report struct {
	// Partial is set while the run is in progress or after it was cancelled.
	Partial bool  `json:"partial"`
	Rows    []Row `json:"rows"`
}

// Row is one engine × suite cell.
type Row struct {
	Engine  string          `json:"engine"`
	Suite   string          `json:"suite"`
	Counts  Counts          `json:"counts"`
	Results []ir.TestResult `json:"results"`
}

// Counts tallies results by status.
type Counts struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// PassRate is passed / (total - skipped) as a percentage rounded to one
// decimal place. It is 0 when every case was skipped.
func (c Counts) PassRate() float64 {
	denom := c.Total - c.Skipped
	if denom <= 0 {
		return 0
	}
	return math.Round(float64(c.Passed)*1000/float64(denom)) / 10
}

// FormatRate renders a pass rate as "66.7%".
func FormatRate(rate float64) string {
	return fmt.Sprintf("%.1f%%", rate)
}

func count(results []ir.TestResult) Counts {
	c := Counts{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case ir.StatusPassed:
			c.Passed++
		case ir.StatusFailed:
			c.Failed++
		case ir.StatusSkipped:
			c.Skipped++
		case ir.StatusError:
			c.Errors++
		}
	}
	return c
}

// Failures returns the failed and errored results of the row.
func (r Row) Failures() []ir.TestResult {
	var out []ir.TestResult
	for _, res := range r.Results {
		if res.Status == ir.StatusFailed || res.Status == ir.StatusError {
			out = append(out, res)
		}
	}
	return out
}

// Digest identifies the row's statuses, ignoring timings and messages.
func (r Row) Digest() (string, error) {
	return ir.ResultDigest(r.Results)
}

// Row returns the row for engine and suite.
func (rep Report) Row(engine, suite string) (Row, bool) {
	for _, r := range rep.Rows {
		if r.Engine == engine && r.Suite == suite {
			return r, true
		}
	}
	return Row{}, false
}

// Engines returns the engine names present, sorted.
func (rep Report) Engines() []string {
	var names []string
	for _, r := range rep.Rows {
		if !slices.Contains(names, r.Engine) {
			names = append(names, r.Engine)
		}
	}
	slices.Sort(names)
	return names
}

// Suites returns the suite names present, sorted.
func (rep Report) Suites() []string {
	var names []string
	for _, r := range rep.Rows {
		if !slices.Contains(names, r.Suite) {
			names = append(names, r.Suite)
		}
	}
	slices.Sort(names)
	return names
}

// Totals sums the counts of every row.
func (rep Report) Totals() Counts {
	var c Counts
	for _, r := range rep.Rows {
		c.Total += r.Counts.Total
		c.Passed += r.Counts.Passed
		c.Failed += r.Counts.Failed
		c.Skipped += r.Counts.Skipped
		c.Errors += r.Counts.Errors
	}
	return c
}

func sortRows(rows []Row) {
	slices.SortFunc(rows, func(a, b Row) int {
		if c := strings.Compare(a.Engine, b.Engine); c != 0 {
			return c
		}
		return strings.Compare(a.Suite, b.Suite)
	})
}
